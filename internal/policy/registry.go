package policy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pwa-marketplace/backend/internal/infrastructure/logging"
	"github.com/pwa-marketplace/backend/internal/infrastructure/monitoring"
	"github.com/pwa-marketplace/backend/internal/shared/types"
)

// ErrPolicyNotFound is returned when a policy name is not registered.
var ErrPolicyNotFound = errors.New("policy not found")

// DefaultCacheTTL bounds cached decisions for ad-hoc grants that carry no
// policy timeout of their own.
const DefaultCacheTTL = 30 * time.Second

// Decision is the result of a permission check. TTL tells callers how long
// they may cache an allowed decision before re-asking the registry.
type Decision struct {
	Allowed bool
	TTL     time.Duration
}

// grant is an app's current permission set plus its provenance.
type grant struct {
	permissions map[string]struct{}
	ordered     []string
	policy      string // name of the granting policy, empty for ad-hoc grants
}

// Registry is the single source of truth for "can app X do Y".
//
// It is read-heavy and write-light: checks take only a read lock so
// concurrent readers never block each other, while grant/revoke/register
// take the write lock for bounded, I/O-free critical sections.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]types.ResourcePolicy
	grants   map[string]grant

	hookMu     sync.RWMutex
	invalidate []func(appID string)

	cacheTTL time.Duration
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// NewRegistry creates an empty policy registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		policies: make(map[string]types.ResourcePolicy),
		grants:   make(map[string]grant),
		cacheTTL: DefaultCacheTTL,
		logger:   logger,
	}
}

// WithMetrics adds metrics tracking to the registry.
func (r *Registry) WithMetrics(metrics *monitoring.Metrics) *Registry {
	r.metrics = metrics
	return r
}

// WithCacheTTL overrides the default TTL handed out for ad-hoc grants.
func (r *Registry) WithCacheTTL(ttl time.Duration) *Registry {
	if ttl > 0 {
		r.cacheTTL = ttl
	}
	return r
}

// RegisterPolicy inserts or overwrites a policy by name. Re-registration
// under the same name replaces the previous definition for all subsequent
// lookups; existing grants keep the permissions they were given.
func (r *Registry) RegisterPolicy(policy types.ResourcePolicy) {
	r.mu.Lock()
	r.policies[policy.Name] = policy
	r.mu.Unlock()

	r.logger.Info("Policy registered",
		zap.String("policy", policy.Name),
		zap.Int("permissions", len(policy.Permissions)),
	)
}

// Policy returns a registered policy by name.
func (r *Registry) Policy(name string) (types.ResourcePolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.policies[name]
	return p, ok
}

// Policies returns all registered policies.
func (r *Registry) Policies() []types.ResourcePolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ResourcePolicy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	return out
}

// GrantPermissions replaces the app's entire permission set. Callers that
// want additive behavior must read AppPermissions and merge first.
func (r *Registry) GrantPermissions(appID string, permissions []string) {
	r.setGrant(appID, permissions, "")
}

// ApplyPolicy grants the named policy's permission set to the app. The
// app's existing grant is untouched when the policy does not exist.
func (r *Registry) ApplyPolicy(appID, policyName string) error {
	r.mu.RLock()
	p, ok := r.policies[policyName]
	r.mu.RUnlock()

	if !ok {
		if r.metrics != nil {
			r.metrics.PolicyApplies.WithLabelValues("not_found").Inc()
		}
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, policyName)
	}

	r.setGrant(appID, p.Permissions, p.Name)
	if r.metrics != nil {
		r.metrics.PolicyApplies.WithLabelValues("applied").Inc()
	}
	return nil
}

// CheckPermission reports whether the app currently holds the permission.
// Absence of any grant yields false: the registry is closed by default.
func (r *Registry) CheckPermission(appID, permission string) bool {
	return r.Check(appID, permission).Allowed
}

// Check performs a permission check and returns the cacheability of the
// decision. Allowed decisions from a policy-backed grant may be cached for
// the policy's timeout; ad-hoc grants get the registry default.
func (r *Registry) Check(appID, permission string) Decision {
	r.mu.RLock()
	g, ok := r.grants[appID]
	var allowed bool
	var ttl time.Duration
	if ok {
		_, allowed = g.permissions[permission]
		ttl = r.cacheTTL
		if g.policy != "" {
			if p, found := r.policies[g.policy]; found && p.Timeout > 0 {
				ttl = p.Timeout
			}
		}
	}
	r.mu.RUnlock()

	if r.metrics != nil {
		r.metrics.RecordPermissionCheck(allowed)
	}
	return Decision{Allowed: allowed, TTL: ttl}
}

// RevokePermissions deletes the app's grant set entirely. Subsequent
// checks return false. Registered invalidation hooks fire so sandboxes
// drop their cached decisions.
func (r *Registry) RevokePermissions(appID string) {
	r.mu.Lock()
	delete(r.grants, appID)
	r.mu.Unlock()

	r.logger.Info("Permissions revoked", zap.String("app_id", appID))
	r.notifyInvalidate(appID)
}

// AppPermissions returns the app's current permission set in grant order.
func (r *Registry) AppPermissions(appID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.grants[appID]
	if !ok {
		return nil
	}
	out := make([]string, len(g.ordered))
	copy(out, g.ordered)
	return out
}

// HandleRequest gates a resource request. Interpretation of an allowed
// request is the caller's responsibility; this layer only decides.
func (r *Registry) HandleRequest(request types.ResourceRequest) types.ResourceResponse {
	if !r.CheckPermission(request.AppID, request.Resource) {
		r.logger.Warn("Resource request denied",
			zap.String("app_id", request.AppID),
			zap.String("resource", request.Resource),
			zap.String("action", request.Action),
		)
		return types.Denied(request.Resource)
	}

	return types.ResourceResponse{Success: true, Data: request.Data}
}

// OnInvalidate registers a hook called whenever an app's grant set changes
// (revocation or replacement). Hooks run outside the registry lock.
func (r *Registry) OnInvalidate(fn func(appID string)) {
	r.hookMu.Lock()
	r.invalidate = append(r.invalidate, fn)
	r.hookMu.Unlock()
}

func (r *Registry) setGrant(appID string, permissions []string, policyName string) {
	g := grant{
		permissions: make(map[string]struct{}, len(permissions)),
		ordered:     make([]string, 0, len(permissions)),
		policy:      policyName,
	}
	for _, p := range permissions {
		if _, dup := g.permissions[p]; dup {
			continue
		}
		g.permissions[p] = struct{}{}
		g.ordered = append(g.ordered, p)
	}

	r.mu.Lock()
	r.grants[appID] = g
	r.mu.Unlock()

	r.logger.Info("Permissions granted",
		zap.String("app_id", appID),
		zap.String("policy", policyName),
		zap.Int("count", len(g.ordered)),
	)
	r.notifyInvalidate(appID)
}

func (r *Registry) notifyInvalidate(appID string) {
	r.hookMu.RLock()
	hooks := make([]func(string), len(r.invalidate))
	copy(hooks, r.invalidate)
	r.hookMu.RUnlock()

	for _, fn := range hooks {
		fn(appID)
	}
}
