package providers

import (
	"context"
	"sync"

	"github.com/pwa-marketplace/backend/internal/shared/types"
)

// Storage is a per-app key/value protocol provider. Each app sees its own
// namespace; apps can never read or clobber each other's keys.
type Storage struct {
	mu     sync.RWMutex
	spaces map[string]map[string]string // Protected by mu, keyed by app ID
}

// NewStorage creates an empty storage provider.
func NewStorage() *Storage {
	return &Storage{spaces: make(map[string]map[string]string)}
}

// Protocol returns the routing name.
func (s *Storage) Protocol() string { return "storage" }

// Execute runs a storage action.
func (s *Storage) Execute(_ context.Context, req types.MCPRequest) types.MCPResponse {
	if req.AppID == "" {
		return failure("app id required")
	}

	switch req.Action {
	case "set":
		return s.set(req)
	case "get":
		return s.get(req)
	case "delete":
		return s.delete(req)
	case "list":
		return s.list(req)
	case "clear":
		return s.clear(req)
	default:
		return failure("unknown action: %s", req.Action)
	}
}

func (s *Storage) set(req types.MCPRequest) types.MCPResponse {
	key, ok := req.Data["key"].(string)
	if !ok || key == "" {
		return failure("key required")
	}
	value, ok := req.Data["value"].(string)
	if !ok {
		return failure("value required")
	}

	s.mu.Lock()
	space := s.spaces[req.AppID]
	if space == nil {
		space = make(map[string]string)
		s.spaces[req.AppID] = space
	}
	space[key] = value
	s.mu.Unlock()

	return success(map[string]interface{}{"key": key})
}

func (s *Storage) get(req types.MCPRequest) types.MCPResponse {
	key, ok := req.Data["key"].(string)
	if !ok || key == "" {
		return failure("key required")
	}

	s.mu.RLock()
	value, found := s.spaces[req.AppID][key]
	s.mu.RUnlock()

	if !found {
		return failure("key not found: %s", key)
	}
	return success(map[string]interface{}{"key": key, "value": value})
}

func (s *Storage) delete(req types.MCPRequest) types.MCPResponse {
	key, ok := req.Data["key"].(string)
	if !ok || key == "" {
		return failure("key required")
	}

	s.mu.Lock()
	_, found := s.spaces[req.AppID][key]
	if found {
		delete(s.spaces[req.AppID], key)
	}
	s.mu.Unlock()

	return success(map[string]interface{}{"key": key, "deleted": found})
}

func (s *Storage) list(req types.MCPRequest) types.MCPResponse {
	s.mu.RLock()
	space := s.spaces[req.AppID]
	keys := make([]string, 0, len(space))
	for key := range space {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	return success(map[string]interface{}{"keys": keys, "count": len(keys)})
}

func (s *Storage) clear(req types.MCPRequest) types.MCPResponse {
	s.mu.Lock()
	removed := len(s.spaces[req.AppID])
	delete(s.spaces, req.AppID)
	s.mu.Unlock()

	return success(map[string]interface{}{"removed": removed})
}
