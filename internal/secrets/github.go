package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pwa-marketplace/backend/internal/infrastructure/resilience"
)

// ErrNoToken is returned when the source has no credential to validate.
var ErrNoToken = errors.New("no github token available")

// TokenInfo describes a validated GitHub token.
type TokenInfo struct {
	Login  string   `json:"login"`
	Scopes []string `json:"scopes"`
}

// GitHubValidator checks tokens against the GitHub API. Outbound calls go
// through a retrying transport and a circuit breaker so a flapping API
// cannot stall callers.
type GitHubValidator struct {
	client  *resty.Client
	breaker *resilience.Breaker
	source  Source
}

// NewGitHubValidator builds a validator over the given token source.
func NewGitHubValidator(apiBase string, source Source) *GitHubValidator {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil

	restyClient := resty.New().
		SetBaseURL(apiBase).
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("User-Agent", "pwa-marketplace/1.0")
	// The RoundTripper wrapper routes every request through the retrying
	// Client.Do; handing resty the inner transport would skip the retries.
	restyClient.SetTransport(&retryablehttp.RoundTripper{Client: retryClient})

	breaker := resilience.New("github-api", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &GitHubValidator{
		client:  restyClient,
		breaker: breaker,
		source:  source,
	}
}

// Validate checks the current token and returns the authenticated login.
func (v *GitHubValidator) Validate(ctx context.Context) (*TokenInfo, error) {
	token, ok := v.source.Token(ctx)
	if !ok {
		return nil, ErrNoToken
	}

	result, err := v.breaker.Execute(func() (interface{}, error) {
		var user struct {
			Login string `json:"login"`
		}
		resp, err := v.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetResult(&user).
			Get("/user")
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("github rejected token: %s", resp.Status())
		}

		info := &TokenInfo{Login: user.Login}
		if scopes := resp.Header().Get("X-OAuth-Scopes"); scopes != "" {
			info.Scopes = splitScopes(scopes)
		}
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*TokenInfo), nil
}

// Available reports whether a token is present without touching the API.
func (v *GitHubValidator) Available(ctx context.Context) bool {
	_, ok := v.source.Token(ctx)
	return ok
}

func splitScopes(header string) []string {
	var out []string
	for _, scope := range strings.Split(header, ",") {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
