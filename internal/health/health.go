// Package health runs the daemon's self-checks: provider reachability via
// the session info call, plus cache population.
package health

import (
	"context"
	"time"

	"github.com/snapetech/xtreamcache/internal/xtream"
)

// SessionFunc fetches provider session info. *xtream.Client.Session
// satisfies it.
type SessionFunc func(ctx context.Context) (xtream.SessionInfo, error)

// Cache is the subset of the coordinator the checker reads.
type Cache interface {
	IsCachePopulated() bool
}

// Report is one health check result.
type Report struct {
	ProviderOK     bool   `json:"provider_ok"`
	ProviderError  string `json:"provider_error,omitempty"`
	CachePopulated bool   `json:"cache_populated"`
	MaxConnections int    `json:"max_connections,omitempty"`
	ExpiresAt      int64  `json:"expires_at,omitempty"`
}

// Healthy reports whether the daemon can serve catalog queries: the cache
// must be populated; provider reachability is informational (stale-but-valid
// data is still served when the provider is down).
func (r Report) Healthy() bool {
	return r.CachePopulated
}

// Checker runs the checks.
type Checker struct {
	session SessionFunc
	cache   Cache
	timeout time.Duration
}

// New returns a Checker. A zero timeout defaults to 15s per provider call.
func New(session SessionFunc, cache Cache, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Checker{session: session, cache: cache, timeout: timeout}
}

// Check runs all checks and returns the report. Never returns an error: a
// failing provider is recorded in the report, not raised.
func (c *Checker) Check(ctx context.Context) Report {
	rep := Report{CachePopulated: c.cache.IsCachePopulated()}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	info, err := c.session(ctx)
	if err != nil {
		rep.ProviderError = err.Error()
		return rep
	}
	rep.ProviderOK = true
	rep.MaxConnections = info.MaxConnections
	rep.ExpiresAt = info.ExpiresAt
	return rep
}
