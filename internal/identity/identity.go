// Package identity supplies proxy/user-agent pairs used to vary the
// outbound fingerprint of fetches.
package identity

import "sync"

// Identity is a (proxy endpoint, user-agent string) pair. Identities are
// read-only and shared by reference; they are never mutated at runtime.
type Identity struct {
	Proxy     string
	UserAgent string
}

// DefaultUserAgent is used when the configured pool is empty.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Rotator hands out identities round-robin over a fixed pool. Pool
// exhaustion is not a failure; identities are reused indefinitely.
type Rotator struct {
	mu   sync.Mutex
	pool []Identity
	next int
}

// NewRotator builds the identity pool from the configured proxy and
// user-agent lists. The pool is the cross product when both lists are set,
// otherwise the non-empty list paired with the defaults. An empty pool
// yields a single default identity.
func NewRotator(proxies, userAgents []string) *Rotator {
	if len(userAgents) == 0 {
		userAgents = []string{DefaultUserAgent}
	}

	var pool []Identity
	if len(proxies) == 0 {
		for _, ua := range userAgents {
			pool = append(pool, Identity{UserAgent: ua})
		}
	} else {
		for _, proxy := range proxies {
			for _, ua := range userAgents {
				pool = append(pool, Identity{Proxy: proxy, UserAgent: ua})
			}
		}
	}

	return &Rotator{pool: pool}
}

// Next returns the next identity in rotation. It never fails.
func (r *Rotator) Next() Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pool) == 0 {
		return Identity{UserAgent: DefaultUserAgent}
	}

	id := r.pool[r.next%len(r.pool)]
	r.next++
	return id
}

// PoolSize returns the number of identities in the pool.
func (r *Rotator) PoolSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pool)
}
