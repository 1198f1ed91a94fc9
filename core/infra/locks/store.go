// Package locks provides expiring, owner-tagged leases so that only one
// process acts on a shared resource at a time.
package locks

import (
	"context"
	"time"
)

// Lease captures the current holder of a resource.
type Lease struct {
	Resource  string
	Owner     string
	ExpiresAt time.Time
}

// Store manages resource leases. Acquire also renews a lease already held
// by owner.
type Store interface {
	Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, resource, owner string) (bool, error)
	Get(ctx context.Context, resource string) (*Lease, error)
}
