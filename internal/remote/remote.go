// Package remote is the client for the remote category/blocklist service.
// Calls are authenticated with the stateless session token; all failures
// are transient from the controller's point of view and retried on the
// next scheduled pass.
package remote

import (
	"context"
	"fmt"
)

// CategoryEntry is one domain→category mapping from the remote service.
type CategoryEntry struct {
	Domain   string `json:"domain"`
	Category string `json:"category"`
}

// Client is the remote service interface consumed by the controller.
type Client interface {
	// Categories fetches the full category table.
	Categories(ctx context.Context) ([]CategoryEntry, error)
	// Blocked fetches the remote blocked-destination list.
	Blocked(ctx context.Context) ([]string, error)
	// AddBlocked propagates a local deny-list addition outward.
	AddBlocked(ctx context.Context, domain string) error
	// RemoveBlocked propagates a local deny-list removal outward.
	RemoveBlocked(ctx context.Context, domain string) error
	// Ping checks reachability.
	Ping(ctx context.Context) error
}

// ErrUnauthorized signals an authentication failure (expired or rejected
// session token).
type ErrUnauthorized struct {
	Msg string
}

func (e *ErrUnauthorized) Error() string {
	return fmt.Sprintf("remote: unauthorized: %s", e.Msg)
}

// ErrNotFound signals a missing resource.
type ErrNotFound struct{}

func (e *ErrNotFound) Error() string {
	return "remote: not found"
}
