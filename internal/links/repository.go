package links

import (
	"context"
	"time"
)

// RemoteStore is the durable key-value table of links keyed by code.
// Time arguments are the filter values for expiry predicates; remote implementations may substitute their own clock.
type RemoteStore interface {
	// Insert persists a new link. It fails with ErrCodeTaken when an active link holds the code and with
	// ErrCapacityExceeded when the backend enforces a per-creator cap that the link would exceed.
	Insert(ctx context.Context, link Link) (Link, error)
	// FindActive returns the link whose code matches and whose expiry is after now, or nil.
	FindActive(ctx context.Context, code Code, now time.Time) (*Link, error)
	// ListActiveByCreator returns the creator's links expiring after now, newest first.
	ListActiveByCreator(ctx context.Context, creator CreatorID, now time.Time) ([]Link, error)
	// UpdateContent replaces the content of an active link filtered by code and creator. ErrNotFound when nothing matched.
	UpdateContent(ctx context.Context, code Code, creator CreatorID, content Content, now time.Time) (Link, error)
	// Delete removes the link filtered by code and creator. ErrNotFound when nothing matched.
	Delete(ctx context.Context, code Code, creator CreatorID) error
}

// Purger is implemented by backends that can reclaim storage held by expired links.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// PurgerOf returns the purger behind store when its backend can actually purge.
// Wrappers that forward PurgeExpired report backend support through SupportsPurge.
func PurgerOf(store RemoteStore) (Purger, bool) {
	purger, ok := store.(Purger)
	if !ok {
		return nil, false
	}
	if wrapper, ok := store.(interface{ SupportsPurge() bool }); ok && !wrapper.SupportsPurge() {
		return nil, false
	}
	return purger, true
}
