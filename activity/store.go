// Copyright 2015 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package activity

import (
	"context"
	"time"
)

// Store is the typed CRUD/transactional interface every backend
// (activity/postgres, activity/memory) implements. All operations are
// safe to call concurrently from multiple worker instances; the Store
// is the only object shared between cooperating processes (§5).
type Store interface {
	// InsertActivity inserts a new Activity row. Returns
	// ErrConflict if an Activity with this id already exists.
	InsertActivity(ctx context.Context, a *Activity) error

	// GetActivityStatus returns the {id, state} projection of an
	// Activity, or ErrNotFound.
	GetActivityStatus(ctx context.Context, id string) (*ActivityStatus, error)

	// UpdateActivityState idempotently writes a new state (and,
	// if nodeID is non-empty, a new nodeId) for the named
	// Activity.
	UpdateActivityState(ctx context.Context, id string, newState State, nodeID string) error

	// InsertResponse inserts a new Response row.
	InsertResponse(ctx context.Context, r *Response) error

	// ListResponsesFor returns the (0 or 1) Response rows for the
	// named Activity.
	ListResponsesFor(ctx context.Context, activityID string) ([]*Response, error)

	// DeleteResponse deletes a Response row by its own id.
	DeleteResponse(ctx context.Context, id string) error

	// DeleteActivity deletes an Activity row by id.
	DeleteActivity(ctx context.Context, id string) error

	// SelectEarliestByStates returns up to limit Activities whose
	// state is in states, ordered by ascending CreatedAt. Used by
	// every poller (Send, Requeue, Retry-Reply).
	SelectEarliestByStates(ctx context.Context, states []State, limit int) ([]*Activity, error)

	// SelectCompletedExpiredJoin returns (Activity, Response)
	// pairs with state=Completed and now-createdAt > retention,
	// up to limit pairs, for the Cleanup Worker.
	SelectCompletedExpiredJoin(ctx context.Context, now time.Time, retention time.Duration, limit int) ([]*ExpiredPair, error)

	// PersistResponseAndTransition persists r and moves the named
	// Activity to newState as a single atomic operation. This is
	// the transactional pairing required by §4.1 and exercised by
	// §8 scenario 6: a crash between the two writes must never be
	// observable as a Response with no corresponding state change.
	PersistResponseAndTransition(ctx context.Context, r *Response, activityID string, newState State) error
}

// Leaser is an optional capability a Store may additionally implement
// to strengthen CREATED|SCHEDULED -> SCHEDULED leasing into a single
// conditional update, per the recommended extension in §9. Workers
// fall back to a plain select-then-update sequence when the
// configured Store does not implement Leaser.
type Leaser interface {
	// LeaseActivity atomically selects the earliest Activity with
	// state in {Created, Scheduled} whose lease (if any) has
	// expired, and marks it Scheduled under nodeID with a fresh
	// lease expiring leaseTTL from now. Returns nil, nil if there
	// is no eligible row.
	LeaseActivity(ctx context.Context, nodeID string, leaseTTL time.Duration) (*Activity, error)
}
