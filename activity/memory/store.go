// Copyright 2015 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package memory provides an in-memory activity.Store, used by unit
// tests and by the "memory" backend selector for local/demo runs. It
// holds everything behind a single mutex, the same coarse-locking
// approach the teacher's memory package uses for its work-unit store:
// correctness over throughput, since this is not the production
// backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/diffeo/relayproxy/activity"
)

type store struct {
	mu         sync.Mutex
	activities map[string]*activity.Activity
	responses  map[string]*activity.Response // keyed by Response.ID
}

// New creates an empty in-memory Store.
func New() activity.Store {
	return &store{
		activities: make(map[string]*activity.Activity),
		responses:  make(map[string]*activity.Response),
	}
}

func clone(a *activity.Activity) *activity.Activity {
	cp := *a
	return &cp
}

func cloneResponse(r *activity.Response) *activity.Response {
	cp := *r
	return &cp
}

func (s *store) InsertActivity(ctx context.Context, a *activity.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activities[a.ID]; exists {
		return activity.ErrConflict
	}
	s.activities[a.ID] = clone(a)
	return nil
}

func (s *store) GetActivityStatus(ctx context.Context, id string) (*activity.ActivityStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.activities[id]
	if !ok {
		return nil, activity.ErrNotFound
	}
	return &activity.ActivityStatus{ID: a.ID, State: a.State}, nil
}

func (s *store) UpdateActivityState(ctx context.Context, id string, newState activity.State, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.activities[id]
	if !ok {
		return activity.ErrNotFound
	}
	a.State = newState
	if nodeID != "" {
		a.NodeID = nodeID
	}
	return nil
}

func (s *store) InsertResponse(ctx context.Context, r *activity.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.responses[r.ID] = cloneResponse(r)
	return nil
}

func (s *store) ListResponsesFor(ctx context.Context, activityID string) ([]*activity.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*activity.Response
	for _, r := range s.responses {
		if r.ResponseID == activityID {
			result = append(result, cloneResponse(r))
		}
	}
	return result, nil
}

func (s *store) DeleteResponse(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.responses, id)
	return nil
}

func (s *store) DeleteActivity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.activities, id)
	return nil
}

func (s *store) SelectEarliestByStates(ctx context.Context, states []activity.State, limit int) ([]*activity.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[activity.State]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}

	var matched []*activity.Activity
	for _, a := range s.activities {
		if wanted[a.State] {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	result := make([]*activity.Activity, len(matched))
	for i, a := range matched {
		result[i] = clone(a)
	}
	return result, nil
}

func (s *store) SelectCompletedExpiredJoin(ctx context.Context, now time.Time, retention time.Duration, limit int) ([]*activity.ExpiredPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pairs []*activity.ExpiredPair
	for _, a := range s.activities {
		if a.State != activity.Completed {
			continue
		}
		if now.Sub(a.CreatedAt) <= retention {
			continue
		}
		var resp *activity.Response
		for _, r := range s.responses {
			if r.ResponseID == a.ID {
				resp = cloneResponse(r)
				break
			}
		}
		pairs = append(pairs, &activity.ExpiredPair{Activity: clone(a), Response: resp})
		if limit > 0 && len(pairs) >= limit {
			break
		}
	}
	return pairs, nil
}

func (s *store) PersistResponseAndTransition(ctx context.Context, r *activity.Response, activityID string, newState activity.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.activities[activityID]
	if !ok {
		return activity.ErrNotFound
	}
	// Both writes happen while holding the single store-wide lock:
	// no concurrent reader can observe the Response without the
	// corresponding state change, or vice versa.
	s.responses[r.ID] = cloneResponse(r)
	a.State = newState
	return nil
}
