// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package activitytest holds a single assertion suite run against
// every activity.Store implementation (activity/memory,
// activity/postgres), so a new backend only has to provide a fresh
// Store and this package exercises the invariants and scenarios of
// §8 against it uniformly.
package activitytest

import (
	"context"
	"testing"
	"time"

	"github.com/diffeo/relayproxy/activity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises activity.Store's contract against a freshly created,
// empty store. Callers (backend-specific _test.go files) do:
//
//	func TestMemoryStore(t *testing.T) {
//	    activitytest.Run(t, func() activity.Store { return memory.New() })
//	}
func Run(t *testing.T, newStore func() activity.Store) {
	t.Run("InsertAndGetStatus", func(t *testing.T) { testInsertAndGetStatus(t, newStore()) })
	t.Run("DuplicateInsertConflicts", func(t *testing.T) { testDuplicateInsertConflicts(t, newStore()) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore()) })
	t.Run("SelectEarliestByStatesOrdering", func(t *testing.T) { testSelectEarliestByStatesOrdering(t, newStore()) })
	t.Run("PersistResponseAndTransition", func(t *testing.T) { testPersistResponseAndTransition(t, newStore()) })
	t.Run("RequeueIdempotent", func(t *testing.T) { testRequeueIdempotent(t, newStore()) })
	t.Run("CleanupRespectsRetention", func(t *testing.T) { testCleanupRespectsRetention(t, newStore()) })
	t.Run("CleanupDeletesResponseBeforeActivity", func(t *testing.T) { testCleanupOrder(t, newStore()) })
}

func newActivity(id string, createdAt time.Time) *activity.Activity {
	return &activity.Activity{
		ID:          id,
		URL:         "http://target.example/u",
		Method:      "POST",
		ReplyURL:    "http://reply.example/cb",
		ReplyMethod: "POST",
		State:       activity.Created,
		NodeID:      "node-1",
		CreatedAt:   createdAt,
		Headers:     []byte(`{}`),
		Payload:     []byte(`{"n":1}`),
		ContentType: "application/json",
	}
}

func testInsertAndGetStatus(t *testing.T, s activity.Store) {
	ctx := context.Background()
	a := newActivity("act-1", time.Unix(1000, 0))
	require.NoError(t, s.InsertActivity(ctx, a))

	status, err := s.GetActivityStatus(ctx, "act-1")
	require.NoError(t, err)
	assert.Equal(t, "act-1", status.ID)
	assert.Equal(t, activity.Created, status.State)
}

func testDuplicateInsertConflicts(t *testing.T, s activity.Store) {
	ctx := context.Background()
	a := newActivity("act-dup", time.Unix(1000, 0))
	require.NoError(t, s.InsertActivity(ctx, a))
	err := s.InsertActivity(ctx, a)
	assert.ErrorIs(t, err, activity.ErrConflict)
}

func testNotFound(t *testing.T, s activity.Store) {
	ctx := context.Background()
	_, err := s.GetActivityStatus(ctx, "nope")
	assert.ErrorIs(t, err, activity.ErrNotFound)
}

func testSelectEarliestByStatesOrdering(t *testing.T, s activity.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertActivity(ctx, newActivity("later", time.Unix(2000, 0))))
	require.NoError(t, s.InsertActivity(ctx, newActivity("earlier", time.Unix(1000, 0))))

	found, err := s.SelectEarliestByStates(ctx, []activity.State{activity.Created}, 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "earlier", found[0].ID)
	assert.Equal(t, "later", found[1].ID)
}

func testPersistResponseAndTransition(t *testing.T, s activity.Store) {
	ctx := context.Background()
	a := newActivity("act-send", time.Unix(1000, 0))
	require.NoError(t, s.InsertActivity(ctx, a))
	require.NoError(t, s.UpdateActivityState(ctx, a.ID, activity.Scheduled, "node-1"))

	resp := &activity.Response{
		ID:          "resp-1",
		ResponseID:  a.ID,
		StatusCode:  200,
		Headers:     []byte(`{}`),
		Payload:     []byte(`{"ok":true}`),
		ContentType: "application/json",
	}
	require.NoError(t, s.PersistResponseAndTransition(ctx, resp, a.ID, activity.Sent))

	status, err := s.GetActivityStatus(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.Sent, status.State)

	responses, err := s.ListResponsesFor(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, 200, responses[0].StatusCode)
}

func testRequeueIdempotent(t *testing.T, s activity.Store) {
	ctx := context.Background()
	a := newActivity("act-fail", time.Unix(1000, 0))
	require.NoError(t, s.InsertActivity(ctx, a))
	require.NoError(t, s.UpdateActivityState(ctx, a.ID, activity.SentFailed, "node-1"))

	requeueOnce := func() []string {
		rows, err := s.SelectEarliestByStates(ctx, []activity.State{activity.SentFailed}, 100)
		require.NoError(t, err)
		var ids []string
		for _, row := range rows {
			require.NoError(t, s.UpdateActivityState(ctx, row.ID, activity.Scheduled, "node-1"))
			ids = append(ids, row.ID)
		}
		return ids
	}

	first := requeueOnce()
	assert.Equal(t, []string{"act-fail"}, first)

	// Second pass finds nothing left in SentFailed: applying
	// requeue twice yields the same set of Scheduled rows, not a
	// growing one.
	second := requeueOnce()
	assert.Empty(t, second)

	status, err := s.GetActivityStatus(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.Scheduled, status.State)
}

func testCleanupRespectsRetention(t *testing.T, s activity.Store) {
	ctx := context.Background()
	retention := 24 * time.Hour
	now := time.Unix(1_000_000, 0)

	expired := newActivity("expired", now.Add(-retention).Add(-time.Second))
	expired.State = activity.Completed
	require.NoError(t, s.InsertActivity(ctx, expired))
	require.NoError(t, s.PersistResponseAndTransition(ctx, &activity.Response{
		ID: "resp-expired", ResponseID: expired.ID, StatusCode: 200,
		Headers: []byte(`{}`), Payload: []byte(`{}`), ContentType: "application/json",
	}, expired.ID, activity.Sent))
	require.NoError(t, s.UpdateActivityState(ctx, expired.ID, activity.Completed, "node-1"))

	fresh := newActivity("fresh", now.Add(-retention).Add(time.Second))
	fresh.State = activity.Completed
	require.NoError(t, s.InsertActivity(ctx, fresh))
	require.NoError(t, s.PersistResponseAndTransition(ctx, &activity.Response{
		ID: "resp-fresh", ResponseID: fresh.ID, StatusCode: 200,
		Headers: []byte(`{}`), Payload: []byte(`{}`), ContentType: "application/json",
	}, fresh.ID, activity.Sent))
	require.NoError(t, s.UpdateActivityState(ctx, fresh.ID, activity.Completed, "node-1"))

	pairs, err := s.SelectCompletedExpiredJoin(ctx, now, retention, 100)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "expired", pairs[0].Activity.ID)
}

func testCleanupOrder(t *testing.T, s activity.Store) {
	ctx := context.Background()
	a := newActivity("act-cleanup", time.Unix(1000, 0))
	a.State = activity.Completed
	require.NoError(t, s.InsertActivity(ctx, a))
	resp := &activity.Response{
		ID: "resp-cleanup", ResponseID: a.ID, StatusCode: 200,
		Headers: []byte(`{}`), Payload: []byte(`{}`), ContentType: "application/json",
	}
	require.NoError(t, s.PersistResponseAndTransition(ctx, resp, a.ID, activity.Sent))
	require.NoError(t, s.UpdateActivityState(ctx, a.ID, activity.Completed, "node-1"))

	require.NoError(t, s.DeleteResponse(ctx, resp.ID))
	require.NoError(t, s.DeleteActivity(ctx, a.ID))

	_, err := s.GetActivityStatus(ctx, a.ID)
	assert.ErrorIs(t, err, activity.ErrNotFound)
	responses, err := s.ListResponsesFor(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, responses)
}
