// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diffeo/relayproxy/activity"
	"github.com/diffeo/relayproxy/activity/memory"
	"github.com/diffeo/relayproxy/outbound"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func insertActivity(t *testing.T, store activity.Store, url, replyURL string) *activity.Activity {
	a := &activity.Activity{
		ID:          "act-1",
		URL:         url,
		Method:      "POST",
		ReplyURL:    replyURL,
		ReplyMethod: "POST",
		State:       activity.Created,
		NodeID:      "",
		CreatedAt:   time.Unix(1000, 0),
		Headers:     []byte(`{}`),
		Payload:     []byte(`{"n":1}`),
		ContentType: "application/json",
	}
	require.NoError(t, insertHelper(store, a))
	return a
}

func insertHelper(store activity.Store, a *activity.Activity) error {
	return store.InsertActivity(context.Background(), a)
}

// TestSendWorkerHappyPath covers §8 scenario 1: target 200, reply 200
// reaches COMPLETED, and the reply carries the activity id in X-TaskId.
func TestSendWorkerHappyPath(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer target.Close()

	var gotTaskID string
	reply := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTaskID = r.Header.Get(activity.HeaderTaskID)
		w.WriteHeader(200)
	}))
	defer reply.Close()

	store := memory.New()
	insertActivity(t, store, target.URL, reply.URL)

	w := &SendWorker{
		Store:  store,
		Client: &outbound.Client{Timeout: time.Second},
		Config: DefaultConfig("node-1"),
		Log:    testLogger(),
	}
	w.Tick(context.Background())

	status, err := store.GetActivityStatus(context.Background(), "act-1")
	require.NoError(t, err)
	assert.Equal(t, activity.Completed, status.State)
	assert.Equal(t, "act-1", gotTaskID)
}

// TestSendWorkerTargetFailure covers the disallowed-status path (the
// target answers 500): a SENT_FAILED activity with no Response
// persisted.
func TestSendWorkerTargetFailure(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer target.Close()

	store := memory.New()
	insertActivity(t, store, target.URL, "http://unused.example/cb")

	w := &SendWorker{
		Store:  store,
		Client: &outbound.Client{Timeout: time.Second},
		Config: DefaultConfig("node-1"),
		Log:    testLogger(),
	}
	w.Tick(context.Background())

	status, err := store.GetActivityStatus(context.Background(), "act-1")
	require.NoError(t, err)
	assert.Equal(t, activity.SentFailed, status.State)

	responses, err := store.ListResponsesFor(context.Background(), "act-1")
	require.NoError(t, err)
	assert.Empty(t, responses)
}

// TestRequeueWorkerMovesSentFailedToScheduled covers §4.6.
func TestRequeueWorkerMovesSentFailedToScheduled(t *testing.T) {
	store := memory.New()
	a := insertActivity(t, store, "http://t.example/u", "http://r.example/cb")
	require.NoError(t, store.UpdateActivityState(context.Background(), a.ID, activity.SentFailed, "node-1"))

	w := &RequeueWorker{Store: store, Config: DefaultConfig("node-1"), Log: testLogger()}
	w.Tick(context.Background())

	status, err := store.GetActivityStatus(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.Scheduled, status.State)
}

// TestRetryReplyWorkerRecoversReplyFailure covers the retry half of §8
// scenario 3: a REPLY_FAILED activity whose reply URL now answers 200
// reaches COMPLETED.
func TestRetryReplyWorkerRecoversReplyFailure(t *testing.T) {
	reply := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer reply.Close()

	store := memory.New()
	a := insertActivity(t, store, "http://t.example/u", reply.URL)
	resp := &activity.Response{
		ID: "resp-1", ResponseID: a.ID, StatusCode: 200,
		Headers: []byte(`{}`), Payload: []byte(`{"ok":true}`), ContentType: "application/json",
	}
	require.NoError(t, store.PersistResponseAndTransition(context.Background(), resp, a.ID, activity.Sent))
	require.NoError(t, store.UpdateActivityState(context.Background(), a.ID, activity.ReplyFailed, "node-1"))

	w := &RetryReplyWorker{
		Store:  store,
		Client: &outbound.Client{Timeout: time.Second},
		Config: DefaultConfig("node-1"),
		Log:    testLogger(),
	}
	w.Tick(context.Background())

	status, err := store.GetActivityStatus(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.Completed, status.State)
}

// TestCleanupWorkerRespectsRetention covers §8 scenario 5 using a
// mock clock so the test is deterministic.
func TestCleanupWorkerRespectsRetention(t *testing.T) {
	mockClock := clock.NewMock()
	mockClock.Set(time.Unix(1_000_000, 0))

	store := memory.New()
	retention := 24 * time.Hour

	expired := &activity.Activity{
		ID: "expired", URL: "http://t.example/u", Method: "POST",
		ReplyURL: "http://r.example/cb", ReplyMethod: "POST",
		State: activity.Completed, CreatedAt: mockClock.Now().Add(-retention).Add(-time.Second),
		Headers: []byte(`{}`), Payload: []byte(`{}`), ContentType: "application/json",
	}
	require.NoError(t, store.InsertActivity(context.Background(), expired))
	require.NoError(t, store.PersistResponseAndTransition(context.Background(), &activity.Response{
		ID: "resp-expired", ResponseID: expired.ID, StatusCode: 200,
		Headers: []byte(`{}`), Payload: []byte(`{}`), ContentType: "application/json",
	}, expired.ID, activity.Sent))
	require.NoError(t, store.UpdateActivityState(context.Background(), expired.ID, activity.Completed, "node-1"))

	cfg := DefaultConfig("node-1")
	cfg.RetentionPeriod = retention
	w := &CleanupWorker{Store: store, Clock: mockClock, Config: cfg, Log: testLogger()}
	w.Tick(context.Background())

	_, err := store.GetActivityStatus(context.Background(), expired.ID)
	assert.ErrorIs(t, err, activity.ErrNotFound)
}

// TestSchedulerRunsJobsOnTick verifies the Scheduler drives a Job's
// Run on each ticker fire and stops when the context is cancelled.
func TestSchedulerRunsJobsOnTick(t *testing.T) {
	mockClock := clock.NewMock()
	ticks := make(chan struct{}, 10)

	s := &Scheduler{
		Clock: mockClock,
		Jobs: []Job{{
			Name:     "test",
			Interval: time.Second,
			Run:      func(ctx context.Context) { ticks <- struct{}{} },
		}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	mockClock.Add(time.Second)
	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("job did not tick")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
