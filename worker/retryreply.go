// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/diffeo/relayproxy/activity"
	"github.com/diffeo/relayproxy/outbound"
)

// RetryReplyWorker picks the earliest REPLY_FAILED activity, loads
// its already-persisted Response, and re-attempts reply delivery
// (§4.7). Unlike SendWorker it never resynthesizes a request against
// the target: the Response persisted at first SENT is authoritative
// and is never recomputed.
type RetryReplyWorker struct {
	Store  activity.Store
	Client *outbound.Client
	Config Config
	Log    logrus.FieldLogger
}

// Tick re-attempts delivery for at most one REPLY_FAILED activity.
func (w *RetryReplyWorker) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { tickDuration.WithLabelValues("retry_reply").Observe(time.Since(start).Seconds()) }()

	rows, err := w.Store.SelectEarliestByStates(ctx, []activity.State{activity.ReplyFailed}, 1)
	if err != nil {
		w.Log.WithError(err).Error("retry-reply worker: listing REPLY_FAILED activities")
		return
	}
	if len(rows) == 0 {
		return
	}
	a := rows[0]

	responses, err := w.Store.ListResponsesFor(ctx, a.ID)
	if err != nil {
		w.Log.WithFields(logrus.Fields{"activity": a.ID}).WithError(err).Error("retry-reply worker: loading response")
		return
	}
	if len(responses) == 0 {
		// Invariant 2 of §8 says this cannot happen: every
		// REPLY_FAILED activity has exactly one Response. Log it
		// as an internal error rather than silently dropping the
		// activity.
		w.Log.WithFields(logrus.Fields{"activity": a.ID}).
			Error(activity.ErrNoResponse{ActivityID: a.ID}.Error())
		return
	}
	resp := responses[0]

	if err := sendReply(ctx, w.Store, w.Client, w.Config, w.Log, a.ID, activity.ReplyFailed, resp, a.ReplyURL, a.ReplyMethod); err != nil {
		w.Log.WithFields(logrus.Fields{"activity": a.ID}).WithError(err).Error("retry-reply worker: delivering reply")
	}
}
