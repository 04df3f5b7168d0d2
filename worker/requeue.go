// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/diffeo/relayproxy/activity"
)

// RequeueWorker periodically moves SENT_FAILED activities back to
// SCHEDULED (§4.6). It is split out from SendWorker so the
// high-frequency send tick is never spent scanning the failure tail;
// this worker performs a cheaper bulk rewrite on its own, slower tick.
type RequeueWorker struct {
	Store  activity.Store
	Config Config
	Log    logrus.FieldLogger
}

// Tick moves up to Config.RequeueBatchLimit SENT_FAILED rows back to
// SCHEDULED, earliest createdAt first. Applying it twice in a row
// with no new failures in between yields the same (empty) set of
// newly-requeued rows -- the idempotence law of §8.
func (w *RequeueWorker) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { tickDuration.WithLabelValues("requeue").Observe(time.Since(start).Seconds()) }()

	limit := w.Config.RequeueBatchLimit
	if limit <= 0 {
		limit = 100
	}

	rows, err := w.Store.SelectEarliestByStates(ctx, []activity.State{activity.SentFailed}, limit)
	if err != nil {
		w.Log.WithError(err).Error("requeue worker: listing SENT_FAILED activities")
		return
	}

	for _, a := range rows {
		if !guardTransition(w.Log, a.ID, a.State, activity.Scheduled) {
			continue
		}
		if err := w.Store.UpdateActivityState(ctx, a.ID, activity.Scheduled, w.Config.NodeID); err != nil {
			w.Log.WithFields(logrus.Fields{"activity": a.ID}).WithError(err).Error("requeue worker: requeuing activity")
			continue
		}
		requeuedTotal.Inc()
	}
}
