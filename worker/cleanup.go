// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package worker

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/diffeo/relayproxy/activity"
)

// CleanupWorker deletes COMPLETED activities (and their responses)
// once they are older than the retention period (§4.8). Response rows
// are always deleted before their Activity to respect the foreign
// key; a crash between the two deletes leaves an orphaned Activity
// that is still COMPLETED and still expired, so the next tick removes
// it -- no special recovery path is needed.
type CleanupWorker struct {
	Store  activity.Store
	Clock  clock.Clock
	Config Config
	Log    logrus.FieldLogger
}

// Tick deletes up to Config.CleanupBatchLimit expired (Activity,
// Response) pairs. No activity outside COMPLETED is ever eligible:
// in-flight work is never garbage-collected.
func (w *CleanupWorker) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { tickDuration.WithLabelValues("cleanup").Observe(time.Since(start).Seconds()) }()

	limit := w.Config.CleanupBatchLimit
	if limit <= 0 {
		limit = 100
	}

	now := time.Now()
	if w.Clock != nil {
		now = w.Clock.Now()
	}

	pairs, err := w.Store.SelectCompletedExpiredJoin(ctx, now, w.Config.RetentionPeriod, limit)
	if err != nil {
		w.Log.WithError(err).Error("cleanup worker: listing expired activities")
		return
	}

	for _, pair := range pairs {
		if pair.Response != nil {
			if err := w.Store.DeleteResponse(ctx, pair.Response.ID); err != nil {
				w.Log.WithFields(logrus.Fields{"activity": pair.Activity.ID}).
					WithError(err).Error("cleanup worker: deleting response")
				continue
			}
		}
		if err := w.Store.DeleteActivity(ctx, pair.Activity.ID); err != nil {
			w.Log.WithFields(logrus.Fields{"activity": pair.Activity.ID}).
				WithError(err).Error("cleanup worker: deleting activity")
			continue
		}
		cleanedUpTotal.Inc()
	}
}
