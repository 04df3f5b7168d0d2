// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package worker

import (
	"context"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/diffeo/relayproxy/activity"
	"github.com/diffeo/relayproxy/outbound"
)

// SendWorker leases the earliest pending activity, calls its target
// URL, persists the response on success, and attempts reply delivery
// inline (§4.4/§4.5).
type SendWorker struct {
	Store  activity.Store
	Client *outbound.Client
	Config Config
	Log    logrus.FieldLogger
}

// Tick runs one leasing/send/reply cycle. It never returns an error:
// any failure is logged with a reference UUID and the tick returns,
// leaving the next tick (on this node or another) to retry (§7).
func (w *SendWorker) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { tickDuration.WithLabelValues("send").Observe(time.Since(start).Seconds()) }()

	a, err := w.lease(ctx)
	if err != nil {
		w.logInternal(err, "leasing activity")
		return
	}
	if a == nil {
		return
	}

	w.send(ctx, a)
}

// lease picks the earliest eligible activity and marks it SCHEDULED
// under this node's id. It prefers the store's strengthened
// conditional-update Leaser path (§9) when available, falling back to
// the plain select-then-update sequence the state machine itself
// requires (§4.4 step 1).
func (w *SendWorker) lease(ctx context.Context) (*activity.Activity, error) {
	if leaser, ok := w.Store.(activity.Leaser); ok {
		return leaser.LeaseActivity(ctx, w.Config.NodeID, w.Config.LeaseTTL)
	}

	candidates, err := w.Store.SelectEarliestByStates(ctx, []activity.State{activity.Created, activity.Scheduled}, 1)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	a := candidates[0]
	// a.State is either CREATED or already SCHEDULED (a row this
	// fallback itself stranded on a previous tick, since without a
	// Leaser there is no lease expiry to reclaim it). The second case
	// re-affirms a state the row is already in rather than crossing an
	// edge of the DAG, so it is exempt from guardTransition.
	if a.State != activity.Scheduled && !guardTransition(w.Log, a.ID, a.State, activity.Scheduled) {
		return nil, nil
	}
	if err := w.Store.UpdateActivityState(ctx, a.ID, activity.Scheduled, w.Config.NodeID); err != nil {
		return nil, err
	}
	a.State = activity.Scheduled
	return a, nil
}

func (w *SendWorker) send(ctx context.Context, a *activity.Activity) {
	timeout := w.Config.OutboundTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	headers, err := activity.DecodeHeaders(a.Headers)
	if err != nil {
		w.fail(ctx, a.ID, a.State, "decoding activity headers", err)
		return
	}

	result, err := w.Client.Call(callCtx, a.Method, a.URL, headers, a.Payload, a.ContentType)
	if err != nil {
		sendAttempts.WithLabelValues("transport_error").Inc()
		w.Log.WithFields(logrus.Fields{"activity": a.ID, "url": a.URL}).
			WithError(err).Warn("target call transport error")
		if guardTransition(w.Log, a.ID, a.State, activity.SentFailed) {
			if updErr := w.Store.UpdateActivityState(ctx, a.ID, activity.SentFailed, w.Config.NodeID); updErr != nil {
				w.logInternal(updErr, "marking activity SENT_FAILED")
			}
		}
		return
	}

	if !w.Config.AllowedResponseCodes[result.StatusCode] {
		sendAttempts.WithLabelValues("status_error").Inc()
		w.Log.WithFields(logrus.Fields{
			"activity":   a.ID,
			"url":        a.URL,
			"statusCode": result.StatusCode,
			"body":       string(result.Body),
		}).Warn("target call returned a disallowed status")
		if guardTransition(w.Log, a.ID, a.State, activity.SentFailed) {
			if updErr := w.Store.UpdateActivityState(ctx, a.ID, activity.SentFailed, w.Config.NodeID); updErr != nil {
				w.logInternal(updErr, "marking activity SENT_FAILED")
			}
		}
		return
	}

	sendAttempts.WithLabelValues("sent").Inc()
	respHeaders, err := activity.EncodeHeaders(result.Headers)
	if err != nil {
		w.fail(ctx, a.ID, a.State, "encoding response headers", err)
		return
	}
	resp := &activity.Response{
		ID:          uuid.NewV4().String(),
		ResponseID:  a.ID,
		StatusCode:  result.StatusCode,
		Headers:     respHeaders,
		Payload:     result.Body,
		ContentType: result.Headers.Get("Content-Type"),
	}

	if !guardTransition(w.Log, a.ID, a.State, activity.Sent) {
		return
	}

	// Persist the response and move to SENT as one atomic write
	// (§4.1): a crash here must never leave a Response without a
	// matching state transition, or vice versa (§8 scenario 6).
	if err := w.Store.PersistResponseAndTransition(ctx, resp, a.ID, activity.Sent); err != nil {
		w.logInternal(err, "persisting response and transitioning to SENT")
		return
	}

	if err := sendReply(ctx, w.Store, w.Client, w.Config, w.Log, a.ID, activity.Sent, resp, a.ReplyURL, a.ReplyMethod); err != nil {
		w.logInternal(err, "delivering reply inline")
	}
}

func (w *SendWorker) fail(ctx context.Context, id string, from activity.State, op string, err error) {
	reference := uuid.NewV4().String()
	w.Log.WithFields(logrus.Fields{"activity": id, "reference": reference, "op": op}).
		WithError(err).Error("internal error")
	if !guardTransition(w.Log, id, from, activity.SentFailed) {
		return
	}
	if updErr := w.Store.UpdateActivityState(ctx, id, activity.SentFailed, w.Config.NodeID); updErr != nil {
		w.logInternal(updErr, "marking activity SENT_FAILED after internal error")
	}
}

func (w *SendWorker) logInternal(err error, op string) {
	reference := uuid.NewV4().String()
	w.Log.WithFields(logrus.Fields{"reference": reference, "op": op}).WithError(err).Error("send worker tick failed")
}
