// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package worker

import (
	"context"

	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/diffeo/relayproxy/activity"
	"github.com/diffeo/relayproxy/outbound"
)

// sendReply delivers the already-persisted Response for activityID to
// replyURL/replyMethod and transitions the Activity accordingly (§4.5).
// It is shared by SendWorker (called inline right after a successful
// target call) and RetryReplyWorker (called on REPLY_FAILED rows), and
// always receives activityID so X-TaskId is always set -- the
// ambiguity §9 flags in one variant of the original source, resolved
// here in the mandated direction.
func sendReply(
	ctx context.Context,
	store activity.Store,
	client *outbound.Client,
	cfg Config,
	log logrus.FieldLogger,
	activityID string,
	from activity.State,
	resp *activity.Response,
	replyURL, replyMethod string,
) error {
	headers, err := activity.DecodeHeaders(resp.Headers)
	if err != nil {
		return storeAndLog(ctx, store, activityID, from, activity.ReplyFailed, log, "decoding response headers", err)
	}
	headers.Set(activity.HeaderTaskID, activityID)

	result, err := client.Call(ctx, replyMethod, replyURL, headers, resp.Payload, resp.ContentType)
	if err != nil {
		replyAttempts.WithLabelValues("transport_error").Inc()
		log.WithFields(logrus.Fields{"activity": activityID, "replyUrl": replyURL}).
			WithError(err).Warn("reply delivery transport error")
		if !guardTransition(log, activityID, from, activity.ReplyFailed) {
			return nil
		}
		return store.UpdateActivityState(ctx, activityID, activity.ReplyFailed, cfg.NodeID)
	}

	if cfg.AllowedResponseCodes[result.StatusCode] {
		replyAttempts.WithLabelValues("completed").Inc()
		if !guardTransition(log, activityID, from, activity.Completed) {
			return nil
		}
		return store.UpdateActivityState(ctx, activityID, activity.Completed, cfg.NodeID)
	}

	replyAttempts.WithLabelValues("status_error").Inc()
	log.WithFields(logrus.Fields{
		"activity":   activityID,
		"replyUrl":   replyURL,
		"statusCode": result.StatusCode,
		"body":       string(result.Body),
	}).Warn("reply delivery returned a disallowed status")
	if !guardTransition(log, activityID, from, activity.ReplyFailed) {
		return nil
	}
	return store.UpdateActivityState(ctx, activityID, activity.ReplyFailed, cfg.NodeID)
}

// storeAndLog logs err with a fresh reference UUID (§7) and attempts
// to move id from its known current state to failState regardless,
// since a decode failure should still drive the retry path rather than
// leave the row stuck.
func storeAndLog(ctx context.Context, store activity.Store, id string, from, failState activity.State, log logrus.FieldLogger, op string, err error) error {
	reference := uuid.NewV4().String()
	log.WithFields(logrus.Fields{"activity": id, "reference": reference, "op": op}).
		WithError(err).Error("internal error")
	if !guardTransition(log, id, from, failState) {
		return nil
	}
	return store.UpdateActivityState(ctx, id, failState, "")
}
