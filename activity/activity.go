// Copyright 2015 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package activity defines the durable activity/response data model,
// its state machine, and the Store interface that every backend
// (Postgres, in-memory) must satisfy. It is the abstract API other
// packages (submit, worker) program against; it holds no storage or
// transport code of its own.
package activity

import "time"

// Activity is one durable end-to-end forwarding job: submit, target
// call, reply call, completion. See §3 of the data model.
type Activity struct {
	ID          string
	URL         string
	Method      string
	ReplyURL    string
	ReplyMethod string
	State       State
	NodeID      string
	CreatedAt   time.Time

	// Headers is the serialized (JSON object, string values) form
	// of the request headers with the three routing headers
	// already stripped.
	Headers []byte

	Payload     []byte
	ContentType string
}

// Response is the persisted result of a successful target call. It
// exists iff its Activity has ever reached Sent, ReplyFailed, or
// Completed (§3).
type Response struct {
	ID          string
	ResponseID  string // Activity.ID this response belongs to
	StatusCode  int
	Headers     []byte
	Payload     []byte
	ContentType string
}

// ActivityStatus is the minimal projection returned by the status
// endpoint and GetActivityStatus: just enough to answer "where is
// this activity".
type ActivityStatus struct {
	ID    string
	State State
}

// ExpiredPair is one (Activity, Response) row pair returned by
// SelectCompletedExpiredJoin, ready for the Cleanup Worker to delete.
type ExpiredPair struct {
	Activity *Activity
	Response *Response
}
