// Copyright 2015 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package activity

// State is one of the six states an Activity can be in as it moves
// from submission through delivery to the reply URL.
type State string

const (
	// Created is the initial state, set by the submit handler
	// before any worker has touched the row.
	Created State = "CREATED"

	// Scheduled means a Send Worker has leased the row and is
	// about to (or is about to retry) call the target URL.
	Scheduled State = "SCHEDULED"

	// Sent means the target call succeeded and a Response has
	// been persisted, but reply delivery has not yet completed.
	// This state is never observed at rest between worker ticks;
	// the Send Worker attempts the reply in the same tick before
	// returning.
	Sent State = "SENT"

	// SentFailed means the target call failed (transport error or
	// disallowed status). The Requeue Worker moves rows out of
	// this state back to Scheduled.
	SentFailed State = "SENT_FAILED"

	// ReplyFailed means the target call succeeded but delivery to
	// the reply URL failed. The Retry-Reply Worker re-attempts
	// delivery using the already-persisted Response.
	ReplyFailed State = "REPLY_FAILED"

	// Completed is the terminal state: the reply URL accepted the
	// response. Completed rows are eligible for cleanup once they
	// are older than the retention period.
	Completed State = "COMPLETED"
)

// Valid reports whether s is one of the six defined states.
func (s State) Valid() bool {
	switch s {
	case Created, Scheduled, Sent, SentFailed, ReplyFailed, Completed:
		return true
	}
	return false
}

// HasResponse reports whether an Activity in state s is required by
// the data model (§3/§8 invariant 2 and 3) to have exactly one
// Response row.
func (s State) HasResponse() bool {
	switch s {
	case Sent, ReplyFailed, Completed:
		return true
	}
	return false
}

// transitions enumerates the legal state DAG from §4.2. The only
// reversed edge is the explicit requeue SentFailed -> Scheduled.
var transitions = map[State][]State{
	Created:     {Scheduled},
	Scheduled:   {Sent, SentFailed},
	SentFailed:  {Scheduled},
	Sent:        {Completed, ReplyFailed},
	ReplyFailed: {Completed, ReplyFailed},
	Completed:   {},
}

// CanTransition reports whether moving an Activity from state from to
// state to is a legal edge of the state machine. Package worker checks
// this (via its guardTransition helper) before every write so that a
// bug cannot silently corrupt the DAG.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
