// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package worker

import "time"

// Config holds the process-wide, read-at-startup parameters from §6
// shared by every worker in this package.
type Config struct {
	// NodeID identifies this process instance; written into
	// Activity.NodeID when this node leases, requeues, or marks an
	// activity SENT_FAILED, COMPLETED or REPLY_FAILED. The SENT write
	// (PersistResponseAndTransition) and the header-decode failure
	// path of reply delivery leave Activity.NodeID unchanged.
	NodeID string

	// AllowedResponseCodes are the target/reply status codes
	// treated as success. DefaultConfig sets it to
	// DefaultAllowedResponseCodes() ({200, 201, 202}); a nil map
	// treats every status as a failure.
	AllowedResponseCodes map[int]bool

	// RetentionPeriod is how long a COMPLETED activity survives
	// before the Cleanup Worker deletes it.
	RetentionPeriod time.Duration

	// OutboundTimeout bounds every target/reply HTTP call.
	OutboundTimeout time.Duration

	// SendInterval, RequeueInterval, RetryReplyInterval, and
	// CleanupInterval are the four workers' tick periods.
	SendInterval       time.Duration
	RequeueInterval    time.Duration
	RetryReplyInterval time.Duration
	CleanupInterval    time.Duration

	// RequeueBatchLimit caps how many SENT_FAILED rows one
	// Requeue Worker tick will move back to SCHEDULED.
	RequeueBatchLimit int

	// CleanupBatchLimit caps how many expired pairs one Cleanup
	// Worker tick will delete.
	CleanupBatchLimit int

	// LeaseTTL bounds how long a Leaser-backed lease is honored
	// before another node may re-lease the same row. Unused unless
	// the configured Store implements activity.Leaser.
	LeaseTTL time.Duration
}

// DefaultAllowedResponseCodes returns the default {200, 201, 202} set
// from §6.
func DefaultAllowedResponseCodes() map[int]bool {
	return map[int]bool{200: true, 201: true, 202: true}
}

// DefaultConfig returns a Config with every tick period and limit set
// to the §6 defaults for the given nodeID.
func DefaultConfig(nodeID string) Config {
	return Config{
		NodeID:               nodeID,
		AllowedResponseCodes: DefaultAllowedResponseCodes(),
		RetentionPeriod:      86400 * time.Second,
		OutboundTimeout:      10 * time.Second,
		SendInterval:         500 * time.Millisecond,
		RequeueInterval:      5 * time.Second,
		RetryReplyInterval:   5 * time.Second,
		CleanupInterval:      10 * time.Second,
		RequeueBatchLimit:    100,
		CleanupBatchLimit:    100,
		LeaseTTL:             30 * time.Second,
	}
}
