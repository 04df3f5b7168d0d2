// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package worker

import (
	"github.com/sirupsen/logrus"

	"github.com/diffeo/relayproxy/activity"
)

// guardTransition is the runtime enforcement of the state DAG in
// activity.CanTransition (§4.2): every worker calls it immediately
// before asking the Store to write a new state, except when leasing:
// the Leaser path writes SCHEDULED inside the Store, and the fallback
// lease skips it when re-leasing a row already SCHEDULED. A false result means
// this package's own logic picked an illegal edge -- a programming
// error, not a transient failure -- so it is logged and the caller
// must skip the write rather than hand the Store a transition that
// would corrupt the DAG.
func guardTransition(log logrus.FieldLogger, activityID string, from, to activity.State) bool {
	if activity.CanTransition(from, to) {
		return true
	}
	log.WithFields(logrus.Fields{
		"activity": activityID,
		"from":     from,
		"to":       to,
	}).Error("blocked illegal state transition")
	return false
}
