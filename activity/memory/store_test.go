// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package memory

import (
	"testing"

	"github.com/diffeo/relayproxy/activity"
	"github.com/diffeo/relayproxy/activity/activitytest"
)

func TestMemoryStore(t *testing.T) {
	activitytest.Run(t, func() activity.Store { return New() })
}
