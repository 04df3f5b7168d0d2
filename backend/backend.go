// Copyright 2015 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package backend turns a single command-line/config string into a
// running activity.Store, so relayproxyd can name a store without
// importing activity/memory or activity/postgres directly.
package backend

import (
	"fmt"
	"strings"

	"github.com/diffeo/relayproxy/activity"
	"github.com/diffeo/relayproxy/activity/memory"
	"github.com/diffeo/relayproxy/activity/postgres"
)

// constructors maps an Implementation name to the function that opens
// it. Adding a store backend means adding an entry here -- Store()
// itself never needs to change.
var constructors = map[string]func(address string) (activity.Store, error){
	"": func(string) (activity.Store, error) { return memory.New(), nil },
	"memory": func(string) (activity.Store, error) {
		return memory.New(), nil
	},
	"postgres": func(address string) (activity.Store, error) {
		return postgres.New(address)
	},
}

// Backend names an activity.Store to open and, where the
// implementation needs one, the address to reach it (a postgres
// connection string, for instance). It satisfies flag.Value, so a
// binary can expose it directly:
//
//	b := backend.Backend{Implementation: "memory"}
//	flag.Var(&b, "backend", "impl:address of the activity store")
//	flag.Parse()
//	store, err := b.Store()
type Backend struct {
	Implementation string
	Address        string
}

// Store opens the named implementation. Call it once per process: a
// "memory" Backend hands back a fresh, independent map every time it's
// called, so calling it twice silently splits state across two
// stores rather than sharing one.
func (b *Backend) Store() (activity.Store, error) {
	open, ok := constructors[b.Implementation]
	if !ok {
		return nil, fmt.Errorf("backend: no such activity store implementation %q", b.Implementation)
	}
	return open(b.Address)
}

// String satisfies flag.Value, rendering back the form Set accepts.
func (b *Backend) String() string {
	if b.Address == "" {
		return b.Implementation
	}
	return b.Implementation + ":" + b.Address
}

// Set satisfies flag.Value. param is "implementation" or
// "implementation:address"; everything after the first colon is taken
// verbatim as the address, so a postgres DSN containing colons of its
// own still round-trips. It does not validate the implementation name
// or attempt a connection -- that's Store()'s job.
func (b *Backend) Set(param string) error {
	if param == "" {
		return fmt.Errorf("backend: empty backend specification")
	}
	impl, address, _ := strings.Cut(param, ":")
	b.Implementation = impl
	b.Address = address
	return nil
}
