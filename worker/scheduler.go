// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package worker implements the four background reconciliation
// workers that drive the activity state machine (Send, Requeue,
// Retry-Reply, Cleanup), and the Scheduler that runs them.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Job is one periodic task driven by a Scheduler: it fires every
// Interval, never re-entrant with itself (the Scheduler will not start
// tick N+1 until tick N's Run call returns), and runs concurrently
// with every other Job on the same Scheduler.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler runs a fixed set of Jobs, one goroutine per Job, for as
// long as the provided context is live. This is the Go equivalent of
// the "fire a job every p seconds, never re-entrant with itself,
// resilient to individual tick failures" facility described in §9:
// each Job's own Run is expected to recover from/log its own errors
// (worker ticks never propagate errors to the Scheduler, per §7), and
// a panic in one Job does not take down the others.
type Scheduler struct {
	// Clock is the time source used to drive tickers. If nil, uses
	// a real wall-clock source. Tests inject a clock.Mock so tick
	// timing is deterministic.
	Clock clock.Clock

	Jobs []Job

	// PanicHandler is called (if non-nil) when a Job's Run panics,
	// so that a single misbehaving job doesn't escape the
	// Scheduler and bring down the process.
	PanicHandler func(job string, recovered interface{})

	wg sync.WaitGroup
}

// Run starts every Job and blocks until ctx is cancelled and every
// Job's in-flight tick has returned.
func (s *Scheduler) Run(ctx context.Context) {
	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}

	s.wg.Add(len(s.Jobs))
	for _, job := range s.Jobs {
		go s.runJob(ctx, clk, job)
	}
	s.wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, clk clock.Clock, job Job) {
	defer s.wg.Done()

	ticker := clk.Ticker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, job)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil && s.PanicHandler != nil {
			s.PanicHandler(job.Name, r)
		}
	}()
	job.Run(ctx)
}
