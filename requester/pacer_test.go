// Copyright 2019 The hithere Authors. All rights reserved.
// Use of this source code is governed by the Apache License,
// Version 2.0, that can be found in the LICENSE file.

package requester

import (
	"testing"
	"time"
)

func TestRunPacedFixedRespectsAbsoluteSchedule(t *testing.T) {
	const qps = 50
	const n = 20

	tokens := make(chan struct{}, n)
	start := time.Now()
	go runPacedFixed(tokens, start, qps, n)

	count := 0
	for range tokens {
		count++
	}

	elapsed := time.Since(start)
	if count != n {
		t.Fatalf("got %d tokens, want %d", count, n)
	}

	floor := time.Duration(n-1) * time.Second / time.Duration(qps)
	if elapsed < floor {
		t.Fatalf("elapsed %s is below the schedule floor %s", elapsed, floor)
	}
}

func TestRunPacedDeadlineStopsAtDeadline(t *testing.T) {
	const qps = 1000

	tokens := make(chan struct{}, qps)
	start := time.Now()
	deadline := start.Add(150 * time.Millisecond)
	go runPacedDeadline(tokens, start, deadline, qps)

	count := 0
	for range tokens {
		count++
	}

	// We don't assert an exact count: the pacer stops close to the
	// deadline, not at an exact token boundary. We do assert it
	// terminates and doesn't wildly overrun.
	if count == 0 {
		t.Fatalf("expected at least one token before the deadline")
	}
	// Tokens are scheduled 1ms apart, so about 150 fit before the
	// deadline; twice that is a wild overrun.
	if count > 300 {
		t.Fatalf("got %d tokens in a 150ms run at %d qps, want at most 300", count, qps)
	}
}

func TestRunPacedDeadlineDoesNotBlockForeverWithNoReaders(t *testing.T) {
	const qps = 2

	// A start one second in the past puts the pacer behind its
	// schedule, so it fills the qps-slot queue at once and then blocks
	// on the next send well before the deadline.
	tokens := make(chan struct{}, qps)
	start := time.Now().Add(-time.Second)
	deadline := time.Now().Add(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		runPacedDeadline(tokens, start, deadline, qps)
		close(done)
	}()

	// Deliberately never drain tokens beyond its buffer: once full,
	// the pacer must still exit via the deadline timer instead of
	// blocking forever on a send nobody will service.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("pacer did not exit after the deadline with a full, undrained queue")
	}
}
