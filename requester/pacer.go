// Copyright 2019 The hithere Authors. All rights reserved.
// Use of this source code is governed by the Apache License,
// Version 2.0, that can be found in the LICENSE file.

package requester

import "time"

// sleepUntil blocks until t, or returns immediately if t has already
// passed. Scheduling against an absolute instant, rather than sleeping a
// relative delta between iterations, is what keeps drift from
// accumulating linearly over a long paced run.
func sleepUntil(t time.Time) {
	if d := time.Until(t); d > 0 {
		time.Sleep(d)
	}
}

// runPacedFixed enqueues exactly n tokens into tokens, the i-th at
// start + i*(1s/qps), then closes tokens. It is the pacer task for
// WorkWithQPS; tokens must be large enough that this send never blocks
// (the dispatch functions size it to n so that's guaranteed).
func runPacedFixed(tokens chan<- struct{}, start time.Time, qps, n int) {
	defer close(tokens)

	interval := time.Second / time.Duration(qps)
	for i := 0; i < n; i++ {
		sleepUntil(start.Add(time.Duration(i) * interval))
		tokens <- struct{}{}
	}
}

// runPacedDeadline enqueues tokens at start + i*(1s/qps) into the
// bounded tokens channel until the deadline passes, then closes it. The
// channel being bounded (capacity qps, set by the caller) is what
// back-propagates worker slowness to the pacer: once it's full, the
// next send blocks. That blocking send itself races against a timer
// armed at the deadline, so a pacer whose remaining workers have all
// already exited doesn't block forever on a channel nobody will ever
// drain again.
func runPacedDeadline(tokens chan<- struct{}, start, deadline time.Time, qps int) {
	defer close(tokens)

	deadlineTimer := time.NewTimer(time.Until(deadline))
	defer deadlineTimer.Stop()

	interval := time.Second / time.Duration(qps)
	for i := 0; ; i++ {
		select {
		case <-deadlineTimer.C:
			return
		default:
		}

		sleepUntil(start.Add(time.Duration(i) * interval))

		select {
		case tokens <- struct{}{}:
		case <-deadlineTimer.C:
			return
		}
	}
}
