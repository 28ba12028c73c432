// Copyright 2019 The hithere Authors. All rights reserved.
// Use of this source code is governed by the Apache License,
// Version 2.0, that can be found in the LICENSE file.

// Package requester drives a population of concurrent HTTP clients
// against a target endpoint and reports one timing record per completed
// request. It is the work-dispatch engine: DNS resolution, connection
// reuse, pacing, and fan-out across workers live here; turning the
// resulting stream of Outcomes into a report, a progress bar, or a
// process exit code is the caller's job.
package requester

import (
	"sync"
	"time"
)

// Work runs exactly nTasks requests, as fast as nWorkers clients can
// push them, and sends exactly nTasks Outcomes into sink. This is the
// fixed-count, unpaced shape: all tokens are pre-enqueued before any
// worker starts.
func Work(builder *ClientBuilder, sink chan<- Outcome, nTasks, nWorkers int) {
	tokens := make(chan struct{}, nTasks)
	for i := 0; i < nTasks; i++ {
		tokens <- struct{}{}
	}
	close(tokens)

	var wg sync.WaitGroup
	wg.Add(nWorkers)
	for i := 0; i < nWorkers; i++ {
		go func() {
			defer wg.Done()
			runFromQueue(builder, sink, tokens)
		}()
	}
	wg.Wait()
}

// WorkWithQPS runs exactly nTasks requests, paced so that the long-run
// average rate across the whole run is qps, fanned out across nWorkers
// clients, and sends exactly nTasks Outcomes into sink.
func WorkWithQPS(builder *ClientBuilder, sink chan<- Outcome, qps, nTasks, nWorkers int) {
	tokens := make(chan struct{}, nTasks)
	start := time.Now()
	go runPacedFixed(tokens, start, qps, nTasks)

	var wg sync.WaitGroup
	wg.Add(nWorkers)
	for i := 0; i < nWorkers; i++ {
		go func() {
			defer wg.Done()
			runFromQueue(builder, sink, tokens)
		}()
	}
	wg.Wait()
}

// WorkUntil runs requests as fast as nWorkers clients can push them
// until deadline, sending one Outcome into sink per completed request. A
// worker already mid-request when the deadline passes finishes that
// request before checking again.
func WorkUntil(builder *ClientBuilder, sink chan<- Outcome, deadline time.Time, nWorkers int) {
	var wg sync.WaitGroup
	wg.Add(nWorkers)
	for i := 0; i < nWorkers; i++ {
		go func() {
			defer wg.Done()
			runUntilDeadline(builder, sink, deadline)
		}()
	}
	wg.Wait()
}

// WorkUntilWithQPS runs requests paced at qps until deadline, fanned out
// across nWorkers clients. The token queue is bounded to qps entries, so
// workers falling behind the target rate back-pressures the pacer
// instead of letting an unbounded backlog build up.
func WorkUntilWithQPS(builder *ClientBuilder, sink chan<- Outcome, qps int, start, deadline time.Time, nWorkers int) {
	tokens := make(chan struct{}, qps)
	go runPacedDeadline(tokens, start, deadline, qps)

	var wg sync.WaitGroup
	wg.Add(nWorkers)
	for i := 0; i < nWorkers; i++ {
		go func() {
			defer wg.Done()
			runFromQueueUntilDeadline(builder, sink, tokens, deadline)
		}()
	}
	wg.Wait()
}

// runFromQueue is the worker loop shared by Work and WorkWithQPS: build
// one Client, consume tokens until the queue is closed, performing and
// reporting one request per token. If the Client cannot be built, every
// token the worker pulls is reported with that error instead.
func runFromQueue(builder *ClientBuilder, sink chan<- Outcome, tokens <-chan struct{}) {
	client, err := builder.Build()
	if err != nil {
		for range tokens {
			sink <- Outcome{Err: err}
		}
		return
	}

	for range tokens {
		result, err := client.Work()
		sink <- Outcome{Result: result, Err: err}
	}
}

// runUntilDeadline is the worker loop for WorkUntil: no queue, each
// worker self-gates on the deadline between requests.
func runUntilDeadline(builder *ClientBuilder, sink chan<- Outcome, deadline time.Time) {
	client, err := builder.Build()
	if err != nil {
		sink <- Outcome{Err: err}
		return
	}

	for time.Now().Before(deadline) {
		result, err := client.Work()
		sink <- Outcome{Result: result, Err: err}
	}
}

// runFromQueueUntilDeadline is the worker loop for WorkUntilWithQPS: pull
// a token, then check the deadline before acting on it. A token pulled
// before the deadline is always honored to completion, even if the
// request itself finishes after the deadline; a token pulled after the
// deadline has passed is dropped and the worker exits.
func runFromQueueUntilDeadline(builder *ClientBuilder, sink chan<- Outcome, tokens <-chan struct{}, deadline time.Time) {
	client, err := builder.Build()
	if err != nil {
		sink <- Outcome{Err: err}
		return
	}

	for {
		if _, ok := <-tokens; !ok {
			return
		}
		if !time.Now().Before(deadline) {
			return
		}
		result, err := client.Work()
		sink <- Outcome{Result: result, Err: err}
	}
}
