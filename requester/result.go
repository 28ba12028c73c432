// Copyright 2019 The hithere Authors. All rights reserved.
// Use of this source code is governed by the Apache License,
// Version 2.0, that can be found in the LICENSE file.

package requester

import "time"

// RequestResult is a completed-request record produced by a single
// Client.Work call. It is immutable once constructed.
type RequestResult struct {
	// Start is stamped when the final attempt begins: before its
	// connection is resolved and dialed when a fresh one is needed,
	// otherwise just before the request is written on the cached one.
	Start time.Time
	// End is stamped just after the response body has been fully
	// consumed.
	End time.Time
	// Status is the HTTP status code of the response.
	Status int
	// LenBytes is the sum of the lengths of every chunk read from
	// the response body.
	LenBytes int64
}

// Duration is the wall-clock time the request took, from Start to End.
func (r RequestResult) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Outcome is what a worker sends into the ResultSink for every token it
// consumes: exactly one of Result (on success) or Err (a *ResolveError,
// *ConnectError, *SendError, *TimeoutError, or *ConfigError).
type Outcome struct {
	Result RequestResult
	Err    error
}

// RecommendedSinkBuffer is a starting point for sizing a caller's sink
// channel so that a worker's send into it does not become a rendezvous
// with the downstream consumer. It is advisory: the core does not
// allocate or enforce any sink buffer itself.
const RecommendedSinkBuffer = 4096
