// Copyright 2019 The hithere Authors. All rights reserved.
// Use of this source code is governed by the Apache License,
// Version 2.0, that can be found in the LICENSE file.

package requester

import (
	"fmt"
	"time"
)

// ResolveError means DNS resolution of the target host failed, or
// returned an empty address set.
type ResolveError struct {
	Host string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %s", e.Host, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// ConnectError means the TCP connect, or the TLS handshake over a
// freshly dialed connection, failed.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError means something went wrong on an already-established
// connection: writing the request, reading the response head, or
// draining the response body. Stage distinguishes which, since only
// write/read failures are eligible for the one-shot reconnect retry
// described in the Client.Work algorithm; a body-stage failure is
// always surfaced as-is.
type SendError struct {
	Stage string // "write", "read", or "body"
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send (%s): %s", e.Stage, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// TimeoutError means the per-request timeout elapsed before the send
// completed. There is no retry on timeout.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s", e.Timeout)
}

// ConfigError means the ClientBuilder's template is not usable: a
// missing URL or host, an unsupported scheme, a bad port, or a request
// that cannot be formed from it. Build reports the URL, host and scheme
// problems before any I/O; a bad port is reported by the first Work
// call after DNS resolution, and a request that cannot be formed after
// the connection is acquired.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
