// Copyright 2019 The hithere Authors. All rights reserved.
// Use of this source code is governed by the Apache License,
// Version 2.0, that can be found in the LICENSE file.

package requester

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ClientBuilder is an immutable template used to construct fresh
// Clients. One ClientBuilder is shared read-only across every worker in
// a dispatch; Build clones whatever is mutable (headers) so that no
// Client can observe another Client's state.
type ClientBuilder struct {
	// URL is the absolute target URL. Scheme must be http or https.
	URL *url.URL

	// Method is the HTTP method token. Empty means GET.
	Method string

	// Header is cloned into every built Client. Duplicate values for
	// the same header name are preserved.
	Header http.Header

	// Body is sent as-is on every request. It is never mutated and
	// may be shared across every Client built from this template.
	Body []byte

	// TCPNoDelay disables Nagle's algorithm on the underlying TCP
	// connection when true.
	TCPNoDelay bool

	// Timeout, if positive, bounds a single request attempt. Zero
	// means no timeout.
	Timeout time.Duration
}

// Build produces a fresh Client from the template. It checks that the
// URL is present, has an http or https scheme and has a host, returning
// a ConfigError otherwise, so that such a misconfigured builder fails
// before any worker goroutine starts doing I/O. The port and the method
// are not checked here.
func (b *ClientBuilder) Build() (*Client, error) {
	if b.URL == nil {
		return nil, &ConfigError{Err: fmt.Errorf("no URL configured")}
	}
	if b.URL.Scheme != "http" && b.URL.Scheme != "https" {
		return nil, &ConfigError{Err: fmt.Errorf("unsupported scheme %q", b.URL.Scheme)}
	}
	if b.URL.Hostname() == "" {
		return nil, &ConfigError{Err: fmt.Errorf("URL has no host")}
	}

	method := b.Method
	if method == "" {
		method = http.MethodGet
	}

	header := b.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}

	return &Client{
		url:     b.URL,
		method:  method,
		header:  header,
		body:    b.Body,
		nodelay: b.TCPNoDelay,
		timeout: b.Timeout,
		rng:     rand.New(rand.NewSource(rand.Int63())),
	}, nil
}

// sendChannel is the Go rendering of the "send channel" from the design:
// a cached, believed-usable HTTP/1.1 connection. br buffers reads across
// requests and must be retained alongside conn, never recreated, or
// bytes read for one response but belonging to the next would be lost.
type sendChannel struct {
	conn net.Conn
	br   *bufio.Reader
}

func (s *sendChannel) Close() {
	_ = s.conn.Close()
}

// Client owns one keep-alive connection slot and one DNS resolver
// handle. A Client is built once per worker and is never shared: there
// is no lock protecting its fields because exactly one goroutine ever
// calls Work on it at a time.
type Client struct {
	url     *url.URL
	method  string
	header  http.Header
	body    []byte
	nodelay bool
	timeout time.Duration

	rng      *rand.Rand
	resolver *net.Resolver
	conn     *sendChannel // nil means Absent
}

// Work performs exactly one HTTP request: acquiring a connection (by
// reusing the cached one, or resolving and connecting fresh), sending
// the templated request, and draining the response body. On success the
// connection is cached for the next call; on any transport failure it is
// dropped so the next call starts over from resolve+connect.
func (c *Client) Work() (RequestResult, error) {
	start := time.Now()

	conn := c.conn
	c.conn = nil
	if conn == nil {
		var err error
		conn, err = c.acquire()
		if err != nil {
			return RequestResult{}, err
		}
	}

	attempts := 0
	for {
		req, err := c.buildRequest()
		if err != nil {
			conn.Close()
			return RequestResult{}, &ConfigError{Err: err}
		}

		status, n, err := c.sendOnce(conn, req)
		if err == nil {
			end := time.Now()
			c.conn = conn
			return RequestResult{Start: start, End: end, Status: status, LenBytes: n}, nil
		}

		if _, isTimeout := err.(*TimeoutError); isTimeout {
			conn.Close()
			return RequestResult{}, err
		}

		if se, ok := err.(*SendError); ok && se.Stage == "body" {
			conn.Close()
			return RequestResult{}, err
		}

		// Write/read failure on an established connection: allow
		// exactly one transparent reconnect before surfacing.
		attempts++
		if attempts > 1 {
			conn.Close()
			return RequestResult{}, err
		}

		conn.Close()
		start = time.Now()
		conn, err = c.acquire()
		if err != nil {
			return RequestResult{}, err
		}
	}
}

// acquire resolves the target host, selects one address at random, and
// establishes a fresh connection (TLS-wrapped for https).
func (c *Client) acquire() (*sendChannel, error) {
	ip, err := c.resolve()
	if err != nil {
		return nil, err
	}
	port, err := c.port()
	if err != nil {
		return nil, err
	}
	return c.connect(ip, port)
}

func (c *Client) resolve() (net.IP, error) {
	host := c.url.Hostname()
	if host == "" {
		return nil, &ConfigError{Err: fmt.Errorf("URL has no host")}
	}

	if c.resolver == nil {
		c.resolver = &net.Resolver{}
	}

	addrs, err := c.resolver.LookupIPAddr(context.Background(), host)
	if err != nil {
		return nil, &ResolveError{Host: host, Err: err}
	}
	if len(addrs) == 0 {
		return nil, &ResolveError{Host: host, Err: fmt.Errorf("no addresses returned")}
	}

	chosen := addrs[c.rng.Intn(len(addrs))]
	return chosen.IP, nil
}

func (c *Client) port() (int, error) {
	if p := c.url.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, &ConfigError{Err: fmt.Errorf("bad port %q: %w", p, err)}
		}
		return n, nil
	}
	switch c.url.Scheme {
	case "http":
		return 80, nil
	case "https":
		return 443, nil
	default:
		return 0, &ConfigError{Err: fmt.Errorf("unknown port for scheme %q", c.url.Scheme)}
	}
}

func (c *Client) connect(ip net.IP, port int) (*sendChannel, error) {
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))

	dialer := &net.Dialer{}
	raw, err := dialer.DialContext(context.Background(), "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	if tc, ok := raw.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(c.nodelay)
	}

	var conn net.Conn = raw
	if c.url.Scheme == "https" {
		tlsConn := tls.Client(raw, &tls.Config{ServerName: c.url.Hostname()})
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			raw.Close()
			return nil, &ConnectError{Addr: addr, Err: err}
		}
		conn = tlsConn
	}

	return &sendChannel{conn: conn, br: bufio.NewReader(conn)}, nil
}

// buildRequest assembles a fresh *http.Request from the template. The
// request line http.Request.Write produces carries only the path and
// query of the URL; the Host header (the authority) is derived
// separately and is never duplicated into the request line.
func (c *Client) buildRequest() (*http.Request, error) {
	var body io.Reader
	if c.body != nil {
		body = bytes.NewReader(c.body)
	}

	req, err := http.NewRequest(c.method, c.url.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header = c.header.Clone()
	if c.body != nil {
		req.ContentLength = int64(len(c.body))
	}
	return req, nil
}

type sendOutcome struct {
	status int
	n      int64
	err    error
}

// sendOnce writes req over conn, reads the response head, and drains
// the body, racing the whole operation against c.timeout when
// configured. The race is a plain select between the worker goroutine's
// result channel and a timer — a disjoint choice between two concurrent
// paths where the loser is abandoned, not interrupted.
func (c *Client) sendOnce(conn *sendChannel, req *http.Request) (status int, n int64, err error) {
	done := make(chan sendOutcome, 1)

	go func() {
		if werr := req.Write(conn.conn); werr != nil {
			done <- sendOutcome{err: &SendError{Stage: "write", Err: werr}}
			return
		}

		resp, rerr := http.ReadResponse(conn.br, req)
		if rerr != nil {
			done <- sendOutcome{err: &SendError{Stage: "read", Err: rerr}}
			return
		}

		read, derr := io.Copy(io.Discard, resp.Body)
		closeErr := resp.Body.Close()
		if derr != nil {
			done <- sendOutcome{err: &SendError{Stage: "body", Err: derr}}
			return
		}
		if closeErr != nil {
			done <- sendOutcome{err: &SendError{Stage: "body", Err: closeErr}}
			return
		}

		done <- sendOutcome{status: resp.StatusCode, n: read}
	}()

	if c.timeout <= 0 {
		o := <-done
		return o.status, o.n, o.err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.status, o.n, o.err
	case <-timer.C:
		// Drop the in-flight send: closing the connection
		// cooperatively unblocks whatever the goroutine above was
		// doing with an error, and we don't wait around for it.
		conn.Close()
		return 0, 0, &TimeoutError{Timeout: c.timeout}
	}
}
