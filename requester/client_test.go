// Copyright 2019 The hithere Authors. All rights reserved.
// Use of this source code is governed by the Apache License,
// Version 2.0, that can be found in the LICENSE file.

package requester

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func mustBuild(t *testing.T, b *ClientBuilder) *Client {
	t.Helper()
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %s", err)
	}
	return c
}

func TestClientWorkSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse: %s", err)
	}

	client := mustBuild(t, &ClientBuilder{URL: u, Method: http.MethodGet})

	for i := 0; i < 3; i++ {
		result, err := client.Work()
		if err != nil {
			t.Fatalf("Work: %s", err)
		}
		if result.Status != http.StatusOK {
			t.Fatalf("status = %d, want 200", result.Status)
		}
		if result.LenBytes != 4 {
			t.Fatalf("len_bytes = %d, want 4", result.LenBytes)
		}
		if result.End.Before(result.Start) {
			t.Fatalf("end %v before start %v", result.End, result.Start)
		}
		// The connection should be reused: the cached slot should
		// never go back to nil on success.
		if client.conn == nil {
			t.Fatalf("connection not cached after success")
		}
	}
}

// acceptAndHang starts a listener that accepts connections and never
// writes a response, to exercise the per-request timeout path.
func acceptAndHang(t *testing.T) (addr string, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %s", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				// Consume the request line so the client's
				// write doesn't itself fail, then just hang.
				_, _ = bufio.NewReader(c).ReadString('\n')
				<-make(chan struct{})
			}(conn)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestClientWorkTimeout(t *testing.T) {
	addr, closeFn := acceptAndHang(t)
	defer closeFn()

	u, _ := url.Parse("http://" + addr + "/")
	client := mustBuild(t, &ClientBuilder{URL: u, Timeout: 200 * time.Millisecond})

	start := time.Now()
	_, err := client.Work()
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected a timeout error, got nil")
	}
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("expected *TimeoutError, got %T: %s", err, err)
	}
	if elapsed < 200*time.Millisecond || elapsed > 2*time.Second {
		t.Fatalf("elapsed = %s, want roughly 200ms..2s", elapsed)
	}
}

// closeThenServe closes each of the first failFirst connections it
// accepts immediately without reading or writing anything, then serves
// every subsequent connection normally with a 200.
func closeThenServe(t *testing.T, failFirst int) (addr string, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %s", err)
	}

	var accepted int64

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			n := atomic.AddInt64(&accepted, 1)
			if int(n) <= failFirst {
				conn.Close()
				continue
			}
			go func(c net.Conn) {
				defer c.Close()
				req, err := http.ReadRequest(bufio.NewReader(c))
				if err != nil {
					return
				}
				resp := &http.Response{
					StatusCode: http.StatusOK,
					ProtoMajor: 1,
					ProtoMinor: 1,
					Request:    req,
					Header:     make(http.Header),
					Body:       http.NoBody,
				}
				resp.Write(c)
			}(conn)
		}
	}()

	return ln.Addr().String(), func() { ln.Close() }
}

func TestClientWorkRetriesOnceOnSendFailure(t *testing.T) {
	addr, closeFn := closeThenServe(t, 1)
	defer closeFn()

	u, _ := url.Parse("http://" + addr + "/")
	client := mustBuild(t, &ClientBuilder{URL: u})

	result, err := client.Work()
	if err != nil {
		t.Fatalf("Work: %s", err)
	}
	if result.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", result.Status)
	}
}

func TestClientWorkSurfacesAfterOneRetry(t *testing.T) {
	addr, closeFn := closeThenServe(t, 1000)
	defer closeFn()

	u, _ := url.Parse("http://" + addr + "/")
	client := mustBuild(t, &ClientBuilder{URL: u})

	_, err := client.Work()
	if err == nil {
		t.Fatalf("expected an error, got nil")
	}
	switch err.(type) {
	case *SendError, *ConnectError:
		// either is an acceptable surfacing of "connection closed
		// on us", depending on exactly where the write/read lands
	default:
		t.Fatalf("expected *SendError or *ConnectError, got %T: %s", err, err)
	}
}

func TestClientBuildRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		b    *ClientBuilder
	}{
		{"nil URL", &ClientBuilder{}},
		{"bad scheme", &ClientBuilder{URL: mustParseURL(t, "ftp://example.com/")}},
		{"no host", &ClientBuilder{URL: mustParseURL(t, "http:///path")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.b.Build()
			if err == nil {
				t.Fatalf("expected an error")
			}
			if _, ok := err.(*ConfigError); !ok {
				t.Fatalf("expected *ConfigError, got %T: %s", err, err)
			}
		})
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %s", raw, err)
	}
	return u
}

func TestClientPreservesDuplicateHeaders(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Values("X-Tag")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	header := make(http.Header)
	header.Add("X-Tag", "a")
	header.Add("X-Tag", "b")

	client := mustBuild(t, &ClientBuilder{URL: u, Header: header})
	if _, err := client.Work(); err != nil {
		t.Fatalf("Work: %s", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("X-Tag values = %v, want [a b]", got)
	}
}
