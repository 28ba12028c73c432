// Copyright 2019 The hithere Authors. All rights reserved.
// Use of this source code is governed by the Apache License,
// Version 2.0, that can be found in the LICENSE file.

// Command tempo is a small HTTP load generator built on top of the
// requester package. It owns everything requester deliberately leaves
// out: flag parsing, an optional request template file, and a live
// rate readout while the run is in progress.
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/bpowers/tempo/requester"

	"github.com/paulbellamy/ratecounter"
)

const tempoUA = "tempo/0.1"

var (
	n   = flag.Int("n", 200, "number of requests to run")
	c   = flag.Int("c", 2, "number of workers")
	q   = flag.Float64("q", 0, "target requests per second (0 means unpaced)")
	z   = flag.Duration("z", 0, "duration to run for; overrides -n when set")
	t   = flag.Duration("t", 20*time.Second, "per-request timeout")
	m   = flag.String("m", http.MethodGet, "HTTP method")
	cfg = flag.String("config", "", "path to a YAML request template (see requestTemplate)")

	nodelay = flag.Bool("tcp-nodelay", false, "disable Nagle's algorithm on the client connection")
)

var usage = `Usage: tempo [options...] <url>

Options:
  -n  Number of requests to run. Default is 200. Ignored when -z is set.
  -c  Number of concurrent workers. Default is 2.
  -q  Target requests per second, long-run average. 0 disables pacing.
  -z  Duration to run for. When set, tempo runs until the deadline
      instead of for a fixed request count. Examples: -z 10s -z 3m.
  -t  Per-request timeout. Default is 20s.
  -m  HTTP method. Default is GET.

  -config       Path to a YAML file describing headers and a body;
                see requestTemplate below. The URL argument still wins.
  -tcp-nodelay  Disable Nagle's algorithm on the client connection.
`

// requestTemplate is the shape of the optional -config YAML file: a
// header map and a request body, the two ClientBuilder fields that
// don't fit comfortably on a command line.
type requestTemplate struct {
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
}

func loadTemplate(path string) (requestTemplate, error) {
	var tmpl requestTemplate
	if path == "" {
		return tmpl, nil
	}
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return tmpl, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &tmpl); err != nil {
		return tmpl, fmt.Errorf("parsing %s: %w", path, err)
	}
	return tmpl, nil
}

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		usageAndExit("a target URL is required")
	}

	target, err := url.Parse(flag.Args()[0])
	if err != nil {
		usageAndExit(fmt.Sprintf("bad URL: %s", err))
	}

	tmpl, err := loadTemplate(*cfg)
	if err != nil {
		usageAndExit(err.Error())
	}

	header := make(http.Header)
	header.Set("User-Agent", tempoUA)
	for k, v := range tmpl.Headers {
		header.Set(k, v)
	}

	var body []byte
	if tmpl.Body != "" {
		body = []byte(tmpl.Body)
	}

	builder := &requester.ClientBuilder{
		URL:        target,
		Method:     *m,
		Header:     header,
		Body:       body,
		TCPNoDelay: *nodelay,
		Timeout:    *t,
	}

	nWorkers := *c
	if nWorkers < 1 {
		usageAndExit("-c must be at least 1")
	}

	sink := make(chan requester.Outcome, requester.RecommendedSinkBuffer)
	done := make(chan struct{})
	go report(sink, done)

	switch {
	case *z > 0 && *q > 0:
		start := time.Now()
		deadline := start.Add(*z)
		requester.WorkUntilWithQPS(builder, sink, int(*q), start, deadline, nWorkers)
	case *z > 0:
		requester.WorkUntil(builder, sink, time.Now().Add(*z), nWorkers)
	case *q > 0:
		requester.WorkWithQPS(builder, sink, int(*q), *n, nWorkers)
	default:
		requester.Work(builder, sink, *n, nWorkers)
	}

	close(sink)
	<-done
}

// report drains sink, printing a running count and rate every second
// until it is closed. It is the minimal stand-in for the aggregation
// and progress display requester explicitly leaves to its caller.
func report(sink <-chan requester.Outcome, done chan<- struct{}) {
	defer close(done)

	counter := ratecounter.NewRateCounter(1 * time.Second)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	total := 0
	errors := 0

	for {
		select {
		case o, ok := <-sink:
			if !ok {
				fmt.Printf("\ndone: %d requests, %d errors\n", total, errors)
				return
			}
			total++
			counter.Incr(1)
			if o.Err != nil {
				errors++
			}
		case <-ticker.C:
			fmt.Printf("\r%d requests, %d errors, %d req/s", total, errors, counter.Rate())
		}
	}
}

func usageAndExit(msg string) {
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
		fmt.Fprintln(os.Stderr)
	}
	flag.Usage()
	fmt.Fprintln(os.Stderr)
	os.Exit(1)
}
