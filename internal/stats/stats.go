// Package stats accumulates per-path request counters and append-only
// request and error logs for the statistics endpoint.
package stats

import (
	"strings"
	"sync"
)

// ErrorCounter is the counter key incremented for every recorded error.
const ErrorCounter = "error"

// RequestRecord is one observed request.
type RequestRecord struct {
	Path string `json:"path"`
}

// ErrorRecord is one observed error.
type ErrorRecord struct {
	Path    string `json:"path"`
	Message string `json:"msg"`
}

// Snapshot is a point-in-time copy of everything the collector holds,
// in the shape served by the statistics endpoint.
type Snapshot struct {
	Statistics map[string]int64 `json:"statistics"`
	Details    []RequestRecord  `json:"details"`
	Errors     []ErrorRecord    `json:"errors"`
}

// Collector counts requests by incremental path prefix and keeps the
// request and error logs. Counters and logs grow without bound for the
// lifetime of the process; the statistics endpoint exposes them as-is.
type Collector struct {
	mu       sync.Mutex
	counters map[string]int64
	requests []RequestRecord
	errors   []ErrorRecord
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		counters: make(map[string]int64),
	}
}

// Process records one request for the given path, which is expected in
// "/segment/..." form. Every prefix of the path is counted, so a parent
// prefix accumulates the counts of all paths beneath it. The root
// prefix "/" is counted for every request.
func (c *Collector) Process(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters["/"]++

	segments := strings.Split(path, "/")
	incremental := ""
	for _, segment := range segments[1:] {
		incremental += "/" + segment
		c.counters[incremental]++
	}

	c.requests = append(c.requests, RequestRecord{Path: path})
}

// Error records one failed request with its message and bumps the
// error counter.
func (c *Collector) Error(path, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counters[ErrorCounter]++
	c.errors = append(c.errors, ErrorRecord{Path: path, Message: msg})
}

// Counters returns a copy of the counter map.
func (c *Collector) Counters() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.copyCounters()
}

// Details returns a copy of the request log.
func (c *Collector) Details() []RequestRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.copyRequests()
}

// Errors returns a copy of the error log.
func (c *Collector) Errors() []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.copyErrors()
}

// Report returns a consistent snapshot of counters and both logs.
func (c *Collector) Report() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Statistics: c.copyCounters(),
		Details:    c.copyRequests(),
		Errors:     c.copyErrors(),
	}
}

func (c *Collector) copyCounters() map[string]int64 {
	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}
	return counters
}

func (c *Collector) copyRequests() []RequestRecord {
	requests := make([]RequestRecord, len(c.requests))
	copy(requests, c.requests)
	return requests
}

func (c *Collector) copyErrors() []ErrorRecord {
	errors := make([]ErrorRecord, len(c.errors))
	copy(errors, c.errors)
	return errors
}
