package httpd

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the request latency histogram buckets in
// nanoseconds, from 10us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 7

// Metrics tracks operational statistics for a server. It implements
// Observer; all counters are atomics, safe for reactor and workers alike.
type Metrics struct {
	// Connection lifecycle
	AcceptedConns atomic.Uint64 // connections accepted
	RejectedConns atomic.Uint64 // connections turned away at the fd cap
	ClosedConns   atomic.Uint64 // connections closed
	IdleTimeouts  atomic.Uint64 // closes caused by idle expiry

	// Request counters by status class
	Requests2xx atomic.Uint64
	Requests4xx atomic.Uint64
	ParseErrors atomic.Uint64

	// Byte counters
	ReadBytes    atomic.Uint64
	WrittenBytes atomic.Uint64

	// Latency tracking
	TotalLatencyNs atomic.Uint64
	RequestCount   atomic.Uint64

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] counts requests with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Server lifecycle
	StartTime atomic.Int64 // serve start timestamp (UnixNano)
	StopTime  atomic.Int64 // serve stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// ObserveAccept implements Observer
func (m *Metrics) ObserveAccept() {
	m.AcceptedConns.Add(1)
}

// ObserveReject implements Observer
func (m *Metrics) ObserveReject() {
	m.RejectedConns.Add(1)
}

// ObserveClose implements Observer
func (m *Metrics) ObserveClose() {
	m.ClosedConns.Add(1)
}

// ObserveTimeout implements Observer
func (m *Metrics) ObserveTimeout() {
	m.IdleTimeouts.Add(1)
}

// ObserveRequest implements Observer
func (m *Metrics) ObserveRequest(code int, latencyNs uint64) {
	switch {
	case code >= 200 && code < 300:
		m.Requests2xx.Add(1)
	case code >= 400 && code < 500:
		m.Requests4xx.Add(1)
	}
	m.TotalLatencyNs.Add(latencyNs)
	m.RequestCount.Add(1)
	for i, bound := range LatencyBuckets {
		if latencyNs <= bound {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// ObserveRead implements Observer
func (m *Metrics) ObserveRead(bytes uint64) {
	m.ReadBytes.Add(bytes)
}

// ObserveWrite implements Observer
func (m *Metrics) ObserveWrite(bytes uint64) {
	m.WrittenBytes.Add(bytes)
}

// ObserveParseError implements Observer
func (m *Metrics) ObserveParseError() {
	m.ParseErrors.Add(1)
}

// AverageLatency returns the mean request latency, or 0 with no requests.
func (m *Metrics) AverageLatency() time.Duration {
	count := m.RequestCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(m.TotalLatencyNs.Load() / count)
}

// Uptime returns the time since serving started.
func (m *Metrics) Uptime() time.Duration {
	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if stop == 0 {
		return time.Since(time.Unix(0, start))
	}
	return time.Duration(stop - start)
}

// Snapshot is a point-in-time copy of the counters, convenient for logging
// or encoding.
type Snapshot struct {
	AcceptedConns uint64
	RejectedConns uint64
	ClosedConns   uint64
	IdleTimeouts  uint64
	Requests2xx   uint64
	Requests4xx   uint64
	ParseErrors   uint64
	ReadBytes     uint64
	WrittenBytes  uint64
	RequestCount  uint64
	AvgLatency    time.Duration
}

// Snapshot captures the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		AcceptedConns: m.AcceptedConns.Load(),
		RejectedConns: m.RejectedConns.Load(),
		ClosedConns:   m.ClosedConns.Load(),
		IdleTimeouts:  m.IdleTimeouts.Load(),
		Requests2xx:   m.Requests2xx.Load(),
		Requests4xx:   m.Requests4xx.Load(),
		ParseErrors:   m.ParseErrors.Load(),
		ReadBytes:     m.ReadBytes.Load(),
		WrittenBytes:  m.WrittenBytes.Load(),
		RequestCount:  m.RequestCount.Load(),
		AvgLatency:    m.AverageLatency(),
	}
}

// noopObserver backs a nil Observer option.
type noopObserver struct{}

func (noopObserver) ObserveAccept()             {}
func (noopObserver) ObserveReject()             {}
func (noopObserver) ObserveClose()              {}
func (noopObserver) ObserveTimeout()            {}
func (noopObserver) ObserveRequest(int, uint64) {}
func (noopObserver) ObserveRead(uint64)         {}
func (noopObserver) ObserveWrite(uint64)        {}
func (noopObserver) ObserveParseError()         {}
