package httpd

import (
	"testing"
	"time"
)

func TestMetricsRequestClasses(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest(200, 1000)
	m.ObserveRequest(200, 3000)
	m.ObserveRequest(404, 2000)
	m.ObserveRequest(400, 500)

	if got := m.Requests2xx.Load(); got != 2 {
		t.Errorf("Requests2xx = %d, want 2", got)
	}
	if got := m.Requests4xx.Load(); got != 2 {
		t.Errorf("Requests4xx = %d, want 2", got)
	}
	if got := m.RequestCount.Load(); got != 4 {
		t.Errorf("RequestCount = %d, want 4", got)
	}
}

func TestMetricsAverageLatency(t *testing.T) {
	m := NewMetrics()
	if m.AverageLatency() != 0 {
		t.Error("average latency of no requests should be 0")
	}
	m.ObserveRequest(200, 1000)
	m.ObserveRequest(200, 3000)
	if got := m.AverageLatency(); got != 2000*time.Nanosecond {
		t.Errorf("AverageLatency = %v, want 2us", got)
	}
}

func TestMetricsLatencyBuckets(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest(200, 5_000)          // <= 10us: all buckets
	m.ObserveRequest(200, 50_000_000)     // 50ms: buckets >= 100ms
	m.ObserveRequest(200, 20_000_000_000) // 20s: beyond every bucket

	if got := m.LatencyBuckets[0].Load(); got != 1 {
		t.Errorf("10us bucket = %d, want 1", got)
	}
	if got := m.LatencyBuckets[4].Load(); got != 2 {
		t.Errorf("100ms bucket = %d, want 2", got)
	}
	if got := m.LatencyBuckets[6].Load(); got != 2 {
		t.Errorf("10s bucket = %d, want 2", got)
	}
}

func TestMetricsConnectionCounters(t *testing.T) {
	m := NewMetrics()
	m.ObserveAccept()
	m.ObserveAccept()
	m.ObserveReject()
	m.ObserveClose()
	m.ObserveTimeout()
	m.ObserveRead(100)
	m.ObserveWrite(250)
	m.ObserveParseError()

	snap := m.Snapshot()
	if snap.AcceptedConns != 2 || snap.RejectedConns != 1 || snap.ClosedConns != 1 {
		t.Errorf("connection counters wrong: %+v", snap)
	}
	if snap.IdleTimeouts != 1 || snap.ParseErrors != 1 {
		t.Errorf("event counters wrong: %+v", snap)
	}
	if snap.ReadBytes != 100 || snap.WrittenBytes != 250 {
		t.Errorf("byte counters wrong: %+v", snap)
	}
}

func TestMetricsImplementsObserver(t *testing.T) {
	var _ Observer = NewMetrics()
	var _ Observer = noopObserver{}
}
