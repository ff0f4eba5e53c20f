// Package txmetrics gives each transport implementation its own
// self-contained counters, using the same EWMA damping the Manager's
// aggregator applies, so Transport.Metrics() reflects this instance's
// own experience even before the Manager has recorded anything.
package txmetrics

import (
	"sync"
	"time"

	"github.com/synapse-project/transport-core/domain/model"
)

const latencyAlpha = 0.5

// Tracker accumulates one transport instance's TransportMetrics.
type Tracker struct {
	mu sync.Mutex
	m  model.TransportMetrics
}

// RecordSend updates send counters and, on success, the latency EWMA and
// reliability score; on failure it only dampens reliability.
func (t *Tracker) RecordSend(success bool, bytes int, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if success {
		t.m.MessagesSent++
		t.m.BytesSent += uint64(bytes)
		ms := float64(latency.Milliseconds())
		if t.m.MessagesSent == 1 {
			t.m.AverageLatencyMs = ms
		} else {
			t.m.AverageLatencyMs = latencyAlpha*ms + (1-latencyAlpha)*t.m.AverageLatencyMs
		}
		t.m.ReliabilityScore = minFloat(1, 0.9*t.m.ReliabilityScore+0.1)
	} else {
		t.m.SendFailures++
		t.m.ReliabilityScore = 0.9 * t.m.ReliabilityScore
	}
	t.m.LastUpdate = time.Now()
}

// RecordReceive updates receive counters only; reliability is a send-side
// concept.
func (t *Tracker) RecordReceive(success bool, bytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if success {
		t.m.MessagesReceived++
		t.m.BytesReceived += uint64(bytes)
	} else {
		t.m.ReceiveFailures++
	}
	t.m.LastUpdate = time.Now()
}

// SetActiveConnections records the current live connection count.
func (t *Tracker) SetActiveConnections(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m.ActiveConnections = n
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() model.TransportMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
