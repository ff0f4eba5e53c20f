package service

import (
	"sync"
	"time"

	"github.com/synapse-project/transport-core/domain/model"
)

// latencyAlpha is the EWMA smoothing factor for average latency.
const latencyAlpha = 0.5

// MetricsAggregator owns one TransportMetrics record per registered kind.
// Writers take a short critical section per kind; readers get a
// copy-on-read snapshot, never a live pointer.
type MetricsAggregator struct {
	mu   sync.RWMutex
	byKind map[model.TransportKind]*model.TransportMetrics
}

// NewMetricsAggregator creates an aggregator with zeroed records for the
// given kinds.
func NewMetricsAggregator(kinds []model.TransportKind) *MetricsAggregator {
	a := &MetricsAggregator{byKind: make(map[model.TransportKind]*model.TransportMetrics, len(kinds))}
	for _, k := range kinds {
		a.byKind[k] = &model.TransportMetrics{LastUpdate: time.Now()}
	}
	return a
}

// Register adds a zeroed record for kind if one does not already exist.
func (a *MetricsAggregator) Register(kind model.TransportKind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.byKind[kind]; !ok {
		a.byKind[kind] = &model.TransportMetrics{LastUpdate: time.Now()}
	}
}

// RecordSend updates counters after a send attempt for kind.
func (a *MetricsAggregator) RecordSend(kind model.TransportKind, success bool, bytes int, latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.ensureLocked(kind)

	if success {
		m.MessagesSent++
		m.BytesSent += uint64(bytes)
		observed := float64(latency.Milliseconds())
		if m.AverageLatencyMs == 0 {
			m.AverageLatencyMs = observed
		} else {
			m.AverageLatencyMs = latencyAlpha*observed + (1-latencyAlpha)*m.AverageLatencyMs
		}
		m.ReliabilityScore = minFloat(1, 0.9*m.ReliabilityScore+0.1)
	} else {
		m.SendFailures++
		m.ReliabilityScore = 0.9 * m.ReliabilityScore
	}
	m.LastUpdate = time.Now()
}

// RecordReceive updates counters after an inbound delivery for kind.
func (a *MetricsAggregator) RecordReceive(kind model.TransportKind, success bool, bytes int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.ensureLocked(kind)

	if success {
		m.MessagesReceived++
		m.BytesReceived += uint64(bytes)
	} else {
		m.ReceiveFailures++
	}
	m.LastUpdate = time.Now()
}

// SetActiveConnections overwrites the active-connection gauge for kind.
func (a *MetricsAggregator) SetActiveConnections(kind model.TransportKind, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.ensureLocked(kind)
	m.ActiveConnections = n
	m.LastUpdate = time.Now()
}

func (a *MetricsAggregator) ensureLocked(kind model.TransportKind) *model.TransportMetrics {
	m, ok := a.byKind[kind]
	if !ok {
		m = &model.TransportMetrics{}
		a.byKind[kind] = m
	}
	return m
}

// Snapshot returns a copy of a single kind's metrics.
func (a *MetricsAggregator) Snapshot(kind model.TransportKind) model.TransportMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if m, ok := a.byKind[kind]; ok {
		return *m
	}
	return model.TransportMetrics{}
}

// Aggregate sums every registered kind's metrics and returns the per-kind
// breakdown alongside the total.
func (a *MetricsAggregator) Aggregate() model.AggregatedMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := model.AggregatedMetrics{ByKind: make(map[model.TransportKind]model.TransportMetrics, len(a.byKind))}
	for k, m := range a.byKind {
		snap := *m
		out.ByKind[k] = snap
		out.Total.MessagesSent += snap.MessagesSent
		out.Total.MessagesReceived += snap.MessagesReceived
		out.Total.BytesSent += snap.BytesSent
		out.Total.BytesReceived += snap.BytesReceived
		out.Total.SendFailures += snap.SendFailures
		out.Total.ReceiveFailures += snap.ReceiveFailures
		out.Total.ActiveConnections += snap.ActiveConnections
		if snap.LastUpdate.After(out.Total.LastUpdate) {
			out.Total.LastUpdate = snap.LastUpdate
		}
	}
	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
