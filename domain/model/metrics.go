package model

import "time"

// TransportMetrics is a point-in-time, copy-on-read snapshot of a single
// transport kind's counters. Counters are monotone non-decreasing for the
// lifetime of a transport; ReliabilityScore stays within [0,1].
type TransportMetrics struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
	SendFailures     uint64
	ReceiveFailures  uint64

	AverageLatencyMs float64 // EWMA
	ReliabilityScore float64 // EWMA over successes, in [0,1]
	ActiveConnections int

	LastUpdate time.Time
}

// AggregatedMetrics sums TransportMetrics across every registered kind,
// plus exposes the per-kind snapshots the sum was built from.
type AggregatedMetrics struct {
	Total  TransportMetrics
	ByKind map[TransportKind]TransportMetrics
}
