package outbound

import (
	"context"

	"github.com/synapse-project/transport-core/domain/model"
)

// Transport is the uniform contract every protocol adapter implements.
// Implementations must be safe to call concurrently from multiple senders
// and must never retry internally beyond a single connection-level
// attempt: retry and failover are the Manager's job, not the transport's.
type Transport interface {
	// Kind is pure and never changes for a given instance.
	Kind() model.TransportKind

	// Capabilities is stable once Start has returned successfully.
	Capabilities() model.Capabilities

	// CanReach is a cheap, no-network-I/O check, consulting cached
	// discovery state at most (e.g. the mDNS peer cache).
	CanReach(target *model.TransportTarget) bool

	// Estimate returns a best-effort forecast without performing I/O
	// beyond consulting recently recorded metrics. It must return promptly.
	Estimate(ctx context.Context, target *model.TransportTarget) model.TransportEstimate

	// TestConnectivity performs a lightweight reachability probe. It must
	// not transmit any user payload.
	TestConnectivity(ctx context.Context, target *model.TransportTarget) model.ConnectivityResult

	// Send must honor MaxMessageSize by failing early, treat msg.Payload
	// as opaque, and complete or fail within ctx's deadline.
	Send(ctx context.Context, target *model.TransportTarget, msg *model.SecureMessage) (model.DeliveryReceipt, error)

	// Receive drains whatever has been buffered since the last call. It
	// never blocks indefinitely.
	Receive(ctx context.Context) ([]model.IncomingMessage, error)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	Status() model.TransportStatus
	Metrics() model.TransportMetrics
}

// Factory constructs a Transport from typed-but-stringly-keyed config.
// Validation happens eagerly, before Start is ever called.
type Factory interface {
	Kind() model.TransportKind
	New(cfg map[string]string, logger Logger) (Transport, error)
}
