package inbound

import (
	"context"

	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/outbound"
)

// TransportManager is the single entry point an embedding application
// drives: it owns the factory registry, lifecycle of every transport,
// send orchestration with failover, and the receive fan-in queue.
type TransportManager interface {
	RegisterFactory(factory outbound.Factory) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	Send(ctx context.Context, target *model.TransportTarget, msg *model.SecureMessage) (model.DeliveryReceipt, error)
	Receive(ctx context.Context) ([]model.IncomingMessage, error)

	GetTransportStatus(kind model.TransportKind) (model.TransportStatus, bool)
	GetMetrics() model.AggregatedMetrics
	ListAvailableTransports() []model.TransportKind
	GetTransportCapabilities(kind model.TransportKind) (model.Capabilities, bool)
	EstimateDelivery(ctx context.Context, target *model.TransportTarget, kind model.TransportKind) (model.TransportEstimate, bool)
	SelectOptimalTransport(target *model.TransportTarget) (model.TransportKind, error)
}
