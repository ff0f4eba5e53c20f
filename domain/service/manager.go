package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/synapse-project/transport-core/domain/circuitbreaker"
	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/inbound"
	"github.com/synapse-project/transport-core/domain/port/outbound"
)

var _ inbound.TransportManager = (*Manager)(nil)

// registeredTransport bundles a live Transport with its breaker and
// registration order, which the selection policy needs for
// FirstAvailable and tie-breaking.
type registeredTransport struct {
	transport outbound.Transport
	breaker   *circuitbreaker.Breaker
	order     int
}

// ManagerConfig holds the Manager's own tunables.
type ManagerConfig struct {
	OperationTimeout time.Duration
	Policy           PolicyName
	Weights          AdaptiveWeights
}

// DefaultManagerConfig uses a 30 second per-attempt operation timeout.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		OperationTimeout: 30 * time.Second,
		Policy:           Adaptive,
		Weights:          DefaultAdaptiveWeights(),
	}
}

// Manager is the single entry point embedding applications drive: a
// factory registry, transport lifecycle, send orchestration with
// failover, and the receive fan-in queue. It holds no global mutable
// state beyond what the caller supplies at construction.
type Manager struct {
	cfg    ManagerConfig
	logger outbound.Logger
	policy *SelectionPolicy

	mu         sync.RWMutex
	factories  map[model.TransportKind]outbound.Factory
	transports map[model.TransportKind]*registeredTransport
	nextOrder  int

	metrics *MetricsAggregator

	incoming     chan model.IncomingMessage
	fanInCancel  context.CancelFunc
	fanInWG      sync.WaitGroup
}

// NewManager constructs a Manager that owns no transports yet; call
// RegisterFactory then Start.
func NewManager(cfg ManagerConfig, logger outbound.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		logger:     logger,
		policy:     NewSelectionPolicy(cfg.Policy, cfg.Weights),
		factories:  make(map[model.TransportKind]outbound.Factory),
		transports: make(map[model.TransportKind]*registeredTransport),
		metrics:    NewMetricsAggregator(nil),
		incoming:   make(chan model.IncomingMessage, 256),
	}
}

// RegisterFactory installs a factory for kind. Registration is idempotent:
// calling it again for the same kind replaces the prior factory.
func (m *Manager) RegisterFactory(factory outbound.Factory) error {
	if factory == nil {
		return &model.InvalidConfigError{Field: "factory", Reason: "nil"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[factory.Kind()] = factory
	return nil
}

// ConfigureTransport constructs and registers (but does not start) a
// transport of kind using the given config and breaker configuration.
func (m *Manager) ConfigureTransport(kind model.TransportKind, cfg map[string]string, bcfg circuitbreaker.Config) error {
	m.mu.Lock()
	factory, ok := m.factories[kind]
	if !ok {
		m.mu.Unlock()
		return &model.InvalidConfigError{Field: "kind", Reason: fmt.Sprintf("no factory registered for %s", kind)}
	}
	m.mu.Unlock()

	t, err := factory.New(cfg, m.logger)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	order := m.nextOrder
	m.nextOrder++
	m.transports[kind] = &registeredTransport{
		transport: t,
		breaker:   circuitbreaker.New(bcfg),
		order:     order,
	}
	m.metrics.Register(kind)
	return nil
}

// Start starts every registered transport in registration order. A
// failure to start one transport is logged and does not prevent the
// others from starting; partial availability is acceptable.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	ordered := m.orderedTransportsLocked()
	m.mu.RUnlock()

	for _, rt := range ordered {
		if err := rt.transport.Start(ctx); err != nil {
			m.logger.Warn("transport failed to start", "kind", rt.transport.Kind().String(), "error", err.Error())
			continue
		}
		m.logger.Info("transport started", "kind", rt.transport.Kind().String())
	}

	fanCtx, cancel := context.WithCancel(context.Background())
	m.fanInCancel = cancel
	for _, rt := range ordered {
		if rt.transport.Status() != model.Running {
			continue
		}
		m.fanInWG.Add(1)
		go m.fanIn(fanCtx, rt.transport)
	}
	return nil
}

// Stop stops every transport in reverse registration order and shuts
// down the receive fan-in.
func (m *Manager) Stop(ctx context.Context) error {
	if m.fanInCancel != nil {
		m.fanInCancel()
	}
	m.fanInWG.Wait()

	m.mu.RLock()
	ordered := m.orderedTransportsLocked()
	m.mu.RUnlock()

	for i := len(ordered) - 1; i >= 0; i-- {
		rt := ordered[i]
		if err := rt.transport.Stop(ctx); err != nil {
			m.logger.Warn("transport failed to stop cleanly", "kind", rt.transport.Kind().String(), "error", err.Error())
		}
	}
	return nil
}

func (m *Manager) orderedTransportsLocked() []*registeredTransport {
	out := make([]*registeredTransport, 0, len(m.transports))
	for _, rt := range m.transports {
		out = append(out, rt)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].order < out[j-1].order; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// fanIn continuously drains one transport's Receive into the shared
// incoming queue, tagging each message with its source kind. It never
// drops payloads silently: when the shared queue is full it blocks,
// exerting backpressure on the per-transport poll loop.
func (m *Manager) fanIn(ctx context.Context, t outbound.Transport) {
	defer m.fanInWG.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs, err := t.Receive(ctx)
			if err != nil {
				m.logger.Warn("receive failed", "kind", t.Kind().String(), "error", err.Error())
				continue
			}
			for _, im := range msgs {
				m.metrics.RecordReceive(t.Kind(), true, im.Message.Size())
				select {
				case m.incoming <- im:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Send computes a candidate order via the selection policy, then tries
// each candidate in turn under the breaker and the operation timeout,
// failing over until one succeeds or every candidate has been tried.
func (m *Manager) Send(ctx context.Context, target *model.TransportTarget, msg *model.SecureMessage) (model.DeliveryReceipt, error) {
	payloadSize := msg.Size()

	m.mu.RLock()
	candidates := make([]Candidate, 0, len(m.transports))
	lookup := make(map[model.TransportKind]*registeredTransport, len(m.transports))
	for kind, rt := range m.transports {
		if rt.transport.Status() != model.Running {
			continue
		}
		lookup[kind] = rt
		candidates = append(candidates, Candidate{
			Kind:         kind,
			Capabilities: rt.transport.Capabilities(),
			Metrics:      rt.transport.Metrics(),
			BreakerState: rt.breaker.State(),
			RegisteredAt: rt.order,
		})
	}
	m.mu.RUnlock()

	order := m.policy.Order(target, payloadSize, candidates)
	if len(order) == 0 {
		// The policy filters oversize kinds and open breakers out before
		// the attempt loop; when that empties the candidate list, the
		// exclusion cause is the terminal error, not a generic
		// unreachable-target.
		excluded := make(map[model.TransportKind]error)
		for kind, rt := range lookup {
			caps := rt.transport.Capabilities()
			switch {
			case !caps.Fits(payloadSize):
				excluded[kind] = &model.MessageTooLargeError{Kind: kind, Size: payloadSize, Limit: caps.MaxMessageSize}
			case rt.breaker.State() == circuitbreaker.Open:
				excluded[kind] = &model.CircuitOpenError{Kind: kind}
			}
		}
		if len(excluded) == len(lookup) && len(lookup) > 0 {
			return model.DeliveryReceipt{}, &model.AllTransportsFailedError{Reasons: excluded}
		}
		return model.DeliveryReceipt{}, &model.UnsupportedTargetError{Reason: "no transport can reach this target"}
	}

	reasons := make(map[model.TransportKind]error)
	for _, kind := range order {
		rt := lookup[kind]

		if !rt.transport.Capabilities().Fits(payloadSize) {
			reasons[kind] = &model.MessageTooLargeError{Kind: kind, Size: payloadSize, Limit: rt.transport.Capabilities().MaxMessageSize}
			continue
		}

		permit, ok := rt.breaker.CanProceed()
		if !ok {
			// A breaker-denied attempt still counts as a failed send, so
			// the rejection shows up in the kind's metrics.
			m.metrics.RecordSend(kind, false, 0, 0)
			reasons[kind] = &model.CircuitOpenError{Kind: kind}
			continue
		}

		timeout := m.cfg.OperationTimeout
		if target.HasDeadline() {
			if untilDeadline := time.Until(*target.Deadline); untilDeadline < timeout {
				timeout = untilDeadline
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		receipt, err := rt.transport.Send(attemptCtx, target, msg)
		elapsed := time.Since(start)
		cancel()

		if err != nil {
			outcome := circuitbreaker.Failure
			if attemptCtx.Err() == context.DeadlineExceeded {
				err = &model.TimeoutError{Kind: kind}
			}
			rt.breaker.RecordOutcome(permit, outcome)
			m.metrics.RecordSend(kind, false, 0, elapsed)
			m.logger.Warn("send attempt failed", "kind", kind.String(), "error", err.Error())
			reasons[kind] = err
			continue
		}

		rt.breaker.RecordOutcome(permit, circuitbreaker.Success)
		m.metrics.RecordSend(kind, true, payloadSize, elapsed)
		receipt.Kind = kind
		receipt.Elapsed = elapsed
		return receipt, nil
	}

	return model.DeliveryReceipt{}, &model.AllTransportsFailedError{Reasons: reasons}
}

// Receive drains whatever has accumulated in the shared incoming queue
// since the last call, without blocking indefinitely.
func (m *Manager) Receive(ctx context.Context) ([]model.IncomingMessage, error) {
	var out []model.IncomingMessage
	for {
		select {
		case im := <-m.incoming:
			out = append(out, im)
		case <-ctx.Done():
			return out, nil
		default:
			return out, nil
		}
	}
}

func (m *Manager) GetTransportStatus(kind model.TransportKind) (model.TransportStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.transports[kind]
	if !ok {
		return model.Stopped, false
	}
	return rt.transport.Status(), true
}

func (m *Manager) GetMetrics() model.AggregatedMetrics {
	return m.metrics.Aggregate()
}

func (m *Manager) ListAvailableTransports() []model.TransportKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.TransportKind, 0, len(m.transports))
	for _, rt := range m.orderedTransportsLocked() {
		if rt.transport.Status() == model.Running {
			out = append(out, rt.transport.Kind())
		}
	}
	return out
}

func (m *Manager) GetTransportCapabilities(kind model.TransportKind) (model.Capabilities, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.transports[kind]
	if !ok {
		return model.Capabilities{}, false
	}
	return rt.transport.Capabilities(), true
}

func (m *Manager) EstimateDelivery(ctx context.Context, target *model.TransportTarget, kind model.TransportKind) (model.TransportEstimate, bool) {
	m.mu.RLock()
	rt, ok := m.transports[kind]
	m.mu.RUnlock()
	if !ok {
		return model.TransportEstimate{}, false
	}
	return rt.transport.Estimate(ctx, target), true
}

// SelectOptimalTransport is a pure function of current metrics, breaker
// states, and capabilities: the same inputs always produce the same kind.
func (m *Manager) SelectOptimalTransport(target *model.TransportTarget) (model.TransportKind, error) {
	m.mu.RLock()
	candidates := make([]Candidate, 0, len(m.transports))
	for kind, rt := range m.transports {
		if rt.transport.Status() != model.Running {
			continue
		}
		candidates = append(candidates, Candidate{
			Kind:         kind,
			Capabilities: rt.transport.Capabilities(),
			Metrics:      rt.transport.Metrics(),
			BreakerState: rt.breaker.State(),
			RegisteredAt: rt.order,
		})
	}
	m.mu.RUnlock()

	order := m.policy.Order(target, 0, candidates)
	if len(order) == 0 {
		return 0, &model.UnsupportedTargetError{Reason: "no transport can reach this target"}
	}
	return order[0], nil
}
