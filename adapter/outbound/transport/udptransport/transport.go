// Package udptransport implements the unreliable, single-datagram member
// of the transport contract: one shared socket per instance, no framing
// beyond the datagram boundary, and no fragmentation/reassembly: an
// oversize payload fails before any byte reaches the wire.
package udptransport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/outbound"
	"github.com/synapse-project/transport-core/internal/txmetrics"
)

// Config holds validated configuration for one UDP transport instance:
// bind_port, max_message_size.
type Config struct {
	BindPort       int
	MaxMessageSize int64
}

// recvCapacity bounds the buffered-but-undrained incoming queue; beyond
// it, datagrams are dropped and counted rather than read-and-blocked on
// (there is no TCP-style backpressure for a connectionless socket).
const recvCapacity = 1024

// Transport is a UDP-backed outbound.Transport.
type Transport struct {
	cfg    Config
	logger outbound.Logger
	codec  outbound.MessageCodec

	status atomic.Int32

	conn    net.PacketConn
	wg      sync.WaitGroup
	closeCh chan struct{}

	recvMu  sync.Mutex
	recvBuf []model.IncomingMessage

	metrics txmetrics.Tracker
}

func New(cfg Config, logger outbound.Logger, codec outbound.MessageCodec) *Transport {
	t := &Transport{cfg: cfg, logger: logger, codec: codec}
	t.status.Store(int32(model.Stopped))
	return t
}

var _ outbound.Transport = (*Transport)(nil)

func (t *Transport) Kind() model.TransportKind { return model.Udp }

func (t *Transport) Capabilities() model.Capabilities {
	return model.Capabilities{
		MaxMessageSize:     t.cfg.MaxMessageSize,
		Reliable:           false,
		RealTime:           true,
		Broadcast:          true,
		Bidirectional:      true,
		Encrypted:          false,
		CostScore:          0.0,
		NetworkSpanning:    true,
		SupportedUrgencies: model.NewUrgencySet(model.RealTime, model.Discovery),
	}
}

func (t *Transport) CanReach(target *model.TransportTarget) bool {
	return target != nil && target.Address != ""
}

func (t *Transport) Estimate(ctx context.Context, target *model.TransportTarget) model.TransportEstimate {
	snap := t.metrics.Snapshot()
	confidence := 0.3
	if snap.MessagesSent > 0 {
		confidence = 0.7
	}
	return model.TransportEstimate{
		Latency:     time.Duration(snap.AverageLatencyMs) * time.Millisecond,
		Reliability: snap.ReliabilityScore,
		Available:   t.Status() == model.Running && t.CanReach(target),
		Confidence:  confidence,
	}
}

func (t *Transport) TestConnectivity(ctx context.Context, target *model.TransportTarget) model.ConnectivityResult {
	if target == nil || target.Address == "" {
		return model.ConnectivityResult{Error: "no address"}
	}
	addr, err := net.ResolveUDPAddr("udp", target.Address)
	if err != nil {
		return model.ConnectivityResult{Error: err.Error()}
	}
	start := time.Now()
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return model.ConnectivityResult{Error: err.Error()}
	}
	defer conn.Close()
	// UDP has no handshake; a successful DialUDP only resolves local
	// routing, not reachability of the peer, so quality is an optimistic
	// guess rather than a measured RTT.
	return model.ConnectivityResult{Connected: true, RTT: time.Since(start), Quality: 0.5}
}

func (t *Transport) Start(ctx context.Context) error {
	if model.TransportStatus(t.status.Load()) == model.Running {
		return &model.AlreadyStartedError{Kind: model.Udp}
	}
	t.status.Store(int32(model.Starting))

	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", t.cfg.BindPort))
	if err != nil {
		t.status.Store(int32(model.Stopped))
		return &model.TransportIOError{Kind: model.Udp, Detail: err.Error()}
	}
	t.conn = conn
	t.closeCh = make(chan struct{})

	t.wg.Add(1)
	go t.readLoop()

	t.status.Store(int32(model.Running))
	return nil
}

// Stop is idempotent: stopping an already-stopped transport is a no-op.
func (t *Transport) Stop(ctx context.Context) error {
	if model.TransportStatus(t.status.Load()) != model.Running {
		return nil
	}
	t.status.Store(int32(model.Stopping))
	close(t.closeCh)
	if t.conn != nil {
		t.conn.Close()
	}
	t.wg.Wait()
	t.status.Store(int32(model.Stopped))
	return nil
}

func (t *Transport) Status() model.TransportStatus { return model.TransportStatus(t.status.Load()) }

func (t *Transport) Metrics() model.TransportMetrics { return t.metrics.Snapshot() }

// Send writes one datagram. There is no retry and no fragmentation:
// MaxMessageSize is enforced before any network I/O is attempted.
func (t *Transport) Send(ctx context.Context, target *model.TransportTarget, msg *model.SecureMessage) (model.DeliveryReceipt, error) {
	if !t.Capabilities().Fits(msg.Size()) {
		return model.DeliveryReceipt{}, &model.MessageTooLargeError{Kind: model.Udp, Size: msg.Size(), Limit: t.cfg.MaxMessageSize}
	}
	if target == nil || target.Address == "" {
		return model.DeliveryReceipt{}, &model.UnsupportedTargetError{Reason: "udp requires a host:port address"}
	}
	if t.Status() != model.Running {
		return model.DeliveryReceipt{}, &model.NotStartedError{Kind: model.Udp}
	}

	payload, err := t.codec.Marshal(msg)
	if err != nil {
		return model.DeliveryReceipt{}, &model.SerializationError{Detail: err.Error()}
	}

	addr, err := net.ResolveUDPAddr("udp", target.Address)
	if err != nil {
		return model.DeliveryReceipt{}, &model.TransportIOError{Kind: model.Udp, Detail: err.Error()}
	}

	start := time.Now()
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	}
	_, werr := t.conn.WriteTo(payload, addr)
	elapsed := time.Since(start)
	if werr != nil {
		t.metrics.RecordSend(false, 0, elapsed)
		return model.DeliveryReceipt{}, &model.TransportIOError{Kind: model.Udp, Detail: werr.Error()}
	}
	t.metrics.RecordSend(true, len(payload), elapsed)

	return model.DeliveryReceipt{
		MessageID:     msg.ID,
		TargetReached: target.Address,
		Confirmation:  model.Sent,
	}, nil
}

func (t *Transport) Receive(ctx context.Context) ([]model.IncomingMessage, error) {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()
	out := t.recvBuf
	t.recvBuf = nil
	return out, nil
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, t.maxDatagramSize())
	for {
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
				t.metrics.RecordReceive(false, 0)
				return
			}
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		msg, err := t.codec.Unmarshal(data)
		if err != nil {
			t.logger.Warn("udp: dropping unparseable datagram", "peer", addr.String(), "error", err.Error())
			t.metrics.RecordReceive(false, 0)
			continue
		}

		t.recvMu.Lock()
		if len(t.recvBuf) >= recvCapacity {
			t.recvMu.Unlock()
			t.metrics.RecordReceive(false, 0)
			t.logger.Warn("udp: incoming buffer full, dropping datagram", "peer", addr.String())
			continue
		}
		t.metrics.RecordReceive(true, n)
		t.recvBuf = append(t.recvBuf, model.IncomingMessage{
			Message:   msg,
			Source:    addr.String(),
			Kind:      model.Udp,
			ArrivedAt: time.Now(),
		})
		t.recvMu.Unlock()
	}
}

func (t *Transport) maxDatagramSize() int64 {
	if t.cfg.MaxMessageSize > 0 {
		return t.cfg.MaxMessageSize
	}
	return 65507
}
