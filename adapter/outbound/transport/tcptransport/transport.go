// Package tcptransport implements the reliable TCP member of the
// transport contract: one persistent connection per peer, length-prefix
// framed, with outbound sends to a given peer serialized FIFO.
package tcptransport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/outbound"
	"github.com/synapse-project/transport-core/internal/peerqueue"
	"github.com/synapse-project/transport-core/internal/txmetrics"
	"github.com/synapse-project/transport-core/internal/wireframe"
)

// Config holds the validated, typed configuration for one TCP transport
// instance.
type Config struct {
	ListenPort          int
	ConnectionTimeout   time.Duration
	MaxMessageSize      int64
}

// Transport is a TCP-backed outbound.Transport. It listens for inbound
// connections and keeps one outgoing connection per peer, reused across
// sends and torn down on I/O error.
type Transport struct {
	cfg    Config
	logger outbound.Logger
	codec  outbound.MessageCodec

	status atomic.Int32 // model.TransportStatus

	listener net.Listener
	wg       sync.WaitGroup
	closeCh  chan struct{}

	outQueue *peerqueue.Queues

	connMu sync.Mutex
	conns  map[string]net.Conn

	recvMu sync.Mutex
	recvBuf []model.IncomingMessage

	metrics txmetrics.Tracker
}

// New constructs a TCP transport from validated config and a codec used
// to serialize SecureMessage onto the wire.
func New(cfg Config, logger outbound.Logger, codec outbound.MessageCodec) *Transport {
	t := &Transport{
		cfg:      cfg,
		logger:   logger,
		codec:    codec,
		outQueue: peerqueue.New(16),
		conns:    make(map[string]net.Conn),
	}
	t.status.Store(int32(model.Stopped))
	return t
}

var _ outbound.Transport = (*Transport)(nil)

func (t *Transport) Kind() model.TransportKind { return model.Tcp }

func (t *Transport) Capabilities() model.Capabilities {
	return model.Capabilities{
		MaxMessageSize:     t.cfg.MaxMessageSize,
		Reliable:           true,
		RealTime:           false,
		Broadcast:          false,
		Bidirectional:      true,
		Encrypted:          false,
		CostScore:          0.1,
		NetworkSpanning:    true,
		SupportedUrgencies: model.NewUrgencySet(model.RealTime, model.Interactive, model.Background, model.Batch),
	}
}

func (t *Transport) CanReach(target *model.TransportTarget) bool {
	return target != nil && target.Address != ""
}

func (t *Transport) Estimate(ctx context.Context, target *model.TransportTarget) model.TransportEstimate {
	snap := t.metrics.Snapshot()
	available := t.Status() == model.Running && t.CanReach(target)
	confidence := 0.3
	if snap.MessagesSent > 0 {
		confidence = 0.8
	}
	return model.TransportEstimate{
		Latency:     time.Duration(snap.AverageLatencyMs) * time.Millisecond,
		Reliability: snap.ReliabilityScore,
		Available:   available,
		Confidence:  confidence,
	}
}

func (t *Transport) TestConnectivity(ctx context.Context, target *model.TransportTarget) model.ConnectivityResult {
	if target == nil || target.Address == "" {
		return model.ConnectivityResult{Error: "no address"}
	}
	d := net.Dialer{Timeout: t.cfg.ConnectionTimeout}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", target.Address)
	if err != nil {
		return model.ConnectivityResult{Connected: false, Error: err.Error()}
	}
	defer conn.Close()
	return model.ConnectivityResult{Connected: true, RTT: time.Since(start), Quality: 1.0}
}

func (t *Transport) Start(ctx context.Context) error {
	if model.TransportStatus(t.status.Load()) == model.Running {
		return &model.AlreadyStartedError{Kind: model.Tcp}
	}
	t.status.Store(int32(model.Starting))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.cfg.ListenPort))
	if err != nil {
		t.status.Store(int32(model.Stopped))
		return &model.TransportIOError{Kind: model.Tcp, Detail: err.Error()}
	}
	t.listener = lis
	t.closeCh = make(chan struct{})

	t.wg.Add(1)
	go t.acceptLoop()

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
	if t.listener != nil {
		t.listener.Close()
	}
	t.outQueue.Close()

	t.connMu.Lock()
	for peer, c := range t.conns {
		c.Close()
		delete(t.conns, peer)
	}
	t.connMu.Unlock()

	t.wg.Wait()
	t.outQueue = peerqueue.New(16)
	t.metrics.SetActiveConnections(0)
	t.status.Store(int32(model.Stopped))
	return nil
}

func (t *Transport) Status() model.TransportStatus {
	return model.TransportStatus(t.status.Load())
}

func (t *Transport) Metrics() model.TransportMetrics {
	return t.metrics.Snapshot()
}

// Send enqueues the write onto the target peer's FIFO queue so that
// concurrent senders to the same peer never interleave frames on the
// wire, then performs the actual write under ctx's deadline.
func (t *Transport) Send(ctx context.Context, target *model.TransportTarget, msg *model.SecureMessage) (model.DeliveryReceipt, error) {
	if !t.Capabilities().Fits(msg.Size()) {
		return model.DeliveryReceipt{}, &model.MessageTooLargeError{Kind: model.Tcp, Size: msg.Size(), Limit: t.cfg.MaxMessageSize}
	}
	if target == nil || target.Address == "" {
		return model.DeliveryReceipt{}, &model.UnsupportedTargetError{Reason: "tcp requires a host:port address"}
	}

	payload, err := t.codec.Marshal(msg)
	if err != nil {
		return model.DeliveryReceipt{}, &model.SerializationError{Detail: err.Error()}
	}

	start := time.Now()
	sendErr := t.outQueue.Enqueue(ctx, target.Address, func(ctx context.Context) error {
		conn, err := t.getOrDialLocked(ctx, target.Address)
		if err != nil {
			return err
		}
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetWriteDeadline(deadline)
		}
		if werr := wireframe.WriteFrame(conn, payload, t.cfg.MaxMessageSize); werr != nil {
			t.dropConn(target.Address)
			return werr
		}
		return nil
	})
	elapsed := time.Since(start)
	if sendErr != nil {
		t.metrics.RecordSend(false, 0, elapsed)
		if sendErr == peerqueue.ErrQueueClosed {
			return model.DeliveryReceipt{}, &model.NotStartedError{Kind: model.Tcp}
		}
		return model.DeliveryReceipt{}, &model.TransportIOError{Kind: model.Tcp, Detail: sendErr.Error()}
	}
	t.metrics.RecordSend(true, len(payload), elapsed)

	return model.DeliveryReceipt{
		MessageID:     msg.ID,
		TargetReached: target.Address,
		Confirmation:  model.Acknowledged,
	}, nil
}

func (t *Transport) getOrDialLocked(ctx context.Context, addr string) (net.Conn, error) {
	t.connMu.Lock()
	if c, ok := t.conns[addr]; ok {
		t.connMu.Unlock()
		return c, nil
	}
	t.connMu.Unlock()

	d := net.Dialer{Timeout: t.cfg.ConnectionTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &model.TransportIOError{Kind: model.Tcp, Detail: err.Error()}
	}

	t.connMu.Lock()
	t.conns[addr] = conn
	t.metrics.SetActiveConnections(len(t.conns))
	t.connMu.Unlock()
	return conn, nil
}

func (t *Transport) dropConn(addr string) {
	t.connMu.Lock()
	if c, ok := t.conns[addr]; ok {
		c.Close()
		delete(t.conns, addr)
	}
	t.metrics.SetActiveConnections(len(t.conns))
	t.connMu.Unlock()
}

func (t *Transport) Receive(ctx context.Context) ([]model.IncomingMessage, error) {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()
	out := t.recvBuf
	t.recvBuf = nil
	return out, nil
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
				t.logger.Warn("tcp: accept error", "error", err.Error())
				return
			}
		}
		t.wg.Add(1)
		go t.handleConn(conn)
	}
}

func (t *Transport) handleConn(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	peer := conn.RemoteAddr().String()
	for {
		select {
		case <-t.closeCh:
			return
		default:
		}

		data, err := wireframe.ReadFrame(conn, t.cfg.MaxMessageSize)
		if err != nil {
			t.metrics.RecordReceive(false, 0)
			return
		}

		msg, err := t.codec.Unmarshal(data)
		if err != nil {
			t.logger.Warn("tcp: dropping unparseable frame", "peer", peer, "error", err.Error())
			continue
		}

		t.metrics.RecordReceive(true, len(data))
		t.recvMu.Lock()
		t.recvBuf = append(t.recvBuf, model.IncomingMessage{
			Message:   msg,
			Source:    peer,
			Kind:      model.Tcp,
			ArrivedAt: time.Now(),
		})
		t.recvMu.Unlock()
	}
}
