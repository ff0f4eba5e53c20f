// Package quictransport implements the transport contract's Quic kind
// over stdlib crypto/tls (TLS 1.3) with the same 4-byte length-prefixed
// framing as TCP/WebSocket. It satisfies the contract's obligations
// (capabilities, framing, single-attempt semantics) without claiming to
// speak actual QUIC on the wire.
package quictransport

import (
	"context"
	"crypto/tls"
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

// Config holds validated configuration for one QUIC transport instance.
type Config struct {
	ListenPort        int
	ConnectionTimeout time.Duration
	MaxMessageSize    int64
	TLSConfig         *tls.Config
}

// Transport is a TLS-backed outbound.Transport standing in for the Quic
// transport kind.
type Transport struct {
	cfg    Config
	logger outbound.Logger
	codec  outbound.MessageCodec

	status atomic.Int32

	listener net.Listener
	wg       sync.WaitGroup
	closeCh  chan struct{}

	outQueue *peerqueue.Queues

	connMu sync.Mutex
	conns  map[string]net.Conn

	recvMu  sync.Mutex
	recvBuf []model.IncomingMessage

	metrics txmetrics.Tracker
}

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

func (t *Transport) Kind() model.TransportKind { return model.Quic }

func (t *Transport) Capabilities() model.Capabilities {
	return model.Capabilities{
		MaxMessageSize:     t.cfg.MaxMessageSize,
		Reliable:           true,
		RealTime:           true,
		Broadcast:          false,
		Bidirectional:      true,
		Encrypted:          true,
		CostScore:          0.2,
		NetworkSpanning:    true,
		SupportedUrgencies: model.NewUrgencySet(model.RealTime, model.Interactive, model.Background),
	}
}

func (t *Transport) CanReach(target *model.TransportTarget) bool {
	return target != nil && target.Address != ""
}

func (t *Transport) Estimate(ctx context.Context, target *model.TransportTarget) model.TransportEstimate {
	snap := t.metrics.Snapshot()
	confidence := 0.3
	if snap.MessagesSent > 0 {
		confidence = 0.8
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
	d := tls.Dialer{NetDialer: &net.Dialer{Timeout: t.cfg.ConnectionTimeout}, Config: &tls.Config{InsecureSkipVerify: true}}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", target.Address)
	if err != nil {
		return model.ConnectivityResult{Error: err.Error()}
	}
	defer conn.Close()
	return model.ConnectivityResult{Connected: true, RTT: time.Since(start), Quality: 1.0}
}

func (t *Transport) Start(ctx context.Context) error {
	if model.TransportStatus(t.status.Load()) == model.Running {
		return &model.AlreadyStartedError{Kind: model.Quic}
	}
	t.status.Store(int32(model.Starting))

	lis, err := tls.Listen("tcp", fmt.Sprintf(":%d", t.cfg.ListenPort), t.cfg.TLSConfig)
	if err != nil {
		t.status.Store(int32(model.Stopped))
		return &model.TransportIOError{Kind: model.Quic, Detail: err.Error()}
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

func (t *Transport) Status() model.TransportStatus { return model.TransportStatus(t.status.Load()) }

func (t *Transport) Metrics() model.TransportMetrics { return t.metrics.Snapshot() }

func (t *Transport) Send(ctx context.Context, target *model.TransportTarget, msg *model.SecureMessage) (model.DeliveryReceipt, error) {
	if !t.Capabilities().Fits(msg.Size()) {
		return model.DeliveryReceipt{}, &model.MessageTooLargeError{Kind: model.Quic, Size: msg.Size(), Limit: t.cfg.MaxMessageSize}
	}
	if target == nil || target.Address == "" {
		return model.DeliveryReceipt{}, &model.UnsupportedTargetError{Reason: "quic requires a host:port address"}
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
			return model.DeliveryReceipt{}, &model.NotStartedError{Kind: model.Quic}
		}
		return model.DeliveryReceipt{}, &model.TransportIOError{Kind: model.Quic, Detail: sendErr.Error()}
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

	d := tls.Dialer{NetDialer: &net.Dialer{Timeout: t.cfg.ConnectionTimeout}, Config: &tls.Config{InsecureSkipVerify: true}}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &model.TransportIOError{Kind: model.Quic, Detail: err.Error()}
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
				t.logger.Warn("quic: accept error", "error", err.Error())
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
			t.logger.Warn("quic: dropping unparseable frame", "peer", peer, "error", err.Error())
			continue
		}

		t.metrics.RecordReceive(true, len(data))
		t.recvMu.Lock()
		t.recvBuf = append(t.recvBuf, model.IncomingMessage{
			Message:   msg,
			Source:    peer,
			Kind:      model.Quic,
			ArrivedAt: time.Now(),
		})
		t.recvMu.Unlock()
	}
}
