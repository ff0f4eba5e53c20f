// Package wstransport implements the WebSocket member of the transport
// contract over the gorilla/websocket upgrade-and-pump pattern: one
// persistent connection per peer, one binary WebSocket message per
// SecureMessage (the protocol's own framing replaces the 4-byte length
// prefix TCP/QUIC need), outbound sends to a given peer serialized FIFO.
package wstransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/outbound"
	"github.com/synapse-project/transport-core/internal/peerqueue"
	"github.com/synapse-project/transport-core/internal/txmetrics"
)

const messagePath = "/synapse/v1/ws"

// Config holds validated configuration for one WebSocket transport
// instance.
type Config struct {
	ListenPort        int
	ListenAddress     string
	ConnectionTimeout time.Duration
	MaxMessageSize    int64
	UseTLS            bool
	TLSConfig         *tls.Config
}

// Transport is a WebSocket-backed outbound.Transport.
type Transport struct {
	cfg    Config
	logger outbound.Logger
	codec  outbound.MessageCodec

	status atomic.Int32

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup

	outQueue *peerqueue.Queues

	connMu sync.Mutex
	conns  map[string]*websocket.Conn

	recvMu  sync.Mutex
	recvBuf []model.IncomingMessage

	metrics txmetrics.Tracker
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func New(cfg Config, logger outbound.Logger, codec outbound.MessageCodec) *Transport {
	t := &Transport{
		cfg:      cfg,
		logger:   logger,
		codec:    codec,
		outQueue: peerqueue.New(16),
		conns:    make(map[string]*websocket.Conn),
	}
	t.status.Store(int32(model.Stopped))
	return t
}

var _ outbound.Transport = (*Transport)(nil)

func (t *Transport) Kind() model.TransportKind { return model.WebSocket }

func (t *Transport) Capabilities() model.Capabilities {
	return model.Capabilities{
		MaxMessageSize:     t.cfg.MaxMessageSize,
		Reliable:           true,
		RealTime:           true,
		Broadcast:          false,
		Bidirectional:      true,
		Encrypted:          t.cfg.UseTLS,
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
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.ConnectionTimeout}
	start := time.Now()
	conn, _, err := dialer.DialContext(ctx, target.Address, nil)
	if err != nil {
		return model.ConnectivityResult{Error: err.Error()}
	}
	defer conn.Close()
	return model.ConnectivityResult{Connected: true, RTT: time.Since(start), Quality: 1.0}
}

func (t *Transport) Start(ctx context.Context) error {
	if model.TransportStatus(t.status.Load()) == model.Running {
		return &model.AlreadyStartedError{Kind: model.WebSocket}
	}
	t.status.Store(int32(model.Starting))

	if t.cfg.ListenPort > 0 {
		router := mux.NewRouter()
		router.HandleFunc(messagePath, t.handleUpgrade)

		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", t.cfg.ListenAddress, t.cfg.ListenPort))
		if err != nil {
			t.status.Store(int32(model.Stopped))
			return &model.TransportIOError{Kind: model.WebSocket, Detail: err.Error()}
		}
		t.listener = lis
		t.server = &http.Server{Handler: router}
		if t.cfg.UseTLS {
			t.server.TLSConfig = t.cfg.TLSConfig
		}

		t.wg.Add(1)
		go t.serve()
	}

	t.status.Store(int32(model.Running))
	return nil
}

func (t *Transport) serve() {
	defer t.wg.Done()
	var err error
	if t.cfg.UseTLS {
		err = t.server.ServeTLS(t.listener, "", "")
	} else {
		err = t.server.Serve(t.listener)
	}
	if err != nil && err != http.ErrServerClosed {
		t.logger.Warn("ws: server error", "error", err.Error())
	}
}

// Stop is idempotent: stopping an already-stopped transport is a no-op.
func (t *Transport) Stop(ctx context.Context) error {
	if model.TransportStatus(t.status.Load()) != model.Running {
		return nil
	}
	t.status.Store(int32(model.Stopping))

	if t.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t.server.Shutdown(shutdownCtx)
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
	t.server = nil
	t.listener = nil
	t.metrics.SetActiveConnections(0)
	t.status.Store(int32(model.Stopped))
	return nil
}

func (t *Transport) Status() model.TransportStatus { return model.TransportStatus(t.status.Load()) }

func (t *Transport) Metrics() model.TransportMetrics { return t.metrics.Snapshot() }

func (t *Transport) Send(ctx context.Context, target *model.TransportTarget, msg *model.SecureMessage) (model.DeliveryReceipt, error) {
	if !t.Capabilities().Fits(msg.Size()) {
		return model.DeliveryReceipt{}, &model.MessageTooLargeError{Kind: model.WebSocket, Size: msg.Size(), Limit: t.cfg.MaxMessageSize}
	}
	if target == nil || target.Address == "" {
		return model.DeliveryReceipt{}, &model.UnsupportedTargetError{Reason: "websocket requires a ws(s):// URL address"}
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
		if werr := conn.WriteMessage(websocket.BinaryMessage, payload); werr != nil {
			t.dropConn(target.Address)
			return werr
		}
		return nil
	})
	elapsed := time.Since(start)
	if sendErr != nil {
		t.metrics.RecordSend(false, 0, elapsed)
		if sendErr == peerqueue.ErrQueueClosed {
			return model.DeliveryReceipt{}, &model.NotStartedError{Kind: model.WebSocket}
		}
		return model.DeliveryReceipt{}, &model.TransportIOError{Kind: model.WebSocket, Detail: sendErr.Error()}
	}
	t.metrics.RecordSend(true, len(payload), elapsed)

	return model.DeliveryReceipt{
		MessageID:     msg.ID,
		TargetReached: target.Address,
		Confirmation:  model.Acknowledged,
	}, nil
}

func (t *Transport) getOrDialLocked(ctx context.Context, addr string) (*websocket.Conn, error) {
	t.connMu.Lock()
	if c, ok := t.conns[addr]; ok {
		t.connMu.Unlock()
		return c, nil
	}
	t.connMu.Unlock()

	if _, err := url.Parse(addr); err != nil {
		return nil, &model.TransportIOError{Kind: model.WebSocket, Detail: "invalid url: " + err.Error()}
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.ConnectionTimeout}
	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, &model.TransportIOError{Kind: model.WebSocket, Detail: err.Error()}
	}

	t.connMu.Lock()
	t.conns[addr] = conn
	t.metrics.SetActiveConnections(len(t.conns))
	t.connMu.Unlock()

	t.wg.Add(1)
	go t.readPump(conn, addr)

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

// handleUpgrade accepts inbound WebSocket connections on the embedded
// server leg and pumps their frames into the shared receive buffer.
func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("ws: upgrade failed", "error", err.Error())
		return
	}
	peer := r.RemoteAddr
	t.wg.Add(1)
	go t.readPump(conn, peer)
}

func (t *Transport) readPump(conn *websocket.Conn, peer string) {
	defer t.wg.Done()
	defer conn.Close()

	maxSize := t.cfg.MaxMessageSize
	if maxSize > 0 {
		conn.SetReadLimit(maxSize)
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.metrics.RecordReceive(false, 0)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		msg, err := t.codec.Unmarshal(data)
		if err != nil {
			t.logger.Warn("ws: dropping unparseable message", "peer", peer, "error", err.Error())
			t.metrics.RecordReceive(false, 0)
			continue
		}

		t.metrics.RecordReceive(true, len(data))
		t.recvMu.Lock()
		t.recvBuf = append(t.recvBuf, model.IncomingMessage{
			Message:   msg,
			Source:    peer,
			Kind:      model.WebSocket,
			ArrivedAt: time.Now(),
		})
		t.recvMu.Unlock()
	}
}
