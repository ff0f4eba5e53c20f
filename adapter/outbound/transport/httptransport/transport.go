// Package httptransport implements the HTTP/S member of the transport
// contract: outbound sends POST the serialized message to a target URL;
// an optional embedded gorilla/mux server provides the inbound leg when
// a server port is configured; without one the transport is send-only.
package httptransport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/outbound"
	"github.com/synapse-project/transport-core/internal/txmetrics"
)

const messagePath = "/synapse/v1/message"

// Config holds validated configuration for one HTTP transport instance:
// use_https, server_port, server_address, timeout_ms,
// max_message_size, user_agent.
type Config struct {
	UseHTTPS       bool
	ServerPort     int // 0 means no embedded receive server
	ServerAddress  string
	Timeout        time.Duration
	MaxMessageSize int64
	UserAgent      string

	TLSCert tls.Certificate // used only when UseHTTPS and ServerPort > 0 and GetCertificate is nil

	// GetCertificate, when set, takes priority over TLSCert: it is wired
	// to a certwatcher.Watcher so a hot-reloaded certificate file is
	// picked up without restarting the listener.
	GetCertificate func(*tls.ClientHelloInfo) (*tls.Certificate, error)
}

// Transport is an HTTP-backed outbound.Transport.
type Transport struct {
	cfg    Config
	logger outbound.Logger
	codec  outbound.MessageCodec
	client *http.Client

	status atomic.Int32

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup

	recvMu  sync.Mutex
	recvBuf []model.IncomingMessage

	metrics txmetrics.Tracker
}

func New(cfg Config, logger outbound.Logger, codec outbound.MessageCodec) *Transport {
	t := &Transport{
		cfg:    cfg,
		logger: logger,
		codec:  codec,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	t.status.Store(int32(model.Stopped))
	return t
}

var _ outbound.Transport = (*Transport)(nil)

func (t *Transport) Kind() model.TransportKind { return model.Http }

func (t *Transport) Capabilities() model.Capabilities {
	return model.Capabilities{
		MaxMessageSize:     t.cfg.MaxMessageSize,
		Reliable:           true,
		RealTime:           false,
		Broadcast:          false,
		Bidirectional:      t.cfg.ServerPort > 0,
		Encrypted:          t.cfg.UseHTTPS,
		CostScore:          0.3,
		NetworkSpanning:    true,
		SupportedUrgencies: model.NewUrgencySet(model.Interactive, model.Background, model.Batch),
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
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target.Address, nil)
	if err != nil {
		return model.ConnectivityResult{Error: err.Error()}
	}
	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return model.ConnectivityResult{Error: err.Error()}
	}
	defer resp.Body.Close()
	return model.ConnectivityResult{Connected: true, RTT: time.Since(start), Quality: 1.0}
}

func (t *Transport) Start(ctx context.Context) error {
	if model.TransportStatus(t.status.Load()) == model.Running {
		return &model.AlreadyStartedError{Kind: model.Http}
	}
	t.status.Store(int32(model.Starting))

	if t.cfg.ServerPort > 0 {
		router := mux.NewRouter()
		router.HandleFunc(messagePath, t.handleMessage).Methods(http.MethodPost)

		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", t.cfg.ServerAddress, t.cfg.ServerPort))
		if err != nil {
			t.status.Store(int32(model.Stopped))
			return &model.TransportIOError{Kind: model.Http, Detail: err.Error()}
		}
		t.listener = lis
		t.server = &http.Server{Handler: router}

		if t.cfg.UseHTTPS {
			if t.cfg.GetCertificate != nil {
				t.server.TLSConfig = &tls.Config{GetCertificate: t.cfg.GetCertificate}
			} else {
				t.server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{t.cfg.TLSCert}}
			}
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
	if t.cfg.UseHTTPS {
		err = t.server.ServeTLS(t.listener, "", "")
	} else {
		err = t.server.Serve(t.listener)
	}
	if err != nil && err != http.ErrServerClosed {
		t.logger.Warn("http: server error", "error", err.Error())
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
		if err := t.server.Shutdown(shutdownCtx); err != nil {
			t.logger.Warn("http: shutdown error", "error", err.Error())
		}
	}
	t.wg.Wait()
	t.server = nil
	t.listener = nil

	t.status.Store(int32(model.Stopped))
	return nil
}

func (t *Transport) Status() model.TransportStatus { return model.TransportStatus(t.status.Load()) }

func (t *Transport) Metrics() model.TransportMetrics { return t.metrics.Snapshot() }

func (t *Transport) Send(ctx context.Context, target *model.TransportTarget, msg *model.SecureMessage) (model.DeliveryReceipt, error) {
	if !t.Capabilities().Fits(msg.Size()) {
		return model.DeliveryReceipt{}, &model.MessageTooLargeError{Kind: model.Http, Size: msg.Size(), Limit: t.cfg.MaxMessageSize}
	}
	if target == nil || target.Address == "" {
		return model.DeliveryReceipt{}, &model.UnsupportedTargetError{Reason: "http requires a URL address"}
	}

	payload, err := t.codec.Marshal(msg)
	if err != nil {
		return model.DeliveryReceipt{}, &model.SerializationError{Detail: err.Error()}
	}

	endpoint := target.Address
	if !strings.Contains(endpoint, messagePath) {
		endpoint = strings.TrimRight(endpoint, "/") + messagePath
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return model.DeliveryReceipt{}, &model.TransportIOError{Kind: model.Http, Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if t.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", t.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		t.metrics.RecordSend(false, 0, elapsed)
		return model.DeliveryReceipt{}, &model.TransportIOError{Kind: model.Http, Detail: err.Error()}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 500 {
		t.metrics.RecordSend(false, 0, elapsed)
		return model.DeliveryReceipt{}, &model.TransportIOError{Kind: model.Http, Detail: fmt.Sprintf("server error: %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		t.metrics.RecordSend(false, 0, elapsed)
		return model.DeliveryReceipt{}, &model.SerializationError{Detail: fmt.Sprintf("rejected: %d", resp.StatusCode)}
	}

	t.metrics.RecordSend(true, len(payload), elapsed)
	return model.DeliveryReceipt{
		MessageID:     msg.ID,
		TargetReached: endpoint,
		Confirmation:  model.Acknowledged,
	}, nil
}

func (t *Transport) Receive(ctx context.Context) ([]model.IncomingMessage, error) {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()
	out := t.recvBuf
	t.recvBuf = nil
	return out, nil
}

func (t *Transport) handleMessage(w http.ResponseWriter, r *http.Request) {
	maxSize := t.cfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = 5 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSize+1))
	if err != nil {
		t.metrics.RecordReceive(false, 0)
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > maxSize {
		t.metrics.RecordReceive(false, 0)
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	msg, err := t.codec.Unmarshal(body)
	if err != nil {
		t.metrics.RecordReceive(false, 0)
		http.Error(w, "malformed message", http.StatusBadRequest)
		return
	}

	t.metrics.RecordReceive(true, len(body))
	t.recvMu.Lock()
	t.recvBuf = append(t.recvBuf, model.IncomingMessage{
		Message:   msg,
		Source:    r.RemoteAddr,
		Kind:      model.Http,
		ArrivedAt: time.Now(),
	})
	t.recvMu.Unlock()

	w.WriteHeader(http.StatusOK)
}
