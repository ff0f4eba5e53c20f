// Package emailtransport implements the store-and-forward Email member of
// the transport contract: SMTP for send, IMAP polling for receive. It is
// the slowest, most tolerant transport in the set, fit for Background and
// Batch urgencies rather than anything latency-sensitive.
package emailtransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/outbound"
	"github.com/synapse-project/transport-core/internal/txmetrics"
)

const processedFolder = "Synapse/Processed"

// Config holds the validated, typed configuration for one Email transport
// instance.
type Config struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPTLS      bool

	IMAPHost     string
	IMAPPort     int
	IMAPUser     string
	IMAPPassword string
	IMAPSSL      bool

	PollInterval   time.Duration
	MaxMessageSize int64
}

// Transport is an SMTP/IMAP-backed outbound.Transport. Send delivers one
// message per SMTP session; a background goroutine polls IMAP INBOX and
// surfaces X-Synapse-Protocol-tagged messages through Receive.
type Transport struct {
	cfg    Config
	logger outbound.Logger
	codec  outbound.MessageCodec

	status atomic.Int32 // model.TransportStatus

	cancel  context.CancelFunc
	wg      sync.WaitGroup

	recvMu  sync.Mutex
	recvBuf []model.IncomingMessage

	metrics txmetrics.Tracker
}

// New constructs an Email transport from validated config and a codec
// used to serialize SecureMessage into the MIME body.
func New(cfg Config, logger outbound.Logger, codec outbound.MessageCodec) *Transport {
	t := &Transport{cfg: cfg, logger: logger, codec: codec}
	t.status.Store(int32(model.Stopped))
	return t
}

var _ outbound.Transport = (*Transport)(nil)

func (t *Transport) Kind() model.TransportKind { return model.Email }

func (t *Transport) Capabilities() model.Capabilities {
	return model.Capabilities{
		MaxMessageSize:     t.cfg.MaxMessageSize,
		Reliable:           true,
		RealTime:           false,
		Broadcast:          false,
		Bidirectional:      true,
		Encrypted:          t.cfg.SMTPTLS || t.cfg.IMAPSSL,
		CostScore:          0.8,
		NetworkSpanning:    true,
		SupportedUrgencies: model.NewUrgencySet(model.Background, model.Batch, model.Interactive),
	}
}

func (t *Transport) CanReach(target *model.TransportTarget) bool {
	return target != nil && target.Address != ""
}

func (t *Transport) Estimate(ctx context.Context, target *model.TransportTarget) model.TransportEstimate {
	snap := t.metrics.Snapshot()
	latency := time.Duration(snap.AverageLatencyMs) * time.Millisecond
	if latency == 0 {
		latency = t.cfg.PollInterval // best guess: a round trip waits for the next poll
	}
	confidence := 0.2
	if snap.MessagesSent > 0 {
		confidence = 0.6
	}
	return model.TransportEstimate{
		Latency:     latency,
		Reliability: snap.ReliabilityScore,
		Available:   t.Status() == model.Running && t.CanReach(target),
		Confidence:  confidence,
	}
}

func (t *Transport) TestConnectivity(ctx context.Context, target *model.TransportTarget) model.ConnectivityResult {
	start := time.Now()
	addr := fmt.Sprintf("%s:%d", t.cfg.SMTPHost, t.cfg.SMTPPort)
	c, err := smtp.Dial(addr)
	if err != nil {
		return model.ConnectivityResult{Connected: false, Error: err.Error()}
	}
	defer c.Close()
	return model.ConnectivityResult{Connected: true, RTT: time.Since(start), Quality: 1.0}
}

func (t *Transport) Start(ctx context.Context) error {
	if model.TransportStatus(t.status.Load()) == model.Running {
		return &model.AlreadyStartedError{Kind: model.Email}
	}
	t.status.Store(int32(model.Starting))

	pollCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(1)
	go t.pollLoop(pollCtx)

	t.status.Store(int32(model.Running))
	return nil
}

// Stop is idempotent: stopping an already-stopped transport is a no-op.
func (t *Transport) Stop(ctx context.Context) error {
	if model.TransportStatus(t.status.Load()) != model.Running {
		return nil
	}
	t.status.Store(int32(model.Stopping))
	t.cancel()
	t.wg.Wait()
	t.status.Store(int32(model.Stopped))
	return nil
}

func (t *Transport) Status() model.TransportStatus {
	return model.TransportStatus(t.status.Load())
}

func (t *Transport) Metrics() model.TransportMetrics {
	return t.metrics.Snapshot()
}

// Send delivers msg as a single SMTP transaction. Email only ever
// acknowledges submission to the outbound relay, never end-to-end
// delivery, so a successful Send yields model.Sent rather than
// model.Acknowledged or model.Delivered.
func (t *Transport) Send(ctx context.Context, target *model.TransportTarget, msg *model.SecureMessage) (model.DeliveryReceipt, error) {
	if !t.Capabilities().Fits(msg.Size()) {
		return model.DeliveryReceipt{}, &model.MessageTooLargeError{Kind: model.Email, Size: msg.Size(), Limit: t.cfg.MaxMessageSize}
	}
	if target == nil || target.Address == "" {
		return model.DeliveryReceipt{}, &model.UnsupportedTargetError{Reason: "email requires an address"}
	}

	payload, err := t.codec.Marshal(msg)
	if err != nil {
		return model.DeliveryReceipt{}, &model.SerializationError{Detail: err.Error()}
	}

	from := t.cfg.SMTPUser
	if from == "" {
		from = "synapse@localhost"
	}
	body := buildMIME(from, target.Address, payload)

	start := time.Now()
	err = t.sendSMTP(from, target.Address, body)
	elapsed := time.Since(start)
	if err != nil {
		t.metrics.RecordSend(false, 0, elapsed)
		return model.DeliveryReceipt{}, &model.TransportIOError{Kind: model.Email, Detail: err.Error()}
	}
	t.metrics.RecordSend(true, len(body), elapsed)

	return model.DeliveryReceipt{
		MessageID:     msg.ID,
		TargetReached: target.Address,
		Confirmation:  model.Sent,
		Elapsed:       elapsed,
	}, nil
}

func (t *Transport) sendSMTP(from, to string, body []byte) error {
	addr := fmt.Sprintf("%s:%d", t.cfg.SMTPHost, t.cfg.SMTPPort)

	var auth smtp.Auth
	if t.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", t.cfg.SMTPUser, t.cfg.SMTPPassword, t.cfg.SMTPHost)
	}

	if !t.cfg.SMTPTLS {
		return smtp.SendMail(addr, auth, from, []string{to}, body)
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: t.cfg.SMTPHost})
	if err != nil {
		return err
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, t.cfg.SMTPHost)
	if err != nil {
		return err
	}
	defer c.Close()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (t *Transport) Receive(ctx context.Context) ([]model.IncomingMessage, error) {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()
	out := t.recvBuf
	t.recvBuf = nil
	return out, nil
}

func (t *Transport) pollLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.pollOnce(ctx); err != nil {
				t.logger.Warn("email: imap poll failed", "error", err.Error())
			}
		}
	}
}

func (t *Transport) pollOnce(ctx context.Context) error {
	sess, err := dialIMAP(t.cfg.IMAPHost, t.cfg.IMAPPort, t.cfg.IMAPSSL, 10*time.Second)
	if err != nil {
		return err
	}
	defer sess.logout()
	defer sess.Close()

	if err := sess.login(t.cfg.IMAPUser, t.cfg.IMAPPassword); err != nil {
		return err
	}
	if err := sess.selectMailbox("INBOX"); err != nil {
		return err
	}

	seqNums, err := sess.searchUnseen()
	if err != nil {
		return err
	}

	for _, seq := range seqNums {
		raw, err := sess.fetchRaw(seq)
		if err != nil {
			t.logger.Warn("email: fetch failed", "seq", seq, "error", err.Error())
			continue
		}

		payload, ok := extractPayload(raw)
		if !ok {
			continue // not a synapse message; leave it for a human
		}
		if int64(len(payload)) > t.cfg.MaxMessageSize {
			t.logger.Warn("email: oversized message dropped", "seq", seq, "size", len(payload))
			continue
		}

		msg, err := t.codec.Unmarshal(payload)
		if err != nil {
			t.logger.Warn("email: dropping unparseable message", "seq", seq, "error", err.Error())
			continue
		}

		t.metrics.RecordReceive(true, len(payload))
		t.recvMu.Lock()
		t.recvBuf = append(t.recvBuf, model.IncomingMessage{
			Message:   msg,
			Source:    t.cfg.IMAPUser,
			Kind:      model.Email,
			ArrivedAt: time.Now(),
		})
		t.recvMu.Unlock()

		if err := sess.moveToProcessed(seq, processedFolder); err != nil {
			t.logger.Warn("email: move to processed failed", "seq", seq, "error", err.Error())
		}
	}
	return nil
}
