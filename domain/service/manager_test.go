package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synapse-project/transport-core/domain/circuitbreaker"
	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/outbound"
)

type noopLogger struct{}

func (noopLogger) Error(msg string, args ...any) {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Debug(msg string, args ...any) {}

// fakeTransport is a minimal in-memory outbound.Transport used to drive
// Manager.Send/Receive without any real network I/O.
type fakeTransport struct {
	kind   model.TransportKind
	caps   model.Capabilities
	status model.TransportStatus

	sendErr  error
	sendFunc func(ctx context.Context, target *model.TransportTarget, msg *model.SecureMessage) (model.DeliveryReceipt, error)

	received []model.IncomingMessage
}

func (f *fakeTransport) Kind() model.TransportKind             { return f.kind }
func (f *fakeTransport) Capabilities() model.Capabilities      { return f.caps }
func (f *fakeTransport) CanReach(*model.TransportTarget) bool  { return true }
func (f *fakeTransport) Estimate(context.Context, *model.TransportTarget) model.TransportEstimate {
	return model.TransportEstimate{Available: true}
}
func (f *fakeTransport) TestConnectivity(context.Context, *model.TransportTarget) model.ConnectivityResult {
	return model.ConnectivityResult{Connected: true}
}
func (f *fakeTransport) Send(ctx context.Context, target *model.TransportTarget, msg *model.SecureMessage) (model.DeliveryReceipt, error) {
	if f.sendFunc != nil {
		return f.sendFunc(ctx, target, msg)
	}
	if f.sendErr != nil {
		return model.DeliveryReceipt{}, f.sendErr
	}
	return model.DeliveryReceipt{MessageID: msg.ID, Confirmation: model.Sent}, nil
}
func (f *fakeTransport) Receive(context.Context) ([]model.IncomingMessage, error) {
	out := f.received
	f.received = nil
	return out, nil
}
func (f *fakeTransport) Start(context.Context) error { f.status = model.Running; return nil }
func (f *fakeTransport) Stop(context.Context) error  { f.status = model.Stopped; return nil }
func (f *fakeTransport) Status() model.TransportStatus   { return f.status }
func (f *fakeTransport) Metrics() model.TransportMetrics { return model.TransportMetrics{} }

// fakeFactory wraps a pre-built fakeTransport so tests can register it
// through the same RegisterFactory/ConfigureTransport path production
// code uses, instead of reaching into Manager internals.
type fakeFactory struct {
	kind model.TransportKind
	t    *fakeTransport
}

func (f *fakeFactory) Kind() model.TransportKind { return f.kind }
func (f *fakeFactory) New(map[string]string, outbound.Logger) (outbound.Transport, error) {
	return f.t, nil
}

func setupManagerWithFake(t *testing.T, ft *fakeTransport) *Manager {
	t.Helper()
	m := NewManager(DefaultManagerConfig(), noopLogger{})
	require.NoError(t, m.RegisterFactory(&fakeFactory{kind: ft.kind, t: ft}))
	require.NoError(t, m.ConfigureTransport(ft.kind, nil, circuitbreaker.DefaultConfig()))
	return m
}

func TestManager_SendSucceedsOnHealthyTransport(t *testing.T) {
	ft := &fakeTransport{kind: model.Tcp, caps: model.Capabilities{MaxMessageSize: 1024, SupportedUrgencies: allUrgencies()}}
	m := setupManagerWithFake(t, ft)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(context.Background())

	target := &model.TransportTarget{Identifier: "peer@lan", Urgency: model.Interactive}
	msg := &model.SecureMessage{ID: "m1", Payload: []byte("hello")}

	receipt, err := m.Send(context.Background(), target, msg)
	require.NoError(t, err)
	assert.Equal(t, model.Tcp, receipt.Kind)
}

func TestManager_SendFailsOverToSecondCandidate(t *testing.T) {
	m := NewManager(DefaultManagerConfig(), noopLogger{})

	broken := &fakeTransport{kind: model.Tcp, caps: model.Capabilities{MaxMessageSize: 1024, SupportedUrgencies: allUrgencies()}, sendErr: &model.TransportIOError{Kind: model.Tcp, Detail: "connection refused"}}
	working := &fakeTransport{kind: model.Email, caps: model.Capabilities{MaxMessageSize: 1024, SupportedUrgencies: allUrgencies()}}

	require.NoError(t, m.RegisterFactory(&fakeFactory{kind: model.Tcp, t: broken}))
	require.NoError(t, m.RegisterFactory(&fakeFactory{kind: model.Email, t: working}))
	require.NoError(t, m.ConfigureTransport(model.Tcp, nil, circuitbreaker.DefaultConfig()))
	require.NoError(t, m.ConfigureTransport(model.Email, nil, circuitbreaker.DefaultConfig()))

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(context.Background())

	target := &model.TransportTarget{Identifier: "peer", Urgency: model.Background}
	msg := &model.SecureMessage{ID: "m1", Payload: []byte("x")}

	receipt, err := m.Send(context.Background(), target, msg)
	require.NoError(t, err)
	assert.Equal(t, model.Email, receipt.Kind)
}

func TestManager_AllTransportsFailedWhenNoneSucceed(t *testing.T) {
	ft := &fakeTransport{kind: model.Tcp, caps: model.Capabilities{MaxMessageSize: 1024, SupportedUrgencies: allUrgencies()}, sendErr: &model.TransportIOError{Kind: model.Tcp, Detail: "refused"}}
	m := setupManagerWithFake(t, ft)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(context.Background())

	target := &model.TransportTarget{Identifier: "peer", Urgency: model.Background}
	msg := &model.SecureMessage{ID: "m1", Payload: []byte("x")}

	_, err := m.Send(context.Background(), target, msg)
	require.Error(t, err)
	var allFailed *model.AllTransportsFailedError
	assert.ErrorAs(t, err, &allFailed)
}

func TestManager_MessageTooLargeExcludesCandidateButContinues(t *testing.T) {
	small := &fakeTransport{kind: model.Tcp, caps: model.Capabilities{MaxMessageSize: 4, SupportedUrgencies: allUrgencies()}}
	big := &fakeTransport{kind: model.Udp, caps: model.Capabilities{MaxMessageSize: 1024, SupportedUrgencies: allUrgencies()}}

	m := NewManager(DefaultManagerConfig(), noopLogger{})
	require.NoError(t, m.RegisterFactory(&fakeFactory{kind: model.Tcp, t: small}))
	require.NoError(t, m.RegisterFactory(&fakeFactory{kind: model.Udp, t: big}))
	require.NoError(t, m.ConfigureTransport(model.Tcp, nil, circuitbreaker.DefaultConfig()))
	require.NoError(t, m.ConfigureTransport(model.Udp, nil, circuitbreaker.DefaultConfig()))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(context.Background())

	target := &model.TransportTarget{Identifier: "peer", Urgency: model.Background}
	msg := &model.SecureMessage{ID: "m1", Payload: []byte("this payload is too big for tcp")}

	receipt, err := m.Send(context.Background(), target, msg)
	require.NoError(t, err)
	assert.Equal(t, model.Udp, receipt.Kind)
}

func TestManager_AllCandidatesRejectSizeSurfacesMessageTooLarge(t *testing.T) {
	ft := &fakeTransport{kind: model.Tcp, caps: model.Capabilities{MaxMessageSize: 4, SupportedUrgencies: allUrgencies()}}
	m := setupManagerWithFake(t, ft)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(context.Background())

	target := &model.TransportTarget{Identifier: "peer", Urgency: model.Background}
	msg := &model.SecureMessage{ID: "m1", Payload: []byte("bigger than every candidate's limit")}

	_, err := m.Send(context.Background(), target, msg)
	require.Error(t, err)
	var allFailed *model.AllTransportsFailedError
	require.ErrorAs(t, err, &allFailed)
	var tooLarge *model.MessageTooLargeError
	assert.ErrorAs(t, allFailed.Reasons[model.Tcp], &tooLarge)
}

func TestManager_BreakerTripsAfterRepeatedFailures(t *testing.T) {
	ft := &fakeTransport{
		kind:    model.Tcp,
		caps:    model.Capabilities{MaxMessageSize: 1024, SupportedUrgencies: allUrgencies()},
		sendErr: &model.TransportIOError{Kind: model.Tcp, Detail: "connection refused"},
	}
	m := NewManager(DefaultManagerConfig(), noopLogger{})
	require.NoError(t, m.RegisterFactory(&fakeFactory{kind: model.Tcp, t: ft}))
	require.NoError(t, m.ConfigureTransport(model.Tcp, nil, circuitbreaker.Config{
		FailureThreshold: 3,
		MinimumRequests:  3,
		FailureWindow:    10 * time.Second,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 1.0,
	}))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(context.Background())

	target := &model.TransportTarget{Identifier: "peer", Urgency: model.Background}
	msg := &model.SecureMessage{ID: "m1", Payload: []byte("x")}

	for i := 0; i < 3; i++ {
		_, err := m.Send(context.Background(), target, msg)
		require.Error(t, err)
	}

	// The breaker is Open now; the 4th send is rejected without I/O.
	_, err := m.Send(context.Background(), target, msg)
	require.Error(t, err)
	var allFailed *model.AllTransportsFailedError
	require.ErrorAs(t, err, &allFailed)
	var open *model.CircuitOpenError
	assert.ErrorAs(t, allFailed.Reasons[model.Tcp], &open)
}

func TestManager_ReceiveDrainsFanInQueue(t *testing.T) {
	ft := &fakeTransport{kind: model.Tcp, caps: model.Capabilities{MaxMessageSize: 1024, SupportedUrgencies: allUrgencies()}}
	m := setupManagerWithFake(t, ft)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop(context.Background())

	ft.received = []model.IncomingMessage{
		{Message: &model.SecureMessage{ID: "in1", Payload: []byte("a")}, Kind: model.Tcp, ArrivedAt: time.Now()},
	}

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		msgs, err := m.Receive(ctx)
		return err == nil && len(msgs) == 1
	}, time.Second, 10*time.Millisecond)
}
