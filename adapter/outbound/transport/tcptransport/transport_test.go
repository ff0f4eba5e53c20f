package tcptransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapse-project/transport-core/adapter/outbound/codec"
	"github.com/synapse-project/transport-core/domain/model"
)

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

func newTestTransport(maxSize int64) *Transport {
	return New(Config{
		ListenPort:        0,
		ConnectionTimeout: time.Second,
		MaxMessageSize:    maxSize,
	}, noopLogger{}, codec.JSON{})
}

func TestTransport_Capabilities(t *testing.T) {
	tr := newTestTransport(1 << 20)
	caps := tr.Capabilities()
	assert.True(t, caps.Reliable)
	assert.True(t, caps.Bidirectional)
	assert.True(t, caps.SupportedUrgencies.Has(model.RealTime))
}

func TestTransport_Send_RejectsOversizedMessage(t *testing.T) {
	tr := newTestTransport(4)
	_, err := tr.Send(context.Background(), &model.TransportTarget{Address: "127.0.0.1:1"}, &model.SecureMessage{
		ID:      "m1",
		Payload: []byte("too big for the limit"),
	})
	require.Error(t, err)
	var tooLarge *model.MessageTooLargeError
	assert.ErrorAs(t, err, &tooLarge)
}

func TestTransport_Send_RejectsMissingAddress(t *testing.T) {
	tr := newTestTransport(1 << 20)
	_, err := tr.Send(context.Background(), &model.TransportTarget{}, &model.SecureMessage{ID: "m1"})
	require.Error(t, err)
	var unsupported *model.UnsupportedTargetError
	assert.ErrorAs(t, err, &unsupported)
}

func TestTransport_Stop_IsIdempotent(t *testing.T) {
	tr := newTestTransport(1 << 20)
	require.NoError(t, tr.Stop(context.Background()))

	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Stop(context.Background()))
	require.NoError(t, tr.Stop(context.Background()))
	assert.Equal(t, model.Stopped, tr.Status())
}

func TestTransport_StartStop_Lifecycle(t *testing.T) {
	tr := newTestTransport(1 << 20)
	require.NoError(t, tr.Start(context.Background()))
	assert.Equal(t, model.Running, tr.Status())

	err := tr.Start(context.Background())
	require.Error(t, err)
	var already *model.AlreadyStartedError
	assert.ErrorAs(t, err, &already)

	require.NoError(t, tr.Stop(context.Background()))
	assert.Equal(t, model.Stopped, tr.Status())
}
