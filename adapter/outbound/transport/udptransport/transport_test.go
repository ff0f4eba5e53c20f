package udptransport

import (
	"context"
	"testing"

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
	return New(Config{BindPort: 0, MaxMessageSize: maxSize}, noopLogger{}, codec.JSON{})
}

func TestTransport_Capabilities(t *testing.T) {
	tr := newTestTransport(1200)
	caps := tr.Capabilities()
	assert.False(t, caps.Reliable)
	assert.True(t, caps.RealTime)
	assert.True(t, caps.Broadcast)
	assert.True(t, caps.SupportedUrgencies.Has(model.Discovery))
}

func TestTransport_Send_RejectsOversizedMessage(t *testing.T) {
	tr := newTestTransport(4)
	_, err := tr.Send(context.Background(), &model.TransportTarget{Address: "127.0.0.1:1"}, &model.SecureMessage{
		ID:      "m1",
		Payload: []byte("way too big"),
	})
	require.Error(t, err)
	var tooLarge *model.MessageTooLargeError
	assert.ErrorAs(t, err, &tooLarge)
}

func TestTransport_Send_RequiresStarted(t *testing.T) {
	tr := newTestTransport(1200)
	_, err := tr.Send(context.Background(), &model.TransportTarget{Address: "127.0.0.1:9"}, &model.SecureMessage{ID: "m1"})
	require.Error(t, err)
	var notStarted *model.NotStartedError
	assert.ErrorAs(t, err, &notStarted)
}

func TestTransport_Send_ConfirmationIsSent(t *testing.T) {
	tr := newTestTransport(1200)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop(context.Background())

	receipt, err := tr.Send(context.Background(), &model.TransportTarget{Address: tr.conn.LocalAddr().String()}, &model.SecureMessage{
		ID:      "m1",
		Payload: []byte("hi"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.Sent, receipt.Confirmation)
}
