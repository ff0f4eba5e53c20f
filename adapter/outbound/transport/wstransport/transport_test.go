package wstransport

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
		ConnectionTimeout: 5 * time.Second,
		MaxMessageSize:    maxSize,
	}, noopLogger{}, codec.JSON{})
}

func TestTransport_Capabilities(t *testing.T) {
	tr := newTestTransport(1 << 20)
	caps := tr.Capabilities()
	assert.True(t, caps.Reliable)
	assert.True(t, caps.RealTime)
	assert.True(t, caps.Bidirectional)
}

func TestTransport_Send_RejectsOversizedMessage(t *testing.T) {
	tr := newTestTransport(4)
	_, err := tr.Send(context.Background(), &model.TransportTarget{Address: "ws://127.0.0.1:1/x"}, &model.SecureMessage{
		ID:      "m1",
		Payload: []byte("too large for the limit"),
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

func TestTransport_Start_NoListenPortMeansSendOnly(t *testing.T) {
	tr := newTestTransport(1 << 20)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop(context.Background())
	assert.Nil(t, tr.server)
}
