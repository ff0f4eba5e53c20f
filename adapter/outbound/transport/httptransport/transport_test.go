package httptransport

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

func newTestTransport(maxSize int64, serverPort int) *Transport {
	return New(Config{
		ServerPort:     serverPort,
		Timeout:        5 * time.Second,
		MaxMessageSize: maxSize,
	}, noopLogger{}, codec.JSON{})
}

func TestTransport_Capabilities_BidirectionalOnlyWithServerPort(t *testing.T) {
	sendOnly := newTestTransport(1<<20, 0)
	assert.False(t, sendOnly.Capabilities().Bidirectional)

	withServer := newTestTransport(1<<20, 8080)
	assert.True(t, withServer.Capabilities().Bidirectional)
}

func TestTransport_Send_RejectsOversizedMessage(t *testing.T) {
	tr := newTestTransport(4, 0)
	_, err := tr.Send(context.Background(), &model.TransportTarget{Address: "http://example.com"}, &model.SecureMessage{
		ID:      "m1",
		Payload: []byte("too large for the limit"),
	})
	require.Error(t, err)
	var tooLarge *model.MessageTooLargeError
	assert.ErrorAs(t, err, &tooLarge)
}

func TestTransport_Send_RejectsMissingAddress(t *testing.T) {
	tr := newTestTransport(1<<20, 0)
	_, err := tr.Send(context.Background(), &model.TransportTarget{}, &model.SecureMessage{ID: "m1"})
	require.Error(t, err)
	var unsupported *model.UnsupportedTargetError
	assert.ErrorAs(t, err, &unsupported)
}

func TestTransport_Start_NoServerPortMeansSendOnly(t *testing.T) {
	tr := newTestTransport(1<<20, 0)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Stop(context.Background())
	assert.Nil(t, tr.server)
}
