package mdnstransport

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
		ServiceName:       serviceRoot,
		InstanceName:      "test-node",
		LocalPort:         0,
		DiscoveryInterval: 50 * time.Millisecond,
		PeerTTL:           time.Second,
		MaxMessageSize:    maxSize,
		TCPConnectTimeout: 2 * time.Second,
	}, noopLogger{}, codec.JSON{})
}

func TestTransport_Capabilities(t *testing.T) {
	tr := newTestTransport(1 << 20)
	caps := tr.Capabilities()
	assert.False(t, caps.NetworkSpanning, "mdns is LAN-scoped")
	assert.True(t, caps.SupportedUrgencies.Has(model.Discovery))
	assert.True(t, caps.SupportedUrgencies.Has(model.Background))
	assert.True(t, caps.SupportedUrgencies.Has(model.Interactive))
	assert.Contains(t, caps.FeatureTags, "lan-scoped")
}

func TestTransport_CanReach_FalseWithoutAddressOrDiscovery(t *testing.T) {
	tr := newTestTransport(1 << 20)
	reachable := tr.CanReach(&model.TransportTarget{Identifier: "unknown-peer"})
	assert.False(t, reachable)
}

func TestTransport_CanReach_TrueWhenAddressHintGiven(t *testing.T) {
	tr := newTestTransport(1 << 20)
	reachable := tr.CanReach(&model.TransportTarget{Address: "192.168.1.5:9000"})
	assert.True(t, reachable)
}

func TestTransport_Send_FailsWithoutDiscoveryOrAddressHint(t *testing.T) {
	tr := newTestTransport(1 << 20)
	_, err := tr.Send(context.Background(), &model.TransportTarget{Identifier: "unknown-peer"}, &model.SecureMessage{ID: "m1"})
	require.Error(t, err)
	var unsupported *model.UnsupportedTargetError
	assert.ErrorAs(t, err, &unsupported)
}

func TestTransport_Receive_EmptyWhenNothingBuffered(t *testing.T) {
	tr := newTestTransport(1 << 20)
	msgs, err := tr.Receive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestTransport_StartStop_Lifecycle(t *testing.T) {
	tr := newTestTransport(1 << 20)
	require.NoError(t, tr.Start(context.Background()))
	assert.Equal(t, model.Running, tr.Status())
	require.NoError(t, tr.Stop(context.Background()))
	assert.Equal(t, model.Stopped, tr.Status())
}

func TestTransport_Stop_IsIdempotent(t *testing.T) {
	tr := newTestTransport(1 << 20)
	require.NoError(t, tr.Stop(context.Background()))
	assert.Equal(t, model.Stopped, tr.Status())
}

func TestTransport_PeerCacheExpiresByTTL(t *testing.T) {
	tr := newTestTransport(1 << 20)
	tr.cache["peer-a"] = cachedPeer{address: "10.0.0.2:7000", expiresAt: time.Now().Add(-time.Second)}
	_, ok := tr.lookup("peer-a")
	assert.False(t, ok, "expired cache entries must not resolve")
}

func TestTransport_PeerCacheResolvesBeforeExpiry(t *testing.T) {
	tr := newTestTransport(1 << 20)
	tr.cache["peer-b"] = cachedPeer{address: "10.0.0.3:7000", expiresAt: time.Now().Add(time.Minute)}
	addr, ok := tr.lookup("peer-b")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.3:7000", addr)
}
