package quictransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_AppliesDefaults(t *testing.T) {
	f := &Factory{}
	tr, err := f.New(map[string]string{}, noopLogger{})
	require.NoError(t, err)

	got := tr.(*Transport)
	assert.Equal(t, 7443, got.cfg.ListenPort)
	assert.Equal(t, int64(4<<20), got.cfg.MaxMessageSize)
	require.NotNil(t, got.cfg.TLSConfig)
	assert.NotEmpty(t, got.cfg.TLSConfig.Certificates)
}

func TestFactory_RejectsBadListenPort(t *testing.T) {
	f := &Factory{}
	_, err := f.New(map[string]string{"listen_port": "70000"}, noopLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_port")
}

func TestFactory_RejectsNonPositiveMaxMessageSize(t *testing.T) {
	f := &Factory{}
	_, err := f.New(map[string]string{"max_message_size": "0"}, noopLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_message_size")
}
