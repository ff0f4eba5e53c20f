package udptransport

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
	assert.Equal(t, 7001, got.cfg.BindPort)
	assert.Equal(t, int64(1200), got.cfg.MaxMessageSize)
}

func TestFactory_RejectsBadBindPort(t *testing.T) {
	f := &Factory{}
	_, err := f.New(map[string]string{"bind_port": "nope"}, noopLogger{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind_port")
}
