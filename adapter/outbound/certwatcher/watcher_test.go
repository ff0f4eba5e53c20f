package certwatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synapse-project/transport-core/adapter/outbound/filewatcher"
	"github.com/synapse-project/transport-core/adapter/outbound/tlscert"
)

func writeCertPair(t *testing.T, dir, hostname string) (string, string) {
	t.Helper()
	certPEM, keyPEM, err := tlscert.Generate(hostname)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "tls.crt")
	keyPath := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o600))
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))
	return certPath, keyPath
}

func TestWatcher_LoadsInitialCertificate(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeCertPair(t, dir, "first.local")

	fw, err := filewatcher.NewFSWatcher()
	require.NoError(t, err)

	w, err := New(fw, certPath, keyPath, nil)
	require.NoError(t, err)
	defer w.Stop()

	cert, err := w.GetCertificate(nil)
	require.NoError(t, err)
	assert.NotNil(t, cert)
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeCertPair(t, dir, "first.local")

	fw, err := filewatcher.NewFSWatcher()
	require.NoError(t, err)

	w, err := New(fw, certPath, keyPath, nil)
	require.NoError(t, err)
	defer w.Stop()

	before, err := w.GetCertificate(nil)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	_, _ = writeCertPair(t, dir, "second.local")

	require.Eventually(t, func() bool {
		after, err := w.GetCertificate(nil)
		if err != nil {
			return false
		}
		return string(after.Certificate[0]) != string(before.Certificate[0])
	}, 5*time.Second, 50*time.Millisecond, "certificate should reload after the underlying files change")
}
