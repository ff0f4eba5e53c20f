// Package certwatcher hot-reloads a TLS certificate/key pair for the
// transports whose factories accept tls_cert_file/tls_key_file (HTTP and
// WebSocket), built on top of the generic debounced file watcher.
package certwatcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/synapse-project/transport-core/domain/port/outbound"
)

// Watcher holds the current certificate and swaps it atomically whenever
// the underlying cert or key file changes on disk.
type Watcher struct {
	certPath, keyPath string
	logger            outbound.Logger
	fw                outbound.FileWatcher

	current atomic.Pointer[tls.Certificate]

	mu      sync.Mutex
	watchCtx context.Context
	cancel   context.CancelFunc
}

// New loads the initial certificate from certPath/keyPath and begins
// watching both files via fw.
func New(fw outbound.FileWatcher, certPath, keyPath string, logger outbound.Logger) (*Watcher, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("certwatcher: initial load: %w", err)
	}

	w := &Watcher{certPath: certPath, keyPath: keyPath, logger: logger, fw: fw}
	w.current.Store(&cert)

	ctx, cancel := context.WithCancel(context.Background())
	w.watchCtx, w.cancel = ctx, cancel

	if err := fw.Watch(ctx, certPath); err != nil {
		cancel()
		return nil, fmt.Errorf("certwatcher: watch cert: %w", err)
	}
	if err := fw.Watch(ctx, keyPath); err != nil {
		cancel()
		return nil, fmt.Errorf("certwatcher: watch key: %w", err)
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.watchCtx.Done():
			return
		case ev, ok := <-w.fw.Events():
			if !ok {
				return
			}
			if ev.FilePath != w.certPath && ev.FilePath != w.keyPath {
				continue
			}
			w.reload()
		case err, ok := <-w.fw.Errors():
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("certwatcher: file watcher error", "error", err.Error())
			}
		}
	}
}

func (w *Watcher) reload() {
	cert, err := tls.LoadX509KeyPair(w.certPath, w.keyPath)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("certwatcher: reload failed, keeping previous certificate", "error", err.Error())
		}
		return
	}
	w.current.Store(&cert)
	if w.logger != nil {
		w.logger.Info("certwatcher: certificate reloaded")
	}
}

// GetCertificate is suitable for tls.Config.GetCertificate: it always
// returns whatever certificate is currently loaded, without blocking on
// the watch goroutine.
func (w *Watcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return w.current.Load(), nil
}

// Stop releases the underlying file watcher.
func (w *Watcher) Stop() error {
	w.cancel()
	return w.fw.Stop()
}
