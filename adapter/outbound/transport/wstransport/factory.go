package wstransport

import (
	"crypto/tls"

	"github.com/synapse-project/transport-core/adapter/outbound/certwatcher"
	"github.com/synapse-project/transport-core/adapter/outbound/codec"
	"github.com/synapse-project/transport-core/adapter/outbound/filewatcher"
	"github.com/synapse-project/transport-core/adapter/outbound/tlscert"
	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/outbound"
	"github.com/synapse-project/transport-core/internal/txconfig"
)

// Factory builds WebSocket transports. Config keys reuse the HTTP-shaped
// set since WebSocket rides the same listen/TLS model: listen_port,
// listen_address, connection_timeout_ms, max_message_size, use_tls,
// tls_cert_file, tls_key_file.
type Factory struct {
	Codec outbound.MessageCodec
}

func (f *Factory) Kind() model.TransportKind { return model.WebSocket }

func (f *Factory) New(cfg map[string]string, logger outbound.Logger) (outbound.Transport, error) {
	port, err := txconfig.Int(cfg, "listen_port", 0)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "listen_port", Reason: err.Error()}
	}
	if port < 0 || port > 65535 {
		return nil, &model.InvalidConfigError{Field: "listen_port", Reason: "out of range"}
	}

	addr := txconfig.String(cfg, "listen_address", "")

	connTimeout, err := txconfig.Millis(cfg, "connection_timeout_ms", 5000)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "connection_timeout_ms", Reason: err.Error()}
	}

	maxSize, err := txconfig.Int64(cfg, "max_message_size", 8<<20)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "max_message_size", Reason: err.Error()}
	}
	if maxSize <= 0 {
		return nil, &model.InvalidConfigError{Field: "max_message_size", Reason: "must be positive"}
	}

	useTLS, err := txconfig.Bool(cfg, "use_tls", false)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "use_tls", Reason: err.Error()}
	}

	c := f.Codec
	if c == nil {
		c = codec.JSON{}
	}

	wsCfg := Config{
		ListenPort:        port,
		ListenAddress:     addr,
		ConnectionTimeout: connTimeout,
		MaxMessageSize:    maxSize,
		UseTLS:            useTLS,
	}

	if useTLS && port > 0 {
		certFile := txconfig.String(cfg, "tls_cert_file", "")
		keyFile := txconfig.String(cfg, "tls_key_file", "")

		switch {
		case certFile != "" && keyFile != "":
			fw, err := filewatcher.NewFSWatcher()
			if err != nil {
				return nil, &model.InvalidConfigError{Field: "tls_cert_file", Reason: "file watcher: " + err.Error()}
			}
			watcher, err := certwatcher.New(fw, certFile, keyFile, logger)
			if err != nil {
				return nil, &model.InvalidConfigError{Field: "tls_cert_file", Reason: err.Error()}
			}
			wsCfg.TLSConfig = &tls.Config{GetCertificate: watcher.GetCertificate}
		default:
			host := addr
			if host == "" {
				host = "localhost"
			}
			tlsCfg, err := tlscert.GenerateTLSConfig(host)
			if err != nil {
				return nil, &model.InvalidConfigError{Field: "use_tls", Reason: "self-signed cert generation: " + err.Error()}
			}
			wsCfg.TLSConfig = tlsCfg
		}
	}

	return New(wsCfg, logger, c), nil
}
