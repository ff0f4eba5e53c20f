package httptransport

import (
	"github.com/synapse-project/transport-core/adapter/outbound/certwatcher"
	"github.com/synapse-project/transport-core/adapter/outbound/codec"
	"github.com/synapse-project/transport-core/adapter/outbound/filewatcher"
	"github.com/synapse-project/transport-core/adapter/outbound/tlscert"
	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/outbound"
	"github.com/synapse-project/transport-core/internal/txconfig"
)

// Factory builds HTTP transports from stringly-keyed config maps:
// use_https, server_port, server_address, timeout_ms, max_message_size,
// user_agent, plus tls_cert_file/tls_key_file to hot-reload a certificate
// from disk instead of generating a self-signed one.
type Factory struct {
	Codec outbound.MessageCodec
}

func (f *Factory) Kind() model.TransportKind { return model.Http }

func (f *Factory) New(cfg map[string]string, logger outbound.Logger) (outbound.Transport, error) {
	useHTTPS, err := txconfig.Bool(cfg, "use_https", false)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "use_https", Reason: err.Error()}
	}

	port, err := txconfig.Int(cfg, "server_port", 0)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "server_port", Reason: err.Error()}
	}
	if port < 0 || port > 65535 {
		return nil, &model.InvalidConfigError{Field: "server_port", Reason: "out of range"}
	}

	addr := txconfig.String(cfg, "server_address", "")

	timeout, err := txconfig.Millis(cfg, "timeout_ms", 10000)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "timeout_ms", Reason: err.Error()}
	}

	maxSize, err := txconfig.Int64(cfg, "max_message_size", 5<<20)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "max_message_size", Reason: err.Error()}
	}
	if maxSize <= 0 {
		return nil, &model.InvalidConfigError{Field: "max_message_size", Reason: "must be positive"}
	}

	userAgent := txconfig.String(cfg, "user_agent", "synapse-transport-core/1")

	c := f.Codec
	if c == nil {
		c = codec.JSON{}
	}

	httpCfg := Config{
		UseHTTPS:       useHTTPS,
		ServerPort:     port,
		ServerAddress:  addr,
		Timeout:        timeout,
		MaxMessageSize: maxSize,
		UserAgent:      userAgent,
	}

	certFile := txconfig.String(cfg, "tls_cert_file", "")
	keyFile := txconfig.String(cfg, "tls_key_file", "")

	if useHTTPS && port > 0 {
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
			httpCfg.GetCertificate = watcher.GetCertificate
		default:
			host := addr
			if host == "" {
				host = "localhost"
			}
			tlsCfg, err := tlscert.GenerateTLSConfig(host)
			if err != nil {
				return nil, &model.InvalidConfigError{Field: "use_https", Reason: "self-signed cert generation: " + err.Error()}
			}
			httpCfg.TLSCert = tlsCfg.Certificates[0]
		}
	}

	return New(httpCfg, logger, c), nil
}
