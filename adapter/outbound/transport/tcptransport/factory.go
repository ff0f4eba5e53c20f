package tcptransport

import (
	"github.com/synapse-project/transport-core/adapter/outbound/codec"
	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/outbound"
	"github.com/synapse-project/transport-core/internal/txconfig"
)

// Factory builds TCP transports from stringly-keyed config maps:
// listen_port, connection_timeout_ms, max_message_size.
type Factory struct {
	// Codec serializes SecureMessage onto the wire. Defaults to codec.JSON
	// when nil.
	Codec outbound.MessageCodec
}

func (f *Factory) Kind() model.TransportKind { return model.Tcp }

func (f *Factory) New(cfg map[string]string, logger outbound.Logger) (outbound.Transport, error) {
	port, err := txconfig.Int(cfg, "listen_port", 7000)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "listen_port", Reason: err.Error()}
	}
	if port < 0 || port > 65535 {
		return nil, &model.InvalidConfigError{Field: "listen_port", Reason: "out of range"}
	}

	connTimeout, err := txconfig.Millis(cfg, "connection_timeout_ms", 5000)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "connection_timeout_ms", Reason: err.Error()}
	}

	maxSize, err := txconfig.Int64(cfg, "max_message_size", 4<<20)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "max_message_size", Reason: err.Error()}
	}
	if maxSize <= 0 {
		return nil, &model.InvalidConfigError{Field: "max_message_size", Reason: "must be positive"}
	}

	c := f.Codec
	if c == nil {
		c = codec.JSON{}
	}

	return New(Config{
		ListenPort:        port,
		ConnectionTimeout: connTimeout,
		MaxMessageSize:    maxSize,
	}, logger, c), nil
}
