package udptransport

import (
	"github.com/synapse-project/transport-core/adapter/outbound/codec"
	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/outbound"
	"github.com/synapse-project/transport-core/internal/txconfig"
)

// Factory builds UDP transports from stringly-keyed config maps:
// bind_port, max_message_size.
type Factory struct {
	Codec outbound.MessageCodec
}

func (f *Factory) Kind() model.TransportKind { return model.Udp }

func (f *Factory) New(cfg map[string]string, logger outbound.Logger) (outbound.Transport, error) {
	port, err := txconfig.Int(cfg, "bind_port", 7001)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "bind_port", Reason: err.Error()}
	}
	if port < 0 || port > 65535 {
		return nil, &model.InvalidConfigError{Field: "bind_port", Reason: "out of range"}
	}

	maxSize, err := txconfig.Int64(cfg, "max_message_size", 1200)
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

	return New(Config{BindPort: port, MaxMessageSize: maxSize}, logger, c), nil
}
