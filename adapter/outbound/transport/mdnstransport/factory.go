package mdnstransport

import (
	"time"

	"github.com/synapse-project/transport-core/adapter/outbound/codec"
	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/outbound"
	"github.com/synapse-project/transport-core/internal/txconfig"
)

// Factory builds mDNS transports from stringly-keyed config maps:
// service_name, local_port, discovery_interval_ms, peer_ttl_ms.
type Factory struct {
	Codec        outbound.MessageCodec
	InstanceName string // if empty, the instance_name config key is used, defaulting to "synapse-node"
}

func (f *Factory) Kind() model.TransportKind { return model.Mdns }

func (f *Factory) New(cfg map[string]string, logger outbound.Logger) (outbound.Transport, error) {
	serviceName := txconfig.String(cfg, "service_name", serviceRoot)

	port, err := txconfig.Int(cfg, "local_port", 7000)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "local_port", Reason: err.Error()}
	}
	if port < 0 || port > 65535 {
		return nil, &model.InvalidConfigError{Field: "local_port", Reason: "out of range"}
	}

	discoveryInterval, err := txconfig.Millis(cfg, "discovery_interval_ms", 10000)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "discovery_interval_ms", Reason: err.Error()}
	}
	if discoveryInterval <= 0 {
		return nil, &model.InvalidConfigError{Field: "discovery_interval_ms", Reason: "must be positive"}
	}

	peerTTL, err := txconfig.Millis(cfg, "peer_ttl_ms", int(defaultTTL.Milliseconds()))
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "peer_ttl_ms", Reason: err.Error()}
	}
	if peerTTL <= 0 {
		return nil, &model.InvalidConfigError{Field: "peer_ttl_ms", Reason: "must be positive"}
	}

	maxSize, err := txconfig.Int64(cfg, "max_message_size", 4<<20)
	if err != nil {
		return nil, &model.InvalidConfigError{Field: "max_message_size", Reason: err.Error()}
	}

	instance := f.InstanceName
	if instance == "" {
		instance = txconfig.String(cfg, "instance_name", "synapse-node")
	}

	c := f.Codec
	if c == nil {
		c = codec.JSON{}
	}

	return New(Config{
		ServiceName:       serviceName,
		InstanceName:      instance,
		LocalPort:         port,
		DiscoveryInterval: discoveryInterval,
		PeerTTL:           peerTTL,
		MaxMessageSize:    maxSize,
		TCPConnectTimeout: 5 * time.Second,
	}, logger, c), nil
}
