// Command demo wires a Manager with every transport kind registered and
// runs one local loopback send/receive cycle, to be used as a reference
// for embedding applications rather than as a production server.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/synapse-project/transport-core/adapter/outbound/codec"
	"github.com/synapse-project/transport-core/adapter/outbound/logging"
	"github.com/synapse-project/transport-core/adapter/outbound/nodeid"
	"github.com/synapse-project/transport-core/adapter/outbound/transport/emailtransport"
	"github.com/synapse-project/transport-core/adapter/outbound/transport/httptransport"
	"github.com/synapse-project/transport-core/adapter/outbound/transport/mdnstransport"
	"github.com/synapse-project/transport-core/adapter/outbound/transport/quictransport"
	"github.com/synapse-project/transport-core/adapter/outbound/transport/tcptransport"
	"github.com/synapse-project/transport-core/adapter/outbound/transport/udptransport"
	"github.com/synapse-project/transport-core/adapter/outbound/transport/wstransport"
	"github.com/synapse-project/transport-core/domain/circuitbreaker"
	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/service"
)

func main() {
	logger := logging.NewSlogAdapter(os.Stdout, "info", 1024)
	defer logger.Shutdown()

	id, err := nodeid.Local()
	if err != nil {
		log.Fatalf("derive node id: %v", err)
	}
	logger.Info("starting demo node", "node_id", id)

	jsonCodec := codec.JSON{}
	mgr := service.NewManager(service.DefaultManagerConfig(), logger)

	_ = mgr.RegisterFactory(&tcptransport.Factory{Codec: jsonCodec})
	_ = mgr.RegisterFactory(&udptransport.Factory{Codec: jsonCodec})
	_ = mgr.RegisterFactory(&httptransport.Factory{Codec: jsonCodec})
	_ = mgr.RegisterFactory(&wstransport.Factory{Codec: jsonCodec})
	_ = mgr.RegisterFactory(&quictransport.Factory{Codec: jsonCodec})
	_ = mgr.RegisterFactory(&mdnstransport.Factory{Codec: jsonCodec, InstanceName: id})
	_ = mgr.RegisterFactory(&emailtransport.Factory{Codec: jsonCodec})

	breakerCfg := circuitbreaker.DefaultConfig()

	if err := mgr.ConfigureTransport(model.Tcp, map[string]string{
		"listen_port": "17001",
	}, breakerCfg); err != nil {
		log.Fatalf("configure tcp: %v", err)
	}
	if err := mgr.ConfigureTransport(model.Udp, map[string]string{
		"bind_port": "17002",
	}, breakerCfg); err != nil {
		log.Fatalf("configure udp: %v", err)
	}
	if err := mgr.ConfigureTransport(model.Http, map[string]string{
		"server_port": "17003",
	}, breakerCfg); err != nil {
		log.Fatalf("configure http: %v", err)
	}
	if err := mgr.ConfigureTransport(model.WebSocket, map[string]string{
		"listen_port": "17004",
	}, breakerCfg); err != nil {
		log.Fatalf("configure websocket: %v", err)
	}
	if err := mgr.ConfigureTransport(model.Quic, map[string]string{
		"listen_port": "17005",
	}, breakerCfg); err != nil {
		log.Fatalf("configure quic: %v", err)
	}
	if err := mgr.ConfigureTransport(model.Mdns, map[string]string{
		"local_port":    "17006",
		"instance_name": id,
	}, breakerCfg); err != nil {
		log.Fatalf("configure mdns: %v", err)
	}
	// Email requires a real SMTP/IMAP relay, which this local demo has
	// no access to; skipped so Start below does not try to dial one.

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}
	defer mgr.Stop(ctx)

	logger.Info("available transports", "kinds", fmt.Sprint(mgr.ListAvailableTransports()))

	msg := &model.SecureMessage{
		ID:            uuid.NewString(),
		From:          id,
		To:            "loopback",
		Payload:       []byte("hello from the demo binary"),
		Timestamp:     time.Now(),
		SecurityLevel: model.Authenticated,
	}
	target := &model.TransportTarget{
		Identifier: "loopback",
		Address:    "127.0.0.1:17001",
		Urgency:    model.Interactive,
	}

	receipt, err := mgr.Send(ctx, target, msg)
	if err != nil {
		logger.Error("send failed", "error", err.Error())
		return
	}
	logger.Info("send succeeded",
		"kind", receipt.Kind.String(),
		"confirmation", receipt.Confirmation.String(),
		"elapsed", receipt.Elapsed.String(),
	)

	time.Sleep(200 * time.Millisecond)
	received, err := mgr.Receive(ctx)
	if err != nil {
		logger.Error("receive failed", "error", err.Error())
		return
	}
	for _, im := range received {
		logger.Info("received message", "from", im.Source, "kind", im.Kind.String())
	}

	agg := mgr.GetMetrics()
	logger.Info("aggregated metrics", "total_sent", agg.Total.MessagesSent, "total_received", agg.Total.MessagesReceived)
}
