// Package mdnstransport implements the mDNS member of the transport
// contract as a discovery-only layer: it advertises the local entity as
// "_synapse._tcp.local" with TXT capability hints, discovers peers by
// listening for SRV/TXT/A records on the standard multicast group,
// caches them with a TTL-based eviction sweep, and delegates the actual
// payload send to an internally-owned TCP transport once a peer's LAN
// address has been resolved. It never carries payload on its own wire
// format.
package mdnstransport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"github.com/synapse-project/transport-core/adapter/outbound/transport/tcptransport"
	"github.com/synapse-project/transport-core/domain/model"
	"github.com/synapse-project/transport-core/domain/port/outbound"
	"github.com/synapse-project/transport-core/internal/txmetrics"
)

const (
	mdnsAddr    = "224.0.0.251:5353"
	defaultTTL  = 120 * time.Second
	serviceRoot = "_synapse._tcp.local."
)

// Config holds validated configuration for one mDNS transport instance:
// service_name, local_port, discovery_interval_ms, peer_ttl_ms.
type Config struct {
	ServiceName        string
	InstanceName       string
	LocalPort          int
	DiscoveryInterval  time.Duration
	PeerTTL            time.Duration
	MaxMessageSize     int64
	TCPConnectTimeout  time.Duration
	CapabilityHints    map[string]string
}

type cachedPeer struct {
	address   string
	expiresAt time.Time
}

// Transport is a discovery-only outbound.Transport; its Send delegates
// the framed write to an internally owned TCP transport once discovery
// resolves a LAN address.
type Transport struct {
	cfg    Config
	logger outbound.Logger

	status atomic.Int32

	conn    *net.UDPConn
	wg      sync.WaitGroup
	closeCh chan struct{}

	cacheMu sync.RWMutex
	cache   map[string]cachedPeer

	delegate *tcptransport.Transport

	metrics txmetrics.Tracker
}

func New(cfg Config, logger outbound.Logger, codec outbound.MessageCodec) *Transport {
	// The delegate listens on the same port the SRV announcement
	// advertises, so discovered peers can actually connect back.
	delegate := tcptransport.New(tcptransport.Config{
		ListenPort:        cfg.LocalPort,
		ConnectionTimeout: cfg.TCPConnectTimeout,
		MaxMessageSize:    cfg.MaxMessageSize,
	}, logger, codec)

	return &Transport{
		cfg:      cfg,
		logger:   logger,
		cache:    make(map[string]cachedPeer),
		delegate: delegate,
	}
}

var _ outbound.Transport = (*Transport)(nil)

func (t *Transport) Kind() model.TransportKind { return model.Mdns }

func (t *Transport) Capabilities() model.Capabilities {
	caps := t.delegate.Capabilities()
	caps.NetworkSpanning = false // LAN-scoped by definition
	caps.SupportedUrgencies = model.NewUrgencySet(model.Discovery, model.Background, model.Interactive)
	tags := model.NewCapabilitySet("lan-scoped")
	for k := range t.cfg.CapabilityHints {
		tags[k] = struct{}{}
	}
	caps.FeatureTags = tags
	return caps
}

func (t *Transport) CanReach(target *model.TransportTarget) bool {
	if target == nil {
		return false
	}
	if target.Address != "" {
		return true
	}
	_, ok := t.lookup(target.Identifier)
	return ok
}

func (t *Transport) Estimate(ctx context.Context, target *model.TransportTarget) model.TransportEstimate {
	snap := t.metrics.Snapshot()
	return model.TransportEstimate{
		Latency:     time.Duration(snap.AverageLatencyMs) * time.Millisecond,
		Reliability: snap.ReliabilityScore,
		Available:   t.Status() == model.Running && t.CanReach(target),
		Confidence:  0.4,
	}
}

func (t *Transport) TestConnectivity(ctx context.Context, target *model.TransportTarget) model.ConnectivityResult {
	addr, ok := t.resolve(target)
	if !ok {
		return model.ConnectivityResult{Error: "peer not discovered"}
	}
	return t.delegate.TestConnectivity(ctx, &model.TransportTarget{Address: addr})
}

func (t *Transport) Start(ctx context.Context) error {
	if model.TransportStatus(t.status.Load()) == model.Running {
		return &model.AlreadyStartedError{Kind: model.Mdns}
	}
	t.status.Store(int32(model.Starting))

	if err := t.delegate.Start(ctx); err != nil {
		t.status.Store(int32(model.Stopped))
		return err
	}

	udpAddr, err := net.ResolveUDPAddr("udp", mdnsAddr)
	if err != nil {
		t.status.Store(int32(model.Stopped))
		return &model.TransportIOError{Kind: model.Mdns, Detail: err.Error()}
	}
	conn, err := net.ListenMulticastUDP("udp", nil, udpAddr)
	if err != nil {
		t.status.Store(int32(model.Stopped))
		return &model.TransportIOError{Kind: model.Mdns, Detail: err.Error()}
	}
	t.conn = conn
	t.closeCh = make(chan struct{})

	t.wg.Add(3)
	go t.listenLoop()
	go t.announceLoop()
	go t.sweepLoop()

	t.status.Store(int32(model.Running))
	return nil
}

// Stop is idempotent: stopping an already-stopped transport is a no-op.
func (t *Transport) Stop(ctx context.Context) error {
	if model.TransportStatus(t.status.Load()) != model.Running {
		return nil
	}
	t.status.Store(int32(model.Stopping))

	close(t.closeCh)
	if t.conn != nil {
		t.conn.Close()
	}
	t.wg.Wait()

	if err := t.delegate.Stop(ctx); err != nil {
		t.logger.Warn("mdns: delegate tcp stop error", "error", err.Error())
	}

	t.status.Store(int32(model.Stopped))
	return nil
}

func (t *Transport) Status() model.TransportStatus { return model.TransportStatus(t.status.Load()) }

func (t *Transport) Metrics() model.TransportMetrics { return t.metrics.Snapshot() }

// Send resolves target to a discovered LAN address and hands the actual
// framed write off to the internal TCP transport; mDNS itself never
// carries the payload.
func (t *Transport) Send(ctx context.Context, target *model.TransportTarget, msg *model.SecureMessage) (model.DeliveryReceipt, error) {
	addr, ok := t.resolve(target)
	if !ok {
		return model.DeliveryReceipt{}, &model.UnsupportedTargetError{Reason: "mdns: peer not discovered and no address hint given"}
	}

	start := time.Now()
	receipt, err := t.delegate.Send(ctx, &model.TransportTarget{Identifier: target.Identifier, Address: addr, Urgency: target.Urgency}, msg)
	elapsed := time.Since(start)
	if err != nil {
		t.metrics.RecordSend(false, 0, elapsed)
		return model.DeliveryReceipt{}, err
	}
	t.metrics.RecordSend(true, msg.Size(), elapsed)
	receipt.Kind = model.Mdns
	return receipt, nil
}

// Receive drains whatever the delegate TCP listener has buffered,
// re-tagged as Mdns since that is the kind the peer was reached through.
func (t *Transport) Receive(ctx context.Context) ([]model.IncomingMessage, error) {
	msgs, err := t.delegate.Receive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Kind = model.Mdns
	}
	return msgs, nil
}

func (t *Transport) resolve(target *model.TransportTarget) (string, bool) {
	if target == nil {
		return "", false
	}
	if target.Address != "" {
		return target.Address, true
	}
	return t.lookup(target.Identifier)
}

func (t *Transport) lookup(instance string) (string, bool) {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()
	p, ok := t.cache[instance]
	if !ok || time.Now().After(p.expiresAt) {
		return "", false
	}
	return p.address, true
}

func (t *Transport) serviceFQDN() string {
	name := t.cfg.ServiceName
	if name == "" {
		name = serviceRoot
	}
	return t.cfg.InstanceName + "." + name
}

// announceLoop periodically broadcasts this instance's SRV/TXT/A
// records so other synapse nodes' discovery loops can cache us.
func (t *Transport) announceLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.DiscoveryInterval)
	defer ticker.Stop()

	t.announce()
	for {
		select {
		case <-t.closeCh:
			return
		case <-ticker.C:
			t.announce()
		}
	}
}

func (t *Transport) announce() {
	packet, err := t.buildAnnouncement()
	if err != nil {
		t.logger.Warn("mdns: build announcement failed", "error", err.Error())
		return
	}
	dst, err := net.ResolveUDPAddr("udp", mdnsAddr)
	if err != nil {
		return
	}
	if _, err := t.conn.WriteToUDP(packet, dst); err != nil {
		t.logger.Warn("mdns: announce write failed", "error", err.Error())
	}
}

func (t *Transport) buildAnnouncement() ([]byte, error) {
	instanceName, err := dnsmessage.NewName(t.serviceFQDN())
	if err != nil {
		return nil, err
	}

	localIP := localIPv4()

	builder := dnsmessage.NewBuilder(nil, dnsmessage.Header{Response: true, Authoritative: true})
	builder.EnableCompression()
	if err := builder.StartAnswers(); err != nil {
		return nil, err
	}

	srvHdr := dnsmessage.ResourceHeader{Name: instanceName, Type: dnsmessage.TypeSRV, Class: dnsmessage.ClassINET, TTL: uint32(t.cfg.PeerTTL.Seconds())}
	if err := builder.SRVResource(srvHdr, dnsmessage.SRVResource{Port: uint16(t.cfg.LocalPort), Target: instanceName}); err != nil {
		return nil, err
	}

	txt := []string{"v=1", "proto=synapse"}
	for k, v := range t.cfg.CapabilityHints {
		txt = append(txt, fmt.Sprintf("%s=%s", k, v))
	}
	txtHdr := dnsmessage.ResourceHeader{Name: instanceName, Type: dnsmessage.TypeTXT, Class: dnsmessage.ClassINET, TTL: uint32(t.cfg.PeerTTL.Seconds())}
	if err := builder.TXTResource(txtHdr, dnsmessage.TXTResource{TXT: txt}); err != nil {
		return nil, err
	}

	if localIP != nil {
		aHdr := dnsmessage.ResourceHeader{Name: instanceName, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET, TTL: uint32(t.cfg.PeerTTL.Seconds())}
		var addr [4]byte
		copy(addr[:], localIP.To4())
		if err := builder.AResource(aHdr, dnsmessage.AResource{A: addr}); err != nil {
			return nil, err
		}
	}

	return builder.Finish()
}

// listenLoop parses incoming multicast packets and caches any peer whose
// SRV+A records resolve to a usable LAN address.
func (t *Transport) listenLoop() {
	defer t.wg.Done()
	buf := make([]byte, 9000)
	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
				return
			}
		}
		t.handlePacket(buf[:n])
	}
}

func (t *Transport) handlePacket(data []byte) {
	var msg dnsmessage.Message
	if err := msg.Unpack(data); err != nil {
		return
	}

	var port uint16
	var ip net.IP
	var instance string

	for _, ans := range msg.Answers {
		name := strings.TrimSuffix(ans.Header.Name.String(), ".")
		switch body := ans.Body.(type) {
		case *dnsmessage.SRVResource:
			instance = name
			port = body.Port
		case *dnsmessage.AResource:
			instance = name
			ip = net.IP(body.A[:])
		}
	}

	if instance == "" || instance == strings.TrimSuffix(t.serviceFQDN(), ".") {
		return // ignore our own announcement and unparseable packets
	}
	if ip == nil || port == 0 {
		return
	}

	addr := fmt.Sprintf("%s:%d", ip.String(), port)
	t.cacheMu.Lock()
	t.cache[instance] = cachedPeer{address: addr, expiresAt: time.Now().Add(t.cfg.PeerTTL)}
	t.cacheMu.Unlock()
}

func (t *Transport) sweepLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.PeerTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-t.closeCh:
			return
		case <-ticker.C:
			now := time.Now()
			t.cacheMu.Lock()
			for k, p := range t.cache {
				if now.After(p.expiresAt) {
					delete(t.cache, k)
				}
			}
			t.cacheMu.Unlock()
		}
	}
}

func localIPv4() net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4
		}
	}
	return nil
}
