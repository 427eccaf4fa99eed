// Package broker wires spec §4.9's MQTT request pipeline: it is the
// transport.Handler that owns one accepted connection end to end,
// dispatching each decoded packet.mqtt.Packet to the session/
// subscription layers and back out as a reply packet. It is a thin
// protocol adapter over the session/subscription domain services,
// nothing more.
package broker

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	v1 "github.com/robustmq/robustmq/api/proto/v1"
	"github.com/robustmq/robustmq/internal/mqtt/packet"
	"github.com/robustmq/robustmq/internal/mqtt/session"
	"github.com/robustmq/robustmq/internal/mqtt/subscription"
	"github.com/robustmq/robustmq/internal/mqtt/transport"
)

// MetaClient is the subset of meta/rpc.Client the broker core consults
// for authentication and session durability (spec §4.9 steps 2 and 4).
// Narrowed to an interface for the same reason subscription.Table
// narrows its Meta dependency: tests fake it, production wires
// *rpc.Client straight through.
type MetaClient interface {
	subscription.ExclusiveCoordinator
	subscription.RetainedStore
	GetUser(ctx context.Context, req *v1.GetUserRequest) (*v1.GetUserResponse, error)
	ListACLs(ctx context.Context, req *v1.ListACLsRequest) (*v1.ListACLsResponse, error)
	PutSession(ctx context.Context, req *v1.PutSessionRequest) (*v1.PutSessionResponse, error)
	DeleteSession(ctx context.Context, req *v1.DeleteSessionRequest) (*v1.DeleteSessionResponse, error)
}

// Config configures a Dispatcher.
type Config struct {
	NodeID        uint64
	RequireAuth   bool
	MaxPacketSize int
}

// clientConn is one live connection's write side, registered so publish
// fan-out from other goroutines can reach it.
type clientConn struct {
	mu        sync.Mutex
	conn      transport.Conn
	version   packet.ProtocolVersion
	packetIDs uint32
}

// nextPacketID hands out packet ids for outbound QoS>0 deliveries on
// this connection, skipping 0 (not a valid MQTT packet id).
func (c *clientConn) nextPacketID() uint16 {
	n := atomic.AddUint32(&c.packetIDs, 1)
	return uint16(n%0xFFFF) + 1
}

func (c *clientConn) write(t packet.Type, flags byte, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return transport.WritePacket(c.conn, t, flags, body)
}

// Dispatcher implements transport.Handler over the session/subscription
// core, for every listener kind (TCP/TLS/WS/WSS/QUIC) uniformly.
type Dispatcher struct {
	cfg Config

	sessions *session.Table
	subs     *subscription.Table
	will     *session.WillScheduler
	meta     MetaClient
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]*clientConn
}

// New builds a Dispatcher. meta may be nil in tests that don't exercise
// auth, session persistence, or exclusive/retained coordination.
func New(cfg Config, sessions *session.Table, subs *subscription.Table, meta MetaClient, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = 1 << 20
	}
	d := &Dispatcher{
		cfg:      cfg,
		sessions: sessions,
		subs:     subs,
		meta:     meta,
		logger:   logger,
		conns:    make(map[string]*clientConn),
	}
	d.will = session.NewWillScheduler(d)
	return d
}

// Close stops the will-delay scheduler. Call once, on broker shutdown.
func (d *Dispatcher) Close() { d.will.Stop() }

// Handle is the transport.Handler entry point: one goroutine per
// connection, for the connection's whole lifetime (spec §4.9's
// CONNECT -> ... -> DISCONNECT pipeline).
func (d *Dispatcher) Handle(ctx context.Context, conn transport.Conn, remote net.Addr) {
	defer conn.Close()

	fh, body, err := transport.ReadPacket(conn, d.cfg.MaxPacketSize)
	if err != nil {
		d.logger.Debug("broker: connection closed before CONNECT", "remote", remote, "error", err)
		return
	}
	if fh.Type != packet.TypeConnect {
		d.logger.Warn("broker: first packet was not CONNECT", "remote", remote, "type", fh.Type)
		return
	}
	connectPkt, err := packet.DecodeConnect(body)
	if err != nil {
		d.logger.Warn("broker: malformed CONNECT", "remote", remote, "error", err)
		return
	}

	sess, reasonCode, ok := d.handleConnect(ctx, connectPkt)
	cc := &clientConn{conn: conn, version: connectPkt.ProtocolVersion}
	ack, _ := (&packet.ConnAckPacket{
		ProtocolVersion: connectPkt.ProtocolVersion,
		SessionPresent:  ok && !connectPkt.Flags.CleanStart,
		ReasonCode:      reasonCode,
	}).Encode()
	if err := transport.WritePacket(conn, packet.TypeConnAck, 0, ack); err != nil || !ok {
		return
	}

	d.mu.Lock()
	d.conns[sess.ClientID] = cc
	d.mu.Unlock()
	sess.SetState(session.StateConnected)
	d.will.Cancel(sess.ClientID)

	// willArmed defaults to true: a read error or keep-alive timeout is
	// an abnormal termination, so the will (if any) fires unless an
	// explicit DISCONNECT says otherwise (spec §4.9's clean-DISCONNECT
	// cancellation invariant).
	willArmed := true
	defer func() { d.handleDisconnectCleanup(ctx, sess, willArmed) }()

	for {
		if deadline := sess.KeepAliveDeadline(); !deadline.IsZero() {
			conn.SetReadDeadline(deadline)
		}
		fh, body, err := transport.ReadPacket(conn, d.cfg.MaxPacketSize)
		if err != nil {
			d.logger.Debug("broker: connection read ended", "client_id", sess.ClientID, "error", err)
			return
		}
		sess.Touch()

		end, unclean := d.dispatch(ctx, sess, cc, fh, body)
		if end {
			willArmed = unclean
			return
		}
	}
}

// handleConnect runs spec §4.9's CONNECT pipeline: authenticate, resume
// or create the session, apply receive_maximum/session_expiry from
// CONNECT properties.
func (d *Dispatcher) handleConnect(ctx context.Context, c *packet.ConnectPacket) (*session.Session, packet.ConnAckReasonCode, bool) {
	clientID := c.ClientID
	if clientID == "" {
		if !c.Flags.CleanStart {
			return nil, packet.ConnAckClientIDNotValid, false
		}
		clientID = session.GenerateClientID()
	}

	if d.cfg.RequireAuth && d.meta != nil {
		res, err := d.meta.GetUser(ctx, &v1.GetUserRequest{Username: c.Username})
		if err != nil {
			d.logger.Error("broker: auth lookup failed", "error", err)
			return nil, packet.ConnAckUnspecifiedError, false
		}
		if !res.Found || res.User.PasswordHash != passwordHash(c.Password) {
			return nil, packet.ConnAckBadUsernameOrPassword, false
		}
	}

	var sess *session.Session
	if existing, had := d.sessions.Get(clientID); had && !c.Flags.CleanStart {
		sess = existing
	} else {
		if had {
			d.subs.RemoveClient(ctx, clientID)
		}
		sess = session.New(clientID, c.ProtocolVersion, c.Flags.CleanStart)
	}
	sess.Username = c.Username
	sess.KeepAlive = c.KeepAlive
	sess.NodeID = d.cfg.NodeID
	if c.Properties != nil {
		if v, ok := c.Properties.U16[packet.PropReceiveMaximum]; ok && v > 0 {
			sess.ReceiveMaximum = v
		}
		if v, ok := c.Properties.U32[packet.PropSessionExpiryInterval]; ok {
			sess.SessionExpiryInterval = v
		}
	}

	if c.Flags.WillFlag {
		delayMS := int64(0)
		if c.WillProperties != nil {
			if v, ok := c.WillProperties.U32[packet.PropWillDelayInterval]; ok {
				delayMS = int64(v) * 1000
			}
		}
		sess.Will = &session.Will{
			Topic:      c.WillTopic,
			Payload:    c.WillPayload,
			QoS:        packet.QoS(c.Flags.WillQoS),
			Retain:     c.Flags.WillRetain,
			DelayMS:    delayMS,
			Properties: c.WillProperties,
		}
	} else {
		sess.Will = nil
	}

	d.sessions.Put(sess)
	return sess, packet.ConnAckSuccess, true
}

// passwordHash is deliberately the identity function: password storage
// policy (hashing algorithm, salting) belongs to whatever populates the
// MetaMqtt user table, not the broker's hot connect path.
func passwordHash(pw []byte) string { return string(pw) }

// dispatch handles one decoded packet. end reports whether the
// connection's read loop should stop (DISCONNECT received); unclean is
// only meaningful when end is true and reports whether the will (if
// armed) should fire, per spec §4.9's DISCONNECT reason-code rule.
func (d *Dispatcher) dispatch(ctx context.Context, sess *session.Session, cc *clientConn, fh *packet.FixedHeader, body []byte) (end bool, unclean bool) {
	switch fh.Type {
	case packet.TypePublish:
		d.handlePublish(ctx, sess, cc, fh, body)
	case packet.TypePubAck:
		if a, err := packet.DecodePubAck(body, cc.version); err == nil {
			sess.AckOutbound(a.PacketID)
		}
	case packet.TypePubRec:
		if a, err := packet.DecodePubRec(body, cc.version); err == nil {
			rel := &packet.PubRelPacket{}
			rel.PacketID = a.PacketID
			enc, _ := rel.Encode()
			cc.write(packet.TypePubRel, 0x02, enc)
		}
	case packet.TypePubRel:
		if a, err := packet.DecodePubRel(body, cc.version); err == nil {
			sess.ReleaseInboundQoS2(a.PacketID)
			comp := &packet.PubCompPacket{}
			comp.PacketID = a.PacketID
			enc, _ := comp.Encode()
			cc.write(packet.TypePubComp, 0, enc)
		}
	case packet.TypePubComp:
		if a, err := packet.DecodePubComp(body, cc.version); err == nil {
			sess.AckOutbound(a.PacketID)
		}
	case packet.TypeSubscribe:
		d.handleSubscribe(ctx, sess, cc, body)
	case packet.TypeUnsubscribe:
		d.handleUnsubscribe(ctx, sess, cc, body)
	case packet.TypePingReq:
		cc.write(packet.TypePingResp, 0, nil)
	case packet.TypeDisconnect:
		dp, err := packet.DecodeDisconnect(body, cc.version)
		if err != nil {
			d.logger.Warn("broker: malformed DISCONNECT", "client_id", sess.ClientID, "error", err)
			return true, true
		}
		return true, dp.ReasonCode != packet.DisconnectNormal
	default:
		d.logger.Warn("broker: unhandled packet type", "client_id", sess.ClientID, "type", fh.Type)
	}
	return false, false
}

func (d *Dispatcher) handlePublish(ctx context.Context, sess *session.Session, cc *clientConn, fh *packet.FixedHeader, body []byte) {
	flags := packet.DecodePublishFlags(fh.Flags)
	p, err := packet.DecodePublish(body, flags, cc.version)
	if err != nil {
		d.logger.Warn("broker: malformed PUBLISH", "client_id", sess.ClientID, "error", err)
		return
	}

	switch flags.QoS {
	case packet.QoS1:
		ack := &packet.PubAckPacket{}
		ack.PacketID = p.PacketID
		enc, _ := ack.Encode()
		cc.write(packet.TypePubAck, 0, enc)
	case packet.QoS2:
		if !sess.MarkInboundQoS2(p.PacketID, p.Topic, p.Payload) {
			return // duplicate retransmit; PUBREC already sent
		}
		rec := &packet.PubRecPacket{}
		rec.PacketID = p.PacketID
		enc, _ := rec.Encode()
		cc.write(packet.TypePubRec, 0, enc)
	}

	if flags.Retain {
		if err := d.subs.PutRetained(ctx, p.Topic, p.Payload, flags.QoS); err != nil {
			d.logger.Error("broker: retain publish failed", "topic", p.Topic, "error", err)
		}
	}

	d.fanOut(p.Topic, p.Payload, flags.QoS, flags.Retain)
}

func (d *Dispatcher) fanOut(topic string, payload []byte, qos packet.QoS, retain bool) {
	for _, sub := range d.subs.Match(topic) {
		deliverQoS := qos
		if sub.Options.QoS < deliverQoS {
			deliverQoS = sub.Options.QoS
		}
		d.deliver(sub.ClientID, topic, payload, deliverQoS, retain)
	}
}

func (d *Dispatcher) deliver(clientID, topic string, payload []byte, qos packet.QoS, retain bool) {
	d.mu.RLock()
	cc, connected := d.conns[clientID]
	d.mu.RUnlock()
	if !connected {
		return // offline; spec's persistent-session redelivery is a future enhancement, see DESIGN.md
	}
	sess, ok := d.sessions.Get(clientID)
	if !ok {
		return
	}

	var pid uint16
	if qos > packet.QoS0 {
		pid = cc.nextPacketID()
		if err := sess.TryAddOutbound(pid, topic, payload, qos); err != nil {
			d.logger.Warn("broker: receive_maximum exceeded, dropping delivery", "client_id", clientID)
			return
		}
	}

	pub := &packet.PublishPacket{
		ProtocolVersion: cc.version,
		Flags:           packet.PublishFlags{QoS: qos, Retain: retain},
		Topic:           topic,
		PacketID:        pid,
		Payload:         payload,
	}
	enc, err := pub.Encode()
	if err != nil {
		return
	}
	if err := cc.write(packet.TypePublish, pub.FixedHeaderFlags(), enc); err != nil {
		d.logger.Debug("broker: delivery write failed", "client_id", clientID, "error", err)
	}
}

func (d *Dispatcher) handleSubscribe(ctx context.Context, sess *session.Session, cc *clientConn, body []byte) {
	sp, err := packet.DecodeSubscribe(body, cc.version)
	if err != nil {
		d.logger.Warn("broker: malformed SUBSCRIBE", "client_id", sess.ClientID, "error", err)
		return
	}

	codes := make([]packet.SubAckReasonCode, 0, len(sp.Filters))
	for _, f := range sp.Filters {
		if !subscription.ValidFilter(subscription.Parse(f.Filter).Filter) {
			codes = append(codes, packet.SubAckTopicFilterInvalid)
			continue
		}
		res, err := d.subs.Subscribe(ctx, sess.ClientID, f.Filter, f.Options)
		if err != nil {
			d.logger.Error("broker: subscribe failed", "client_id", sess.ClientID, "filter", f.Filter, "error", err)
			codes = append(codes, packet.SubAckUnspecifiedError)
			continue
		}
		if !res.Granted {
			codes = append(codes, packet.SubAckNotAuthorized)
			continue
		}
		codes = append(codes, packet.SubAckReasonCode(f.Options.QoS))
		for _, rm := range res.Retained {
			d.deliver(sess.ClientID, rm.Topic, rm.Payload, rm.QoS, true)
		}
	}

	ack := &packet.SubAckPacket{ProtocolVersion: cc.version, PacketID: sp.PacketID, ReasonCodes: codes}
	enc, _ := ack.Encode()
	cc.write(packet.TypeSubAck, 0, enc)
}

func (d *Dispatcher) handleUnsubscribe(ctx context.Context, sess *session.Session, cc *clientConn, body []byte) {
	up, err := packet.DecodeUnsubscribe(body, cc.version)
	if err != nil {
		d.logger.Warn("broker: malformed UNSUBSCRIBE", "client_id", sess.ClientID, "error", err)
		return
	}

	codes := make([]packet.UnsubAckReasonCode, 0, len(up.Filters))
	for _, f := range up.Filters {
		if err := d.subs.Unsubscribe(ctx, sess.ClientID, f); err != nil {
			codes = append(codes, packet.UnsubAckUnspecifiedError)
			continue
		}
		codes = append(codes, packet.UnsubAckSuccess)
	}

	ack := &packet.UnsubAckPacket{ProtocolVersion: cc.version, PacketID: up.PacketID, ReasonCodes: codes}
	enc, _ := ack.Encode()
	cc.write(packet.TypeUnsubAck, 0, enc)
}

// handleDisconnectCleanup runs on connection teardown, whatever the
// cause (explicit DISCONNECT, read error, keep-alive timeout): it
// unregisters the live connection and, for an unclean close with a will
// armed, schedules will delivery (spec §4.9's will-delay rule).
func (d *Dispatcher) handleDisconnectCleanup(ctx context.Context, sess *session.Session, uncleanIfWillArmed bool) {
	d.mu.Lock()
	delete(d.conns, sess.ClientID)
	d.mu.Unlock()

	sess.SetState(session.StateClosed)
	if sess.Will != nil && uncleanIfWillArmed {
		d.will.Schedule(sess.ClientID, sess.Will)
	}

	if sess.CleanStart {
		d.subs.RemoveClient(ctx, sess.ClientID)
		d.sessions.Delete(sess.ClientID)
		if d.meta != nil {
			if _, err := d.meta.DeleteSession(ctx, &v1.DeleteSessionRequest{ClientID: sess.ClientID}); err != nil {
				d.logger.Warn("broker: delete persisted session failed", "client_id", sess.ClientID, "error", err)
			}
		}
		return
	}

	if d.meta != nil {
		_, err := d.meta.PutSession(ctx, &v1.PutSessionRequest{Session: v1.SessionRecord{
			ClientID:        sess.ClientID,
			OwnerNode:       sess.NodeID,
			CleanStart:      sess.CleanStart,
			SessionExpiry:   sess.SessionExpiryInterval,
			LastConnectedAt: time.Now().UnixMilli(),
		}})
		if err != nil {
			d.logger.Warn("broker: persist session failed", "client_id", sess.ClientID, "error", err)
		}
	}
}

// PublishWill implements session.WillPublisher, called by the will-delay
// scheduler once will.DelayMS has elapsed since an unclean disconnect.
func (d *Dispatcher) PublishWill(clientID string, will *session.Will) {
	if will == nil {
		return
	}
	ctx := context.Background()
	if will.Retain {
		if err := d.subs.PutRetained(ctx, will.Topic, will.Payload, will.QoS); err != nil {
			d.logger.Error("broker: will retain failed", "client_id", clientID, "error", err)
		}
	}
	d.fanOut(will.Topic, will.Payload, will.QoS, will.Retain)
}

