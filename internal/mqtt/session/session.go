// Package session implements spec §4.9's MQTT Session & Subscription
// Core: the CONNECT→DISCONNECT connection state machine, per-client
// QoS 1/2 inflight accounting, and the will-delay scheduler. Session
// records are plain value objects held in a pkg/cmap sharded table
// keyed by client id.
package session

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/robustmq/robustmq/internal/mqtt/packet"
	"github.com/robustmq/robustmq/pkg/cmap"
)

// State is the connection state machine spec §4.9 defines.
type State string

const (
	StateAccepted      State = "accepted"
	StateAuthenticating State = "authenticating"
	StateConnected     State = "connected"
	StateRejected      State = "rejected"
	StateClosed        State = "closed"
)

// Will holds a session's last-will message, scheduled for delivery
// will_delay_interval after an unclean disconnect.
type Will struct {
	Topic      string
	Payload    []byte
	QoS        packet.QoS
	Retain     bool
	DelayMS    int64
	Properties *packet.Properties
}

// InflightEntry tracks one un-acked QoS 1/2 publish, keyed by packet id,
// in either direction (outbound delivery to the client, or a QoS 2
// inbound idempotency record awaiting PUBREL).
type InflightEntry struct {
	PacketID  uint16
	Topic     string
	Payload   []byte
	QoS       packet.QoS
	Outbound  bool
	CreatedAt int64
}

// Session is one client's connection state. The broker persists a
// summary of it to Meta on disconnect when CleanStart is false (spec
// §4.9 step 4).
type Session struct {
	mu sync.Mutex

	ClientID        string
	ProtocolVersion packet.ProtocolVersion
	CleanStart      bool
	KeepAlive       uint16
	Username        string

	NodeID uint64 // broker node currently owning this connection

	SessionExpiryInterval uint32
	ReceiveMaximum        uint16
	TopicAliasMax         uint16

	State State

	Will *Will

	CreatedAt  int64
	LastActive int64
	Version    uint64

	// outbound/inbound inflight windows, keyed by packet id.
	outbound map[uint16]InflightEntry
	inbound  map[uint16]InflightEntry

	// topicAliases maps a client-assigned alias (MQTT 5.0) to the full
	// topic name it abbreviates.
	topicAliases map[uint16]string

	// pendingSubscriptions is allocated by New but nothing writes to it;
	// the client's live subscription set lives in subscription.Table.
	pendingSubscriptions map[string]packet.SubscribeOptions
}

// GetVersion implements cmap.Versioned.
func (s *Session) GetVersion() uint64 { return s.Version }

// SetVersion implements cmap.Versioned.
func (s *Session) SetVersion(v uint64) { s.Version = v }

// New creates a fresh session for a just-accepted CONNECT (spec §4.9
// step 3: "else create new").
func New(clientID string, version packet.ProtocolVersion, cleanStart bool) *Session {
	now := time.Now().UnixMilli()
	return &Session{
		ClientID:             clientID,
		ProtocolVersion:      version,
		CleanStart:           cleanStart,
		State:                StateAccepted,
		CreatedAt:            now,
		LastActive:           now,
		Version:              1,
		ReceiveMaximum:       65535,
		outbound:             make(map[uint16]InflightEntry),
		inbound:              make(map[uint16]InflightEntry),
		topicAliases:         make(map[uint16]string),
		pendingSubscriptions: make(map[string]packet.SubscribeOptions),
	}
}

// GenerateClientID assigns a unique client id when CONNECT carries an
// empty one with clean_start set (spec §4.9 step 1).
func GenerateClientID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		// ulid.New only fails on an exhausted monotonic entropy source
		// within the same millisecond; fall back to a timestamp-only id
		// rather than rejecting the connection.
		return "auto-" + time.Now().UTC().Format("20060102T150405.000000000")
	}
	return "auto-" + strings.ToLower(id.String())
}

// Touch records activity for idle/keep-alive tracking.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActive = time.Now().UnixMilli()
}

// KeepAliveDeadline returns the instant after which, with no traffic,
// this connection should be closed (spec §4.8: "keep_alive * 1.5").
func (s *Session) KeepAliveDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.KeepAlive == 0 {
		return time.Time{}
	}
	last := time.UnixMilli(s.LastActive)
	return last.Add(time.Duration(float64(s.KeepAlive) * 1.5 * float64(time.Second)))
}

// ErrReceiveMaximumExceeded is returned by TryAddOutbound when the
// inflight window is full (spec §4.9: "rejected with
// DisconnectReasonCode::ReceiveMaximumExceeded").
var ErrReceiveMaximumExceeded = &inflightError{"session: receive_maximum exceeded"}

type inflightError struct{ msg string }

func (e *inflightError) Error() string { return e.msg }

// TryAddOutbound registers a new un-acked QoS ≥ 1 delivery, enforcing
// receive_maximum (spec §4.9's "Inflight window").
func (s *Session) TryAddOutbound(pid uint16, topic string, payload []byte, qos packet.QoS) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := int(s.ReceiveMaximum)
	if limit > 0 && len(s.outbound) >= limit {
		return ErrReceiveMaximumExceeded
	}
	s.outbound[pid] = InflightEntry{PacketID: pid, Topic: topic, Payload: payload, QoS: qos, Outbound: true, CreatedAt: time.Now().UnixMilli()}
	return nil
}

// AckOutbound releases an outbound inflight slot on PUBACK (QoS 1) or
// PUBCOMP (QoS 2).
func (s *Session) AckOutbound(pid uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outbound[pid]; !ok {
		return false
	}
	delete(s.outbound, pid)
	return true
}

// OutboundCount reports the current inflight window occupancy.
func (s *Session) OutboundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbound)
}

// MarkInboundQoS2 records an inbound QoS 2 publish's packet id in the
// per-client idempotency set on PUBLISH, before emitting PUBREC (spec
// §4.9: "store pkid in idempotency set"). Returns false if pid is
// already tracked (a duplicate PUBLISH retransmit).
func (s *Session) MarkInboundQoS2(pid uint16, topic string, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inbound[pid]; exists {
		return false
	}
	s.inbound[pid] = InflightEntry{PacketID: pid, Topic: topic, Payload: payload, QoS: packet.QoS2, CreatedAt: time.Now().UnixMilli()}
	return true
}

// ReleaseInboundQoS2 removes pid from the idempotency set on PUBREL,
// just before emitting PUBCOMP (spec §4.9).
func (s *Session) ReleaseInboundQoS2(pid uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[pid]; !ok {
		return false
	}
	delete(s.inbound, pid)
	return true
}

// SetTopicAlias records a client-assigned topic alias (MQTT 5.0
// PUBLISH Topic Alias property) for later expansion.
func (s *Session) SetTopicAlias(alias uint16, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topicAliases[alias] = topic
}

// ResolveTopicAlias expands a previously-registered alias; ok is false
// for an alias the client never registered, which is a protocol error.
func (s *Session) ResolveTopicAlias(alias uint16) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	topic, ok := s.topicAliases[alias]
	return topic, ok
}

// SetState transitions the connection state machine.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = st
}

// CurrentState reads the connection state machine.
func (s *Session) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// Table is the broker-node-local sharded table of live sessions,
// keyed by client id.
type Table struct {
	sessions *cmap.Map[string, *Session]
}

// NewTable creates an empty session table.
func NewTable() *Table {
	return &Table{sessions: cmap.New[string, *Session]()}
}

func (t *Table) Put(s *Session) { t.sessions.Set(s.ClientID, s) }

func (t *Table) Get(clientID string) (*Session, bool) { return t.sessions.Get(clientID) }

func (t *Table) Delete(clientID string) { t.sessions.Delete(clientID) }

func (t *Table) Count() int { return t.sessions.Count() }

// Range iterates every live session.
func (t *Table) Range(fn func(*Session) bool) {
	t.sessions.Range(func(_ string, s *Session) bool { return fn(s) })
}
