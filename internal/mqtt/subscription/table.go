package subscription

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robustmq/robustmq/internal/mqtt/packet"

	v1 "github.com/robustmq/robustmq/api/proto/v1"
)

// ExclusiveCoordinator is the subset of meta's rpc.Client a subscription
// Table needs to serialize "$exclusive/<filter>" acquisition across the
// cluster (spec §4.9: "enforced via a Meta set-nx operation"). Kept as a
// narrow interface, the same way internal/meta/controller narrows
// *raft.Node down to its proposer interface, so tests can fake it without
// standing up a Raft cluster.
type ExclusiveCoordinator interface {
	AcquireExclusiveSub(ctx context.Context, req *v1.AcquireExclusiveSubRequest) (*v1.AcquireExclusiveSubResponse, error)
	ReleaseExclusiveSub(ctx context.Context, req *v1.ReleaseExclusiveSubRequest) (*v1.ReleaseExclusiveSubResponse, error)
}

// RetainedStore is the subset of meta's rpc.Client needed for the
// retained-message index (spec §4.9's "retained message index").
type RetainedStore interface {
	PutRetained(ctx context.Context, req *v1.PutRetainedRequest) (*v1.PutRetainedResponse, error)
	DeleteRetained(ctx context.Context, req *v1.DeleteRetainedRequest) (*v1.DeleteRetainedResponse, error)
	ListRetained(ctx context.Context, req *v1.ListRetainedRequest) (*v1.ListRetainedResponse, error)
}

// Subscriber is one client's hold on a filter.
type Subscriber struct {
	ClientID string
	Options  packet.SubscribeOptions
}

// sharedGroup is one ($share group, filter) pair's round-robin member
// list (spec §4.9: "a shared subscribe map: (group, filter) -> round
// robin state").
type sharedGroup struct {
	mu      sync.Mutex
	members []Subscriber
	next    int
}

func (g *sharedGroup) add(sub Subscriber) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, m := range g.members {
		if m.ClientID == sub.ClientID {
			g.members[i] = sub
			return
		}
	}
	g.members = append(g.members, sub)
}

func (g *sharedGroup) remove(clientID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, m := range g.members {
		if m.ClientID == clientID {
			g.members = append(g.members[:i], g.members[i+1:]...)
			if g.next > i {
				g.next--
			}
			return
		}
	}
}

// pick returns the next member in round-robin order, advancing the
// cursor, or ok=false if the group is empty.
func (g *sharedGroup) pick() (Subscriber, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.members) == 0 {
		return Subscriber{}, false
	}
	sub := g.members[g.next%len(g.members)]
	g.next = (g.next + 1) % len(g.members)
	return sub, true
}

func (g *sharedGroup) empty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members) == 0
}

// Table is one broker node's live subscription index: normal filters,
// shared-subscription groups, and the set of exclusive filters this node
// currently holds (mirrored locally so unsubscribe/disconnect can release
// them without guessing). Delivery fan-out (spec §5: "subscription index
// lookup is shared read-only between publisher tasks; mutations take a
// short write lock") is the reason plain filters live behind one RWMutex
// rather than pkg/cmap: matching needs a consistent snapshot across every
// filter on each publish, not independent per-key access.
type Table struct {
	mu sync.RWMutex
	// normal maps a plain topic filter to its subscribers, keyed by
	// client id.
	normal map[string]map[string]Subscriber
	// shared maps "<group>/<filter>" to that group's round-robin state.
	shared map[string]*sharedGroup
	// clientFilters tracks every raw filter string a client currently
	// holds, so RemoveClient can unwind normal/shared/exclusive state
	// without the caller re-supplying the filter list.
	clientFilters map[string]map[string]struct{}

	coordinator ExclusiveCoordinator
	retained    RetainedStore
	logger      *slog.Logger
}

// NewTable creates an empty subscription table. coordinator and retained
// may be nil in tests that don't exercise exclusive subscriptions or
// retained replay.
func NewTable(coordinator ExclusiveCoordinator, retained RetainedStore, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		normal:        make(map[string]map[string]Subscriber),
		shared:        make(map[string]*sharedGroup),
		clientFilters: make(map[string]map[string]struct{}),
		coordinator:   coordinator,
		retained:      retained,
		logger:        logger,
	}
}

// Result is what Subscribe reports for one SUBSCRIBE filter, matching the
// SUBACK reason-code choice the caller needs to make (spec §4.9).
type Result struct {
	Granted  bool
	Parsed   Parsed
	Retained []RetainedRecord
}

// RetainedRecord is a retained message replayed to a new subscriber.
type RetainedRecord struct {
	Topic   string
	Payload []byte
	QoS     packet.QoS
}

// Subscribe registers clientID's hold on raw (spec §4.9's matching +
// exclusive/shared handling), returning the retained messages that
// should be replayed with SUB_RETAIN_MESSAGE_PUSH_FLAG set.
func (t *Table) Subscribe(ctx context.Context, clientID, raw string, opts packet.SubscribeOptions) (Result, error) {
	parsed := Parse(raw)
	sub := Subscriber{ClientID: clientID, Options: opts}

	switch parsed.Kind {
	case KindExclusive:
		if t.coordinator != nil {
			res, err := t.coordinator.AcquireExclusiveSub(ctx, &v1.AcquireExclusiveSubRequest{Filter: parsed.Filter, ClientID: clientID})
			if err != nil {
				return Result{}, err
			}
			if !res.Granted {
				return Result{Granted: false, Parsed: parsed}, nil
			}
		}
		t.putNormal(parsed.Filter, sub)

	case KindShared:
		key := parsed.Group + "/" + parsed.Filter
		t.mu.Lock()
		g, ok := t.shared[key]
		if !ok {
			g = &sharedGroup{}
			t.shared[key] = g
		}
		t.mu.Unlock()
		g.add(sub)

	default:
		t.putNormal(parsed.Filter, sub)
	}

	t.trackClientFilter(clientID, raw)

	records, err := t.replayRetained(ctx, parsed.Filter)
	if err != nil {
		t.logger.Warn("subscription: retained replay failed", "filter", raw, "error", err)
	}
	return Result{Granted: true, Parsed: parsed, Retained: records}, nil
}

func (t *Table) putNormal(filter string, sub Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.normal[filter]
	if !ok {
		m = make(map[string]Subscriber)
		t.normal[filter] = m
	}
	m[sub.ClientID] = sub
}

func (t *Table) trackClientFilter(clientID, raw string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.clientFilters[clientID]
	if !ok {
		m = make(map[string]struct{})
		t.clientFilters[clientID] = m
	}
	m[raw] = struct{}{}
}

func (t *Table) replayRetained(ctx context.Context, filter string) ([]RetainedRecord, error) {
	if t.retained == nil {
		return nil, nil
	}
	res, err := t.retained.ListRetained(ctx, &v1.ListRetainedRequest{})
	if err != nil {
		return nil, err
	}
	var out []RetainedRecord
	for _, msg := range res.Messages {
		if Matches(filter, msg.Topic) {
			out = append(out, RetainedRecord{Topic: msg.Topic, Payload: msg.Payload, QoS: packet.QoS(msg.QoS)})
		}
	}
	return out, nil
}

// Unsubscribe removes clientID's hold on raw, releasing any exclusive
// lock it held.
func (t *Table) Unsubscribe(ctx context.Context, clientID, raw string) error {
	parsed := Parse(raw)

	switch parsed.Kind {
	case KindExclusive:
		t.removeNormal(parsed.Filter, clientID)
		if t.coordinator != nil {
			if _, err := t.coordinator.ReleaseExclusiveSub(ctx, &v1.ReleaseExclusiveSubRequest{Filter: parsed.Filter, ClientID: clientID}); err != nil {
				return err
			}
		}
	case KindShared:
		key := parsed.Group + "/" + parsed.Filter
		t.mu.Lock()
		g, ok := t.shared[key]
		t.mu.Unlock()
		if ok {
			g.remove(clientID)
			if g.empty() {
				t.mu.Lock()
				delete(t.shared, key)
				t.mu.Unlock()
			}
		}
	default:
		t.removeNormal(parsed.Filter, clientID)
	}

	t.mu.Lock()
	if m, ok := t.clientFilters[clientID]; ok {
		delete(m, raw)
		if len(m) == 0 {
			delete(t.clientFilters, clientID)
		}
	}
	t.mu.Unlock()
	return nil
}

func (t *Table) removeNormal(filter, clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.normal[filter]; ok {
		delete(m, clientID)
		if len(m) == 0 {
			delete(t.normal, filter)
		}
	}
}

// RemoveClient unwinds every filter clientID holds, releasing exclusive
// locks (spec §4.9's session-close cleanup) and vacating shared-group
// membership. Called on session close or a client takeover.
func (t *Table) RemoveClient(ctx context.Context, clientID string) {
	t.mu.RLock()
	filters := make([]string, 0, len(t.clientFilters[clientID]))
	for f := range t.clientFilters[clientID] {
		filters = append(filters, f)
	}
	t.mu.RUnlock()

	for _, raw := range filters {
		if err := t.Unsubscribe(ctx, clientID, raw); err != nil {
			t.logger.Warn("subscription: cleanup unsubscribe failed", "client_id", clientID, "filter", raw, "error", err)
		}
	}
}

// Match returns every subscriber (normal, exclusive-as-normal, and one
// member per matching shared group) whose filter matches topic, for
// publish fan-out.
func (t *Table) Match(topic string) []Subscriber {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Subscriber
	for filter, subs := range t.normal {
		if Matches(filter, topic) {
			for _, s := range subs {
				out = append(out, s)
			}
		}
	}
	for key, g := range t.shared {
		filter := key[indexAfterGroup(key):]
		if Matches(filter, topic) {
			if sub, ok := g.pick(); ok {
				out = append(out, sub)
			}
		}
	}
	return out
}

func indexAfterGroup(key string) int {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return i + 1
		}
	}
	return 0
}

// PutRetained upserts (or, for an empty payload, deletes) the retained
// message for a PUBLISH carrying retain=true (spec §4.9: "on publish with
// retain=true and non-empty payload, upsert... empty payload deletes").
func (t *Table) PutRetained(ctx context.Context, topic string, payload []byte, qos packet.QoS) error {
	if t.retained == nil {
		return nil
	}
	if len(payload) == 0 {
		_, err := t.retained.DeleteRetained(ctx, &v1.DeleteRetainedRequest{Topic: topic})
		return err
	}
	_, err := t.retained.PutRetained(ctx, &v1.PutRetainedRequest{Message: v1.RetainedMessage{Topic: topic, Payload: payload, QoS: byte(qos)}})
	return err
}
