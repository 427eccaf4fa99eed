package session

import (
	"testing"
	"time"

	"github.com/robustmq/robustmq/internal/mqtt/packet"
)

func TestNewSessionDefaults(t *testing.T) {
	s := New("client-1", packet.MQTT5, true)
	if s.CurrentState() != StateAccepted {
		t.Fatalf("expected initial state accepted, got %s", s.CurrentState())
	}
	if s.ReceiveMaximum == 0 {
		t.Fatal("expected a non-zero default receive_maximum")
	}
}

func TestGenerateClientIDIsUnique(t *testing.T) {
	a := GenerateClientID()
	b := GenerateClientID()
	if a == b {
		t.Fatalf("expected distinct generated client ids, got %q twice", a)
	}
}

func TestInflightWindowEnforcesReceiveMaximum(t *testing.T) {
	s := New("client-1", packet.MQTT311, true)
	s.ReceiveMaximum = 2

	if err := s.TryAddOutbound(1, "t", nil, packet.QoS1); err != nil {
		t.Fatal(err)
	}
	if err := s.TryAddOutbound(2, "t", nil, packet.QoS1); err != nil {
		t.Fatal(err)
	}
	if err := s.TryAddOutbound(3, "t", nil, packet.QoS1); err != ErrReceiveMaximumExceeded {
		t.Fatalf("expected ErrReceiveMaximumExceeded, got %v", err)
	}

	if !s.AckOutbound(1) {
		t.Fatal("expected ack to succeed for tracked packet id")
	}
	if err := s.TryAddOutbound(3, "t", nil, packet.QoS1); err != nil {
		t.Fatalf("expected room after ack, got %v", err)
	}
}

func TestQoS2IdempotencySet(t *testing.T) {
	s := New("client-1", packet.MQTT311, true)
	if !s.MarkInboundQoS2(5, "t", []byte("x")) {
		t.Fatal("expected first PUBLISH with pid 5 to be accepted")
	}
	if s.MarkInboundQoS2(5, "t", []byte("x")) {
		t.Fatal("expected duplicate PUBLISH with same pid to be rejected")
	}
	if !s.ReleaseInboundQoS2(5) {
		t.Fatal("expected PUBREL to release pid 5")
	}
	if !s.MarkInboundQoS2(5, "t", []byte("x")) {
		t.Fatal("expected pid 5 to be reusable after release")
	}
}

func TestTopicAliasRoundTrip(t *testing.T) {
	s := New("client-1", packet.MQTT5, true)
	s.SetTopicAlias(1, "sensors/temp")
	topic, ok := s.ResolveTopicAlias(1)
	if !ok || topic != "sensors/temp" {
		t.Fatalf("got topic=%q ok=%v", topic, ok)
	}
	if _, ok := s.ResolveTopicAlias(2); ok {
		t.Fatal("expected unregistered alias to resolve false")
	}
}

func TestKeepAliveDeadline(t *testing.T) {
	s := New("client-1", packet.MQTT311, true)
	s.KeepAlive = 10
	deadline := s.KeepAliveDeadline()
	expected := time.UnixMilli(s.LastActive).Add(15 * time.Second)
	if deadline.Sub(expected).Abs() > time.Millisecond {
		t.Fatalf("expected deadline ~%v, got %v", expected, deadline)
	}
}

func TestTableBasicOps(t *testing.T) {
	tbl := NewTable()
	s := New("client-1", packet.MQTT311, true)
	tbl.Put(s)

	got, ok := tbl.Get("client-1")
	if !ok || got.ClientID != "client-1" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}
	if tbl.Count() != 1 {
		t.Fatalf("expected count 1, got %d", tbl.Count())
	}
	tbl.Delete("client-1")
	if _, ok := tbl.Get("client-1"); ok {
		t.Fatal("expected session to be removed")
	}
}

type recordingPublisher struct {
	delivered chan string
}

func (p *recordingPublisher) PublishWill(clientID string, will *Will) {
	p.delivered <- clientID
}

func TestWillSchedulerDeliversAfterDelay(t *testing.T) {
	pub := &recordingPublisher{delivered: make(chan string, 1)}
	sched := NewWillScheduler(pub)
	defer sched.Stop()

	sched.Schedule("client-1", &Will{Topic: "lwt", DelayMS: 50})

	select {
	case id := <-pub.delivered:
		if id != "client-1" {
			t.Fatalf("got %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected will delivery within timeout")
	}
}

func TestWillSchedulerCancel(t *testing.T) {
	pub := &recordingPublisher{delivered: make(chan string, 1)}
	sched := NewWillScheduler(pub)
	defer sched.Stop()

	sched.Schedule("client-1", &Will{Topic: "lwt", DelayMS: 100})
	sched.Cancel("client-1")

	select {
	case id := <-pub.delivered:
		t.Fatalf("expected no delivery after cancel, got %q", id)
	case <-time.After(300 * time.Millisecond):
	}
}
