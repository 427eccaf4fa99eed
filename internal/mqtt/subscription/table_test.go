package subscription

import (
	"context"
	"testing"

	"github.com/robustmq/robustmq/internal/mqtt/packet"

	v1 "github.com/robustmq/robustmq/api/proto/v1"
)

type fakeCoordinator struct {
	held map[string]string
}

func newFakeCoordinator() *fakeCoordinator { return &fakeCoordinator{held: make(map[string]string)} }

func (f *fakeCoordinator) AcquireExclusiveSub(_ context.Context, req *v1.AcquireExclusiveSubRequest) (*v1.AcquireExclusiveSubResponse, error) {
	if holder, ok := f.held[req.Filter]; ok && holder != req.ClientID {
		return &v1.AcquireExclusiveSubResponse{Granted: false}, nil
	}
	f.held[req.Filter] = req.ClientID
	return &v1.AcquireExclusiveSubResponse{Granted: true}, nil
}

func (f *fakeCoordinator) ReleaseExclusiveSub(_ context.Context, req *v1.ReleaseExclusiveSubRequest) (*v1.ReleaseExclusiveSubResponse, error) {
	if f.held[req.Filter] == req.ClientID {
		delete(f.held, req.Filter)
	}
	return &v1.ReleaseExclusiveSubResponse{}, nil
}

type fakeRetained struct {
	messages map[string]v1.RetainedMessage
}

func newFakeRetained() *fakeRetained { return &fakeRetained{messages: make(map[string]v1.RetainedMessage)} }

func (f *fakeRetained) PutRetained(_ context.Context, req *v1.PutRetainedRequest) (*v1.PutRetainedResponse, error) {
	f.messages[req.Message.Topic] = req.Message
	return &v1.PutRetainedResponse{}, nil
}

func (f *fakeRetained) DeleteRetained(_ context.Context, req *v1.DeleteRetainedRequest) (*v1.DeleteRetainedResponse, error) {
	delete(f.messages, req.Topic)
	return &v1.DeleteRetainedResponse{}, nil
}

func (f *fakeRetained) ListRetained(_ context.Context, _ *v1.ListRetainedRequest) (*v1.ListRetainedResponse, error) {
	out := make([]v1.RetainedMessage, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m)
	}
	return &v1.ListRetainedResponse{Messages: out}, nil
}

func TestSubscribeMatchNormal(t *testing.T) {
	tbl := NewTable(nil, nil, nil)
	ctx := context.Background()

	if _, err := tbl.Subscribe(ctx, "c1", "sensors/+/temp", packet.SubscribeOptions{QoS: packet.QoS1}); err != nil {
		t.Fatal(err)
	}
	subs := tbl.Match("sensors/a/temp")
	if len(subs) != 1 || subs[0].ClientID != "c1" {
		t.Fatalf("got %+v", subs)
	}
	if subs := tbl.Match("sensors/a/b/temp"); len(subs) != 0 {
		t.Fatalf("expected no match, got %+v", subs)
	}
}

func TestSharedSubscriptionRoundRobin(t *testing.T) {
	tbl := NewTable(nil, nil, nil)
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		if _, err := tbl.Subscribe(ctx, id, "$share/g1/jobs", packet.SubscribeOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	seen := make(map[string]int)
	for i := 0; i < 6; i++ {
		subs := tbl.Match("jobs")
		if len(subs) != 1 {
			t.Fatalf("expected exactly one shared delivery, got %d", len(subs))
		}
		seen[subs[0].ClientID]++
	}
	for _, id := range []string{"c1", "c2", "c3"} {
		if seen[id] != 2 {
			t.Fatalf("expected round-robin fairness, got %+v", seen)
		}
	}
}

func TestExclusiveSubscriptionRejectsSecondSubscriber(t *testing.T) {
	coord := newFakeCoordinator()
	tbl := NewTable(coord, nil, nil)
	ctx := context.Background()

	res1, err := tbl.Subscribe(ctx, "c1", "$exclusive/lock/me", packet.SubscribeOptions{})
	if err != nil || !res1.Granted {
		t.Fatalf("expected first subscriber granted, got %+v err=%v", res1, err)
	}
	res2, err := tbl.Subscribe(ctx, "c2", "$exclusive/lock/me", packet.SubscribeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res2.Granted {
		t.Fatal("expected second subscriber to be rejected")
	}

	if err := tbl.Unsubscribe(ctx, "c1", "$exclusive/lock/me"); err != nil {
		t.Fatal(err)
	}
	res3, err := tbl.Subscribe(ctx, "c2", "$exclusive/lock/me", packet.SubscribeOptions{})
	if err != nil || !res3.Granted {
		t.Fatalf("expected c2 granted after release, got %+v err=%v", res3, err)
	}
}

func TestRetainedReplayOnSubscribe(t *testing.T) {
	retained := newFakeRetained()
	tbl := NewTable(nil, retained, nil)
	ctx := context.Background()

	if err := tbl.PutRetained(ctx, "sensors/a/temp", []byte("21C"), packet.QoS0); err != nil {
		t.Fatal(err)
	}
	res, err := tbl.Subscribe(ctx, "c1", "sensors/+/temp", packet.SubscribeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Retained) != 1 || res.Retained[0].Topic != "sensors/a/temp" {
		t.Fatalf("got %+v", res.Retained)
	}

	if err := tbl.PutRetained(ctx, "sensors/a/temp", nil, packet.QoS0); err != nil {
		t.Fatal(err)
	}
	if _, ok := retained.messages["sensors/a/temp"]; ok {
		t.Fatal("expected empty-payload retain to delete the record")
	}
}

func TestRemoveClientReleasesEverything(t *testing.T) {
	coord := newFakeCoordinator()
	tbl := NewTable(coord, nil, nil)
	ctx := context.Background()

	if _, err := tbl.Subscribe(ctx, "c1", "a/b", packet.SubscribeOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Subscribe(ctx, "c1", "$exclusive/lock/x", packet.SubscribeOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Subscribe(ctx, "c1", "$share/g/jobs", packet.SubscribeOptions{}); err != nil {
		t.Fatal(err)
	}

	tbl.RemoveClient(ctx, "c1")

	if subs := tbl.Match("a/b"); len(subs) != 0 {
		t.Fatalf("expected no subscribers after removal, got %+v", subs)
	}
	if subs := tbl.Match("jobs"); len(subs) != 0 {
		t.Fatalf("expected empty shared group after removal, got %+v", subs)
	}
	if _, ok := coord.held["lock/x"]; ok {
		t.Fatal("expected exclusive lock released on client removal")
	}
}
