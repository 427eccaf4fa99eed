package session

import (
	"container/heap"
	"hash/fnv"
	"sync"
	"time"
)

// WillPublisher delivers a scheduled will message; implemented by the
// broker's publish pipeline.
type WillPublisher interface {
	PublishWill(clientID string, will *Will)
}

// willTimer is one scheduled will delivery, ordered by fire time.
type willTimer struct {
	clientID string
	will     *Will
	fireAt   int64
	index    int
}

type willHeap []*willTimer

func (h willHeap) Len() int            { return len(h) }
func (h willHeap) Less(i, j int) bool  { return h[i].fireAt < h[j].fireAt }
func (h willHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *willHeap) Push(x any)         { t := x.(*willTimer); t.index = len(*h); *h = append(*h, t) }
func (h *willHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// willShard is one of the scheduler's shards, each with its own heap
// and lock so unrelated clients never contend (spec §4.9: "a
// time-ordered queue sharded by hash of client_id").
type willShard struct {
	mu     sync.Mutex
	heap   willHeap
	timers map[string]*willTimer
}

const willSchedulerShards = 16

// WillScheduler delivers will messages will_delay_interval after an
// unclean disconnect, and cancels delivery on a clean DISCONNECT (spec
// §4.9's "Will message" paragraph).
type WillScheduler struct {
	shards    [willSchedulerShards]*willShard
	publisher WillPublisher

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewWillScheduler builds a scheduler and starts its background
// delivery loop.
func NewWillScheduler(publisher WillPublisher) *WillScheduler {
	s := &WillScheduler{publisher: publisher, stop: make(chan struct{})}
	for i := range s.shards {
		s.shards[i] = &willShard{timers: make(map[string]*willTimer)}
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *WillScheduler) shardFor(clientID string) *willShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientID))
	return s.shards[h.Sum32()%willSchedulerShards]
}

// Schedule arms a will delivery for clientID after will.DelayMS.
// Re-scheduling for a client already holding a timer replaces it.
func (s *WillScheduler) Schedule(clientID string, will *Will) {
	sh := s.shardFor(clientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.timers[clientID]; ok {
		heap.Remove(&sh.heap, existing.index)
		delete(sh.timers, clientID)
	}

	t := &willTimer{
		clientID: clientID,
		will:     will,
		fireAt:   time.Now().UnixMilli() + will.DelayMS,
	}
	heap.Push(&sh.heap, t)
	sh.timers[clientID] = t
}

// Cancel removes a pending will delivery, called on clean DISCONNECT or
// when the client reconnects before the delay elapses.
func (s *WillScheduler) Cancel(clientID string) {
	sh := s.shardFor(clientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	t, ok := sh.timers[clientID]
	if !ok {
		return
	}
	heap.Remove(&sh.heap, t.index)
	delete(sh.timers, clientID)
}

// Stop halts the background delivery loop.
func (s *WillScheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *WillScheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *WillScheduler) sweep() {
	now := time.Now().UnixMilli()
	for _, sh := range s.shards {
		sh.mu.Lock()
		var due []*willTimer
		for sh.heap.Len() > 0 && sh.heap[0].fireAt <= now {
			t := heap.Pop(&sh.heap).(*willTimer)
			delete(sh.timers, t.clientID)
			due = append(due, t)
		}
		sh.mu.Unlock()

		for _, t := range due {
			if s.publisher != nil {
				s.publisher.PublishWill(t.clientID, t.will)
			}
		}
	}
}
