package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/weiawesome/wes-io-live/live-service/internal/domain"
	"github.com/weiawesome/wes-io-live/live-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/live-service/internal/pubsub"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*pubsub.Event
	err    error
	block  chan struct{}
}

func (p *recordingPublisher) Publish(ctx context.Context, event *pubsub.Event) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fakeIndex struct {
	mu        sync.Mutex
	live      map[string]domain.StreamSummary
	opponent  map[string]string
	refreshes int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{live: make(map[string]domain.StreamSummary), opponent: make(map[string]string)}
}

func (f *fakeIndex) SetLive(_ context.Context, s domain.StreamSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[s.StreamerID] = s
	return nil
}

func (f *fakeIndex) SetOffline(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, id)
	return nil
}

func (f *fakeIndex) SetViewerCount(_ context.Context, id string, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.live[id]; ok {
		s.ViewerCount = count
		f.live[id] = s
	}
	return nil
}

func (f *fakeIndex) SetOpponent(_ context.Context, id, opponent string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opponent[id] = opponent
	return nil
}

func (f *fakeIndex) Refresh(_ context.Context, streams []domain.StreamSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	for _, s := range streams {
		f.live[s.StreamerID] = s
	}
	return nil
}

func (f *fakeIndex) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func (f *fakeIndex) List(context.Context) ([]domain.StreamSummary, error) { return nil, nil }

func (f *fakeIndex) Get(context.Context, string) (*domain.StreamSummary, error) { return nil, nil }

func (f *fakeIndex) Close() error { return nil }

func mustEvent(t *testing.T, eventType, streamID string, payload interface{}) *pubsub.Event {
	t.Helper()
	e, err := pubsub.NewEvent(eventType, streamID, payload, time.Now())
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return e
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	index := newFakeIndex()
	m := metrics.NewMetrics()
	d := NewDispatcher(pub, index, m, 16)
	go d.Run(context.Background())

	d.Emit(mustEvent(t, pubsub.EventStreamStarted, "alice", pubsub.StreamStartedPayload{StreamerID: "alice", StreamerName: "Alice"}))
	d.Emit(mustEvent(t, pubsub.EventViewerCount, "alice", pubsub.ViewerCountPayload{StreamerID: "alice", Count: 3}))
	d.Emit(mustEvent(t, pubsub.EventBattleStarted, "alice", pubsub.BattlePayload{StreamerA: "alice", StreamerB: "bob"}))
	d.Close()

	want := []string{pubsub.EventStreamStarted, pubsub.EventViewerCount, pubsub.EventBattleStarted}
	got := pub.types()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if s := index.live["alice"]; s.StreamerName != "Alice" || s.ViewerCount != 3 {
		t.Errorf("index not updated: %+v", s)
	}
	if index.opponent["alice"] != "bob" || index.opponent["bob"] != "alice" {
		t.Errorf("opponents not indexed: %+v", index.opponent)
	}
	if got := m.LifecycleCount(pubsub.EventViewerCount); got != 1 {
		t.Errorf("expected 1 viewer_count event counted, got %v", got)
	}
}

func TestDispatcherIndexFollowsEnd(t *testing.T) {
	index := newFakeIndex()
	d := NewDispatcher(nil, index, nil, 8)
	go d.Run(context.Background())

	d.Emit(mustEvent(t, pubsub.EventStreamStarted, "alice", pubsub.StreamStartedPayload{StreamerID: "alice"}))
	d.Emit(mustEvent(t, pubsub.EventBattleStarted, "alice", pubsub.BattlePayload{StreamerA: "alice", StreamerB: "bob"}))
	d.Emit(mustEvent(t, pubsub.EventBattleEnded, "alice", pubsub.BattlePayload{StreamerA: "alice", StreamerB: "bob"}))
	d.Emit(mustEvent(t, pubsub.EventStreamEnded, "alice", pubsub.StreamEndedPayload{StreamerID: "alice"}))
	d.Close()

	if _, ok := index.live["alice"]; ok {
		t.Error("stream still indexed after end")
	}
	if index.opponent["alice"] != "" || index.opponent["bob"] != "" {
		t.Errorf("opponents not cleared: %+v", index.opponent)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{block: make(chan struct{})}
	m := metrics.NewMetrics()
	d := NewDispatcher(pub, nil, m, 1)

	// Without a running worker the single slot fills immediately.
	d.Emit(mustEvent(t, pubsub.EventViewerCount, "alice", pubsub.ViewerCountPayload{Count: 1}))
	d.Emit(mustEvent(t, pubsub.EventViewerCount, "alice", pubsub.ViewerCountPayload{Count: 2}))
	d.Emit(mustEvent(t, pubsub.EventViewerCount, "alice", pubsub.ViewerCountPayload{Count: 3}))

	if got := m.LifecycleDroppedCount(); got != 2 {
		t.Errorf("expected 2 dropped events, got %v", got)
	}

	close(pub.block)
	go d.Run(context.Background())
	d.Close()

	if got := len(pub.types()); got != 1 {
		t.Errorf("expected 1 delivered event, got %d", got)
	}
}

func TestDispatcherPublishErrorDoesNotStop(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	d := NewDispatcher(pub, nil, nil, 4)
	go d.Run(context.Background())

	d.Emit(mustEvent(t, pubsub.EventStreamEnded, "alice", pubsub.StreamEndedPayload{}))
	d.Emit(mustEvent(t, pubsub.EventStreamEnded, "bob", pubsub.StreamEndedPayload{}))
	d.Close()

	if got := len(pub.types()); got != 2 {
		t.Errorf("expected both events attempted, got %d", got)
	}

	// Emit after Close is ignored rather than panicking.
	d.Emit(mustEvent(t, pubsub.EventStreamEnded, "carol", pubsub.StreamEndedPayload{}))
}

func TestDispatcherRefreshesIndex(t *testing.T) {
	index := newFakeIndex()
	d := NewDispatcher(nil, index, nil, 4)

	var mu sync.Mutex
	viewers := 1
	d.RefreshFrom(func() []domain.StreamSummary {
		mu.Lock()
		defer mu.Unlock()
		return []domain.StreamSummary{{StreamerID: "alice", ViewerCount: viewers}}
	}, 10*time.Millisecond)
	go d.Run(context.Background())

	// Simulate the key expiring while the stream is still live.
	mu.Lock()
	viewers = 7
	mu.Unlock()
	index.mu.Lock()
	delete(index.live, "alice")
	index.mu.Unlock()

	// One in-flight refresh may still carry the old snapshot.
	want := index.refreshCount() + 2
	deadline := time.Now().Add(2 * time.Second)
	for index.refreshCount() < want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	d.Close()

	if got := index.refreshCount(); got < want {
		t.Fatalf("expected at least %d refreshes, got %d", want, got)
	}
	index.mu.Lock()
	defer index.mu.Unlock()
	if s, ok := index.live["alice"]; !ok || s.ViewerCount != 7 {
		t.Errorf("expected refreshed summary, got %+v (present %v)", s, ok)
	}
}

func TestDispatcherRefreshSkipsEmptySnapshot(t *testing.T) {
	index := newFakeIndex()
	d := NewDispatcher(nil, index, nil, 4)
	d.RefreshFrom(func() []domain.StreamSummary { return nil }, 5*time.Millisecond)
	go d.Run(context.Background())

	time.Sleep(50 * time.Millisecond)
	d.Close()

	if got := index.refreshCount(); got != 0 {
		t.Errorf("expected no refresh without streams, got %d", got)
	}
}

func TestDispatcherWithoutIndexIgnoresRefresh(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, 4)
	d.RefreshFrom(func() []domain.StreamSummary {
		t.Error("snapshot taken without an index")
		return nil
	}, 5*time.Millisecond)
	go d.Run(context.Background())

	time.Sleep(30 * time.Millisecond)
	d.Close()
}
