package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/weiawesome/wes-io-live/live-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/live-service/internal/pubsub"
)

// fakeSender records outbound messages per connection as decoded JSON.
type fakeSender struct {
	mu        sync.Mutex
	connected map[string]bool
	inbox     map[string][]map[string]interface{}
}

func newFakeSender(conns ...string) *fakeSender {
	f := &fakeSender{
		connected: make(map[string]bool),
		inbox:     make(map[string][]map[string]interface{}),
	}
	for _, c := range conns {
		f.connected[c] = true
	}
	return f
}

func (f *fakeSender) SendToClient(clientID string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected[clientID] {
		return fmt.Errorf("client %s not found", clientID)
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.inbox[clientID] = append(f.inbox[clientID], m)
	return nil
}

func (f *fakeSender) disconnect(conn string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.connected, conn)
}

// take returns and clears the messages of type eventType sent to conn.
func (f *fakeSender) take(conn, eventType string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched, rest []map[string]interface{}
	for _, m := range f.inbox[conn] {
		if m["type"] == eventType {
			matched = append(matched, m)
		} else {
			rest = append(rest, m)
		}
	}
	f.inbox[conn] = rest
	return matched
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = make(map[string][]map[string]interface{})
}

// lastOf returns the last message of eventType sent to conn, failing the
// test when there is none.
func (f *fakeSender) lastOf(t *testing.T, conn, eventType string) map[string]interface{} {
	t.Helper()
	msgs := f.take(conn, eventType)
	if len(msgs) == 0 {
		t.Fatalf("%s received no %s", conn, eventType)
	}
	return msgs[len(msgs)-1]
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []*pubsub.Event
}

func (r *recordingEmitter) Emit(event *pubsub.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	svc     LiveService
	sender  *fakeSender
	emitter *recordingEmitter
	metrics *metrics.Metrics
}

func newFixture(opts Options, conns ...string) *fixture {
	sender := newFakeSender(conns...)
	emitter := &recordingEmitter{}
	m := metrics.NewMetrics()

	opts.Metrics = m
	opts.Emitter = emitter
	if opts.Now == nil {
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		opts.Now = func() time.Time { return now }
	}
	return &fixture{
		svc:     NewLiveService(sender, opts),
		sender:  sender,
		emitter: emitter,
		metrics: m,
	}
}

func num(v interface{}) int64 {
	f, _ := v.(float64)
	return int64(f)
}
