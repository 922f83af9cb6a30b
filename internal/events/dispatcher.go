// Package events moves lifecycle events off the signaling path. Events are
// queued without blocking and delivered by a single worker to the publisher
// and, when configured, the live index.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/live-service/internal/domain"
	"github.com/weiawesome/wes-io-live/live-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/live-service/internal/pubsub"
	"github.com/weiawesome/wes-io-live/live-service/internal/store"
	pkglog "github.com/weiawesome/wes-io-live/live-service/pkg/log"
)

const deliverTimeout = 5 * time.Second

// Dispatcher queues events and hands them to sinks on its own goroutine.
type Dispatcher struct {
	queue     chan *pubsub.Event
	publisher pubsub.Publisher
	index     store.LiveIndex
	metrics   *metrics.Metrics

	// snapshot and refreshEvery drive the periodic index refresh.
	snapshot     func() []domain.StreamSummary
	refreshEvery time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a dispatcher. index may be nil.
func NewDispatcher(publisher pubsub.Publisher, index store.LiveIndex, m *metrics.Metrics, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	if publisher == nil {
		publisher = pubsub.NopPublisher{}
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Dispatcher{
		queue:     make(chan *pubsub.Event, buffer),
		publisher: publisher,
		index:     index,
		metrics:   m,
		done:      make(chan struct{}),
	}
}

// Emit queues event. It never blocks; a full queue drops the event.
func (d *Dispatcher) Emit(event *pubsub.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}
	select {
	case d.queue <- event:
		d.metrics.IncLifecycle(event.Type)
	default:
		d.metrics.IncLifecycleDropped()
		l := pkglog.L()
		l.Warn().
			Str(pkglog.FieldEvent, event.Type).
			Str(pkglog.FieldStreamerID, event.StreamID).
			Msg("lifecycle queue full, event dropped")
	}
}

// RefreshFrom makes Run rewrite the index from snapshot every interval, so
// streams that outlive the index TTL stay listed. Call it before Run.
func (d *Dispatcher) RefreshFrom(snapshot func() []domain.StreamSummary, every time.Duration) {
	d.snapshot = snapshot
	d.refreshEvery = every
}

// Run delivers queued events until Close is called and the queue drained.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	var tick <-chan time.Time
	if d.index != nil && d.snapshot != nil && d.refreshEvery > 0 {
		ticker := time.NewTicker(d.refreshEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	base := context.WithoutCancel(ctx)
	for {
		select {
		case event, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(base, event)
		case <-tick:
			d.refresh(base)
		}
	}
}

// Close stops accepting events and waits for Run to drain the queue.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
}

func (d *Dispatcher) deliver(base context.Context, event *pubsub.Event) {
	ctx, cancel := context.WithTimeout(base, deliverTimeout)
	defer cancel()

	l := pkglog.L()
	if err := d.publisher.Publish(ctx, event); err != nil {
		l.Error().Err(err).
			Str(pkglog.FieldEvent, event.Type).
			Str(pkglog.FieldStreamerID, event.StreamID).
			Msg("failed to publish lifecycle event")
	}

	if d.index == nil {
		return
	}
	if err := applyToIndex(ctx, d.index, event); err != nil {
		l.Error().Err(err).
			Str(pkglog.FieldEvent, event.Type).
			Str(pkglog.FieldStreamerID, event.StreamID).
			Msg("failed to update live index")
	}
}

// refresh runs on the worker so it is ordered with queued index updates.
func (d *Dispatcher) refresh(base context.Context) {
	streams := d.snapshot()
	if len(streams) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(base, deliverTimeout)
	defer cancel()

	if err := d.index.Refresh(ctx, streams); err != nil {
		l := pkglog.L()
		l.Error().Err(err).Int("streams", len(streams)).Msg("failed to refresh live index")
	}
}

func applyToIndex(ctx context.Context, index store.LiveIndex, event *pubsub.Event) error {
	switch event.Type {
	case pubsub.EventStreamStarted:
		var p pubsub.StreamStartedPayload
		if err := event.UnmarshalPayload(&p); err != nil {
			return err
		}
		return index.SetLive(ctx, domain.StreamSummary{
			StreamerID:   p.StreamerID,
			StreamerName: p.StreamerName,
			StartedAt:    time.UnixMilli(p.StartedAt).UTC(),
		})

	case pubsub.EventStreamEnded:
		return index.SetOffline(ctx, event.StreamID)

	case pubsub.EventViewerCount:
		var p pubsub.ViewerCountPayload
		if err := event.UnmarshalPayload(&p); err != nil {
			return err
		}
		return index.SetViewerCount(ctx, event.StreamID, p.Count)

	case pubsub.EventBattleStarted, pubsub.EventBattleEnded:
		var p pubsub.BattlePayload
		if err := event.UnmarshalPayload(&p); err != nil {
			return err
		}
		oppA, oppB := p.StreamerB, p.StreamerA
		if event.Type == pubsub.EventBattleEnded {
			oppA, oppB = "", ""
		}
		if err := index.SetOpponent(ctx, p.StreamerA, oppA); err != nil {
			return err
		}
		return index.SetOpponent(ctx, p.StreamerB, oppB)
	}
	return nil
}
