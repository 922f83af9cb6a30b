// Package metrics exposes Prometheus collectors for the live signaling
// server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metric names.
const (
	MetricRooms             = "live_rooms"
	MetricViewers           = "live_viewers"
	MetricBattles           = "live_battles"
	MetricConnections       = "live_connections"
	MetricGifts             = "live_gifts_total"
	MetricGiftCoins         = "live_gift_coins_total"
	MetricRelays            = "live_relays_total"
	MetricDroppedEvents     = "live_dropped_events_total"
	MetricMalformedFrames   = "live_malformed_frames_total"
	MetricEvictions         = "live_slow_client_evictions_total"
	MetricLifecyclePublish  = "live_lifecycle_events_total"
	MetricLifecycleDropped  = "live_lifecycle_events_dropped_total"
	MetricBattleDurationSec = "live_battle_duration_seconds"
)

// Drop reasons used with the dropped events counter.
const (
	ReasonRoomNotFound   = "room_not_found"
	ReasonBattleNotFound = "battle_not_found"
	ReasonConnNotFound   = "connection_not_found"
	ReasonConflict       = "conflict"
	ReasonNotOwner       = "not_owner"
)

// Metrics contains the Prometheus collectors. All operations are thread-safe.
type Metrics struct {
	rooms            prometheus.Gauge
	viewers          prometheus.Gauge
	battles          prometheus.Gauge
	connections      prometheus.Gauge
	gifts            prometheus.Counter
	giftCoins        prometheus.Counter
	relays           *prometheus.CounterVec
	dropped          *prometheus.CounterVec
	malformed        prometheus.Counter
	evictions        prometheus.Counter
	lifecycle        *prometheus.CounterVec
	lifecycleDropped prometheus.Counter
	battleDuration   prometheus.Histogram
}

// NewMetrics creates unregistered collectors; call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricRooms,
			Help: "Number of live rooms",
		}),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricViewers,
			Help: "Number of viewers across all live rooms",
		}),
		battles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricBattles,
			Help: "Number of active PK battles",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricConnections,
			Help: "Number of open WebSocket connections",
		}),
		gifts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricGifts,
			Help: "Total number of gifts fanned out",
		}),
		giftCoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricGiftCoins,
			Help: "Total coins carried by gifts",
		}),
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRelays,
			Help: "Total negotiation payloads relayed, by kind",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricDroppedEvents,
			Help: "Total client events dropped because their target did not exist or conflicted",
		}, []string{"reason"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricMalformedFrames,
			Help: "Total inbound frames rejected as malformed",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEvictions,
			Help: "Total clients disconnected because their send buffer was full",
		}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricLifecyclePublish,
			Help: "Total lifecycle events handed to the publisher, by type",
		}, []string{"type"}),
		lifecycleDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricLifecycleDropped,
			Help: "Total lifecycle events dropped because the dispatcher queue was full",
		}),
		battleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricBattleDurationSec,
			Help:    "Histogram of PK battle durations in seconds",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rooms,
		m.viewers,
		m.battles,
		m.connections,
		m.gifts,
		m.giftCoins,
		m.relays,
		m.dropped,
		m.malformed,
		m.evictions,
		m.lifecycle,
		m.lifecycleDropped,
		m.battleDuration,
	}
}

// SetState records the current directory sizes.
func (m *Metrics) SetState(rooms, viewers, battles int) {
	m.rooms.Set(float64(rooms))
	m.viewers.Set(float64(viewers))
	m.battles.Set(float64(battles))
}

func (m *Metrics) IncConnections() { m.connections.Inc() }
func (m *Metrics) DecConnections() { m.connections.Dec() }

// ObserveGift counts one gift and its coins.
func (m *Metrics) ObserveGift(coins int64) {
	m.gifts.Inc()
	if coins > 0 {
		m.giftCoins.Add(float64(coins))
	}
}

func (m *Metrics) IncRelay(kind string) {
	m.relays.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncMalformed() { m.malformed.Inc() }

func (m *Metrics) IncEvictions() { m.evictions.Inc() }

func (m *Metrics) IncLifecycle(eventType string) {
	m.lifecycle.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncLifecycleDropped() { m.lifecycleDropped.Inc() }

func (m *Metrics) ObserveBattleDuration(seconds float64) {
	m.battleDuration.Observe(seconds)
}

// DroppedCount reads the dropped events counter for reason.
func (m *Metrics) DroppedCount(reason string) float64 {
	return CounterValue(m.dropped.WithLabelValues(reason))
}

// RelayCount reads the relay counter for kind.
func (m *Metrics) RelayCount(kind string) float64 {
	return CounterValue(m.relays.WithLabelValues(kind))
}

// CounterValue reads the current value of a counter.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// LifecycleCount reads the queued lifecycle events counter for eventType.
func (m *Metrics) LifecycleCount(eventType string) float64 {
	return CounterValue(m.lifecycle.WithLabelValues(eventType))
}

func (m *Metrics) LifecycleDroppedCount() float64 {
	return CounterValue(m.lifecycleDropped)
}

func (m *Metrics) MalformedCount() float64 {
	return CounterValue(m.malformed)
}

func (m *Metrics) EvictionCount() float64 {
	return CounterValue(m.evictions)
}
