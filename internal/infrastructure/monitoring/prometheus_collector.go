package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"huddlenet/internal/core/domain"
)

// PrometheusCollector implements ports.MetricsSink on promauto-registered
// collectors. Live-object counts are plain gauges; the labeled breakdowns
// (direction, kind, role, relay type) live on monotonic counters since close
// events do not carry labels.
type PrometheusCollector struct {
	roomsActive      prometheus.Gauge
	peersConnected   prometheus.Gauge
	transportsActive prometheus.Gauge
	producersActive  prometheus.Gauge
	consumersActive  prometheus.Gauge

	transportsCreatedTotal *prometheus.CounterVec
	producersCreatedTotal  *prometheus.CounterVec
	relayMessagesTotal     *prometheus.CounterVec
	relayBytesTotal        *prometheus.CounterVec

	engineCallDuration *prometheus.HistogramVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "huddlenet_rooms_active",
			Help: "Number of live rooms",
		}),

		peersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "huddlenet_peers_connected",
			Help: "Number of joined peers across all rooms",
		}),

		transportsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "huddlenet_transports_active",
			Help: "Number of live WebRTC transports",
		}),

		producersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "huddlenet_producers_active",
			Help: "Number of live producers",
		}),

		consumersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "huddlenet_consumers_active",
			Help: "Number of live consumers",
		}),

		transportsCreatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "huddlenet_transports_created_total",
			Help: "Transports created, by direction",
		}, []string{"direction"}),

		producersCreatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "huddlenet_producers_created_total",
			Help: "Producers created, by media kind and role tag",
		}, []string{"kind", "role"}),

		relayMessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "huddlenet_relay_messages_total",
			Help: "Relay payloads fanned out, by payload msgType",
		}, []string{"msg_type"}),

		relayBytesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "huddlenet_relay_bytes_total",
			Help: "Relay payload bytes fanned out, by payload msgType",
		}, []string{"msg_type"}),

		engineCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "huddlenet_engine_call_duration_seconds",
			Help:    "Latency of media engine calls",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"operation"}),
	}
}

func (p *PrometheusCollector) RoomOpened() { p.roomsActive.Inc() }
func (p *PrometheusCollector) RoomClosed() { p.roomsActive.Dec() }

func (p *PrometheusCollector) PeerJoined(domain.RoomID) { p.peersConnected.Inc() }
func (p *PrometheusCollector) PeerLeft(domain.RoomID)   { p.peersConnected.Dec() }

func (p *PrometheusCollector) TransportCreated(direction domain.TransportDirection) {
	p.transportsActive.Inc()
	p.transportsCreatedTotal.WithLabelValues(string(direction)).Inc()
}

func (p *PrometheusCollector) TransportClosed() { p.transportsActive.Dec() }

func (p *PrometheusCollector) ProducerCreated(kind domain.MediaKind, role domain.StreamRole) {
	p.producersActive.Inc()
	p.producersCreatedTotal.WithLabelValues(string(kind), string(role)).Inc()
}

func (p *PrometheusCollector) ProducerClosed() { p.producersActive.Dec() }

func (p *PrometheusCollector) ConsumerCreated() { p.consumersActive.Inc() }
func (p *PrometheusCollector) ConsumerClosed() { p.consumersActive.Dec() }

func (p *PrometheusCollector) RelayMessage(msgType string, bytes int) {
	p.relayMessagesTotal.WithLabelValues(msgType).Inc()
	p.relayBytesTotal.WithLabelValues(msgType).Add(float64(bytes))
}

func (p *PrometheusCollector) EngineCall(operation string, seconds float64) {
	p.engineCallDuration.WithLabelValues(operation).Observe(seconds)
}
