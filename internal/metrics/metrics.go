// Package metrics exposes the matchmaker's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config selects where metrics are registered and how they are named.
type Config struct {
	Namespace   string
	ConstLabels prometheus.Labels
	Registry    prometheus.Registerer
}

// DefaultConfig registers on the default Prometheus registry.
func DefaultConfig() Config {
	return Config{
		Namespace: "matchmaker",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector holds every matchmaker metric. All methods are safe on a nil
// receiver so components can run uninstrumented in tests.
type Collector struct {
	packetsReceived  *prometheus.CounterVec
	packetsDropped   *prometheus.CounterVec
	handlerErrors    *prometheus.CounterVec
	notifiesSent     prometheus.Counter
	notifyFailures   prometheus.Counter
	connectsArranged prometheus.Counter
	connectsDropped  *prometheus.CounterVec
	serversExpired   prometheus.Counter
	serversTracked   prometheus.Gauge
}

// New creates and registers the collector's metrics.
func New(cfg Config) *Collector {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(cfg.Registry)

	return &Collector{
		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "packets_received_total",
			Help:        "Datagrams dispatched to handlers, by packet type",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),

		packetsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "packets_dropped_total",
			Help:        "Datagrams dropped before dispatch, by reason",
			ConstLabels: cfg.ConstLabels,
		}, []string{"reason"}),

		handlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "handler_errors_total",
			Help:        "Handler invocations that returned an error, by packet type",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),

		notifiesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "notifies_sent_total",
			Help:        "ArrangedConnectNotify packets handed to the transport",
			ConstLabels: cfg.ConstLabels,
		}),

		notifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "notify_failures_total",
			Help:        "ArrangedConnectNotify packets that could not be built or sent",
			ConstLabels: cfg.ConstLabels,
		}),

		connectsArranged: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "connects_arranged_total",
			Help:        "Arranged connect requests answered",
			ConstLabels: cfg.ConstLabels,
		}),

		connectsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "connects_dropped_total",
			Help:        "Arranged connect requests silently dropped, by reason",
			ConstLabels: cfg.ConstLabels,
		}, []string{"reason"}),

		serversExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "servers_expired_total",
			Help:        "Server records removed by the expiry sweep",
			ConstLabels: cfg.ConstLabels,
		}),

		serversTracked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "servers_tracked",
			Help:        "Server records currently in the address store",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

func (c *Collector) PacketReceived(packetType string) {
	if c == nil {
		return
	}
	c.packetsReceived.WithLabelValues(packetType).Inc()
}

func (c *Collector) PacketDropped(reason string) {
	if c == nil {
		return
	}
	c.packetsDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) HandlerError(packetType string) {
	if c == nil {
		return
	}
	c.handlerErrors.WithLabelValues(packetType).Inc()
}

func (c *Collector) NotifySent() {
	if c == nil {
		return
	}
	c.notifiesSent.Inc()
}

func (c *Collector) NotifyFailed() {
	if c == nil {
		return
	}
	c.notifyFailures.Inc()
}

func (c *Collector) ConnectArranged() {
	if c == nil {
		return
	}
	c.connectsArranged.Inc()
}

func (c *Collector) ConnectDropped(reason string) {
	if c == nil {
		return
	}
	c.connectsDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) ServersExpired(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.serversExpired.Add(float64(n))
}

func (c *Collector) SetServersTracked(n int) {
	if c == nil {
		return
	}
	c.serversTracked.Set(float64(n))
}
