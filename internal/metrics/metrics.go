// Package metrics exposes the proxy's domain observability surface
// (SPEC_FULL.md §3): PubSub queue depth/drop counters, per-relay
// datagram counters, TelnetProxy session counters and Analyser
// frame-discard counters, bridged through a go-metrics registry to
// Prometheus. Grounded on the teacher's metrics.go
// (startPrometheusMetricsService) and shared/metric.go.
package metrics

import (
	"context"
	"net/http"
	"time"

	promMetrics "github.com/CrowdStrike/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/hargassner/hproxy/internal/bus"
)

// Collector holds every counter/gauge this proxy exposes, registered
// against a private go-metrics registry (mirrors the teacher's use of
// a single process-wide registry, kept private here since each
// Collector is process-lifetime, not per-session).
type Collector struct {
	registry metrics.Registry

	sessionsEnded   metrics.Counter
	framesObserved  metrics.Counter
	relayDatagrams  map[string]metrics.Counter
	frameDiscards   metrics.Counter
	busQueueDepth   map[string]metrics.GaugeFloat64
	busQueueDropped map[string]metrics.GaugeFloat64
	queues          []watchedQueue
}

// relayDirections is the fixed label set for per-relay datagram
// counters (spec.md §4.3: two relays, each forwarding in both
// directions).
var relayDirections = []string{
	"gateway_inbound", "gateway_outbound",
	"boiler_inbound", "boiler_outbound",
}

// New builds a Collector with every counter pre-registered (so
// /metrics always lists them, even before the first event).
func New() *Collector {
	c := &Collector{
		registry:        metrics.NewRegistry(),
		sessionsEnded:   metrics.NewCounter(),
		framesObserved:  metrics.NewCounter(),
		frameDiscards:   metrics.NewCounter(),
		relayDatagrams:  make(map[string]metrics.Counter, len(relayDirections)),
		busQueueDepth:   make(map[string]metrics.GaugeFloat64),
		busQueueDropped: make(map[string]metrics.GaugeFloat64),
	}

	c.registry.Register("sessions_ended", c.sessionsEnded)
	c.registry.Register("response_frames", c.framesObserved)
	c.registry.Register("analyser_frame_discards", c.frameDiscards)

	for _, dir := range relayDirections {
		counter := metrics.NewCounter()
		c.relayDatagrams[dir] = counter
		c.registry.Register("relay_datagrams_"+dir, counter)
	}

	return c
}

// IncRelayDatagram counts one forwarded UDP datagram for the named
// direction (one of relayDirections); unknown directions are ignored
// rather than panicking, since this is called from hot loops.
func (c *Collector) IncRelayDatagram(direction string) {
	if counter, ok := c.relayDatagrams[direction]; ok {
		counter.Inc(1)
	}
}

// IncFrameDiscard counts one streaming-telemetry frame dropped by the
// Analyser's scan-period rate gate (spec.md §4.5, §8 scenario 5).
func (c *Collector) IncFrameDiscard() {
	c.frameDiscards.Inc(1)
}

// WatchQueue registers a gauge pair tracking q's depth and drop count
// under name, polled by Run. Intended for the handful of
// orchestrator-owned subscriptions worth exposing (bootstrap, system,
// track), not every transient subscriber.
func (c *Collector) WatchQueue(name string, q *bus.Queue) {
	depth := metrics.NewGaugeFloat64()
	dropped := metrics.NewGaugeFloat64()
	c.busQueueDepth[name] = depth
	c.busQueueDropped[name] = dropped
	c.registry.Register("bus_queue_depth_"+name, depth)
	c.registry.Register("bus_queue_dropped_"+name, dropped)
	c.queues = append(c.queues, watchedQueue{name: name, q: q})
}

type watchedQueue struct {
	name string
	q    *bus.Queue
}

// Run subscribes to the system and track channels itself (the
// "metrics consumer of the bus" from SPEC_FULL.md §3) purely to count
// events — it never inspects payload content, preserving the
// no-payload-modification non-goal — and polls every watched queue's
// depth/drop counters once per tick. It returns only when ctx is
// cancelled; closing b does not end the loop.
func (c *Collector) Run(ctx context.Context, b *bus.Bus, tick time.Duration) {
	systemQ := b.Subscribe(bus.ChannelSystem, "metrics")
	trackQ := b.Subscribe(bus.ChannelTrack, "metrics")
	defer b.Unsubscribe(bus.ChannelSystem, systemQ)
	defer b.Unsubscribe(bus.ChannelTrack, trackQ)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, ok := systemQ.Listen(tick / 4); ok {
			c.sessionsEnded.Inc(1)
		}
		if _, ok := trackQ.Listen(tick / 4); ok {
			c.framesObserved.Inc(1)
		}
		for _, wq := range c.queues {
			c.busQueueDepth[wq.name].Update(float64(wq.q.Depth()))
			c.busQueueDropped[wq.name].Update(float64(wq.q.Dropped()))
		}
	}
}

// Server wraps the Prometheus HTTP endpoint lifecycle, matching the
// teacher's startPrometheusMetricsService/stop-function pairing.
type Server struct {
	httpServer *http.Server
	quit       chan struct{}
}

// Start bridges c's go-metrics registry to a Prometheus registry via
// the CrowdStrike adapter and serves it at address+"/metrics".
func (c *Collector) Start(address string, log *logrus.Entry) *Server {
	promRegistry := prometheus.NewRegistry()
	flushInterval := 3 * time.Second
	provider := promMetrics.NewPrometheusProvider(c.registry, "hproxy", "", promRegistry, flushInterval)

	s := &Server{
		httpServer: &http.Server{Addr: address},
		quit:       make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := provider.UpdatePrometheusMetricsOnce(); err != nil {
					log.WithError(err).Warn("metrics: prometheus bridge update failed")
				}
			case <-s.quit:
				return
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{
		ErrorLog:      log,
		ErrorHandling: promhttp.ContinueOnError,
	}))
	s.httpServer.Handler = mux

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics: http server failed")
		}
	}()

	log.WithField("address", address).Info("metrics: started prometheus endpoint")
	return s
}

// Stop shuts down the HTTP server and the background flush goroutine.
func (s *Server) Stop() {
	close(s.quit)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)
}
