package metrics

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/peppy/vfs/pkg/errors"
)

// Collector records VFS operations, cache traffic and authentication prompts in its own Prometheus registry.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	cacheCounter      *prometheus.CounterVec
	authPrompts       *prometheus.CounterVec

	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Address   string `yaml:"address"`
	Path      string `yaml:"path"`
}

// NewCollector creates a new metrics collector. A disabled collector accepts
// every Record call and does nothing.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Namespace: "peppy_vfs",
			Address:   ":9090",
			Path:      "/metrics",
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	c := &Collector{config: config}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()

	for _, m := range []prometheus.Collector{c.operationCounter, c.operationDuration, c.cacheCounter, c.authPrompts} {
		if err := c.registry.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) initMetrics() {
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "operations_total",
			Help:      "Total number of VFS operations",
		},
		[]string{"scheme", "operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of VFS operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
		},
		[]string{"scheme", "operation"},
	)

	c.cacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	c.authPrompts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "auth_prompts_total",
			Help:      "Authentication callback invocations",
		},
		[]string{"scheme"},
	)
}

// Registry exposes the collector's registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Start serves the metrics endpoint in the background until Stop.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())

	c.server = &http.Server{
		Addr:              c.config.Address,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("address", c.config.Address).Msg("metrics server stopped")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records a dispatched operation and its outcome.
func (c *Collector) RecordOperation(scheme, operation string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	c.operationCounter.WithLabelValues(scheme, operation, status(err)).Inc()
	c.operationDuration.WithLabelValues(scheme, operation).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit
func (c *Collector) RecordCacheHit(cache string) {
	if !c.config.Enabled {
		return
	}
	c.cacheCounter.WithLabelValues(cache, "hit").Inc()
}

// RecordCacheMiss records a cache miss
func (c *Collector) RecordCacheMiss(cache string) {
	if !c.config.Enabled {
		return
	}
	c.cacheCounter.WithLabelValues(cache, "miss").Inc()
}

// RecordAuthPrompt records one invocation of the authentication callback.
func (c *Collector) RecordAuthPrompt(scheme string) {
	if !c.config.Enabled {
		return
	}
	c.authPrompts.WithLabelValues(scheme).Inc()
}

// status labels an outcome with its error code, so that expected misses
// (not_found) are told apart from transport failures.
func status(err error) string {
	if err == nil {
		return "success"
	}
	if code := errors.CodeOf(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}
