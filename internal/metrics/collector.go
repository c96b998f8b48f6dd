// Package metrics exposes Prometheus counters and gauges for the copy
// engine, transport layer, and auto-tuner, and serves them over HTTP
// alongside a small debug/operations dashboard.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements comprehensive metrics collection for transfer
// verbs (copy/mirror/move), copy workers, and the transport layer.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	verbCounter        *prometheus.CounterVec
	verbDuration       *prometheus.HistogramVec
	bytesCounter       *prometheus.CounterVec
	zeroCopyBytes      *prometheus.CounterVec
	checksumMismatches prometheus.Counter
	activeWorkers      prometheus.Gauge
	activeStreams      prometheus.Gauge
	circuitStateGauge  *prometheus.GaugeVec
	errorCounter       *prometheus.CounterVec

	// Internal tracking
	verbs     map[string]*OperationMetrics
	lastReset time.Time

	// HTTP server for metrics endpoint
	server *http.Server
}

// Config represents metrics configuration.
type Config struct {
	Enabled        bool              `yaml:"enabled"`
	Port           int               `yaml:"port"`
	Path           string            `yaml:"path"`
	Labels         map[string]string `yaml:"labels"`
	Namespace      string            `yaml:"namespace"`
	Subsystem      string            `yaml:"subsystem"`
	UpdateInterval time.Duration     `yaml:"update_interval"`
}

// OperationMetrics tracks aggregate metrics for a transfer verb.
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalBytes    int64         `json:"total_bytes"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgBytes      float64       `json:"avg_bytes"`
}

// NewCollector creates a new metrics collector.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:        true,
			Port:           8080,
			Path:           "/metrics",
			Namespace:      "blit",
			Subsystem:      "",
			UpdateInterval: 30 * time.Second,
			Labels:         make(map[string]string),
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()

	collector := &Collector{
		config:    config,
		registry:  registry,
		verbs:     make(map[string]*OperationMetrics),
		lastReset: time.Now(),
	}

	if err := collector.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Start starts the metrics collection server.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/metrics", c.debugMetricsHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	go c.updateLoop(ctx)

	return nil
}

// Stop stops the metrics collection server.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordTransfer records a completed entry transfer for a verb
// (copy/mirror/move).
func (c *Collector) RecordTransfer(verb string, duration time.Duration, bytes int64, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if metrics, exists := c.verbs[verb]; exists {
		metrics.Count++
		metrics.TotalDuration += duration
		metrics.TotalBytes += bytes
		if !success {
			metrics.Errors++
		}
		metrics.LastOperation = time.Now()
		metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
		metrics.AvgBytes = float64(metrics.TotalBytes) / float64(metrics.Count)
	} else {
		errs := int64(0)
		if !success {
			errs = 1
		}
		c.verbs[verb] = &OperationMetrics{
			Count:         1,
			TotalDuration: duration,
			TotalBytes:    bytes,
			Errors:        errs,
			LastOperation: time.Now(),
			AvgDuration:   duration,
			AvgBytes:      float64(bytes),
		}
	}

	status := "success"
	if !success {
		status = "error"
	}
	c.verbCounter.With(prometheus.Labels{"verb": verb, "status": status}).Inc()
	c.verbDuration.With(prometheus.Labels{"verb": verb}).Observe(duration.Seconds())
	if bytes > 0 {
		c.bytesCounter.With(prometheus.Labels{"verb": verb}).Add(float64(bytes))
	}
	if !success {
		c.errorCounter.With(prometheus.Labels{"verb": verb, "type": "failure"}).Inc()
	}
}

// RecordZeroCopy records bytes moved via a kernel-assisted zero-copy
// path (reflink/clone, copy_file_range) rather than a buffered read/write.
func (c *Collector) RecordZeroCopy(verb string, bytes int64) {
	if !c.config.Enabled {
		return
	}
	c.zeroCopyBytes.With(prometheus.Labels{"verb": verb}).Add(float64(bytes))
}

// RecordChecksumMismatch records a destination entry whose checksum
// differed from the source despite matching size/mtime.
func (c *Collector) RecordChecksumMismatch() {
	if !c.config.Enabled {
		return
	}
	c.checksumMismatches.Inc()
}

// RecordError records an error outside the scope of a single transfer
// (e.g. enumeration or journal failures).
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled {
		return
	}

	c.errorCounter.With(prometheus.Labels{
		"verb": operation,
		"type": c.classifyError(err),
	}).Inc()
}

// UpdateActiveWorkers updates the copy-worker gauge.
func (c *Collector) UpdateActiveWorkers(count int) {
	if !c.config.Enabled {
		return
	}
	c.activeWorkers.Set(float64(count))
}

// UpdateActiveStreams updates the data-plane stream gauge.
func (c *Collector) UpdateActiveStreams(count int) {
	if !c.config.Enabled {
		return
	}
	c.activeStreams.Set(float64(count))
}

// UpdateCircuitState reports a destination daemon's circuit breaker
// state as a gauge (0=closed, 1=open, 2=half-open, the circuit.State
// values) so it can be alerted on.
func (c *Collector) UpdateCircuitState(destination string, state float64) {
	if !c.config.Enabled {
		return
	}
	c.circuitStateGauge.With(prometheus.Labels{"destination": destination}).Set(state)
}

// GetMetrics returns current in-process metrics (independent of the
// Prometheus registry, for the debug endpoints and tests).
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	verbs := make(map[string]*OperationMetrics, len(c.verbs))
	for k, v := range c.verbs {
		cp := *v
		verbs[k] = &cp
	}

	return map[string]interface{}{
		"verbs":      verbs,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset),
	}
}

// ResetMetrics resets in-process metrics.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.verbs = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() error {
	c.verbCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "transfers_total",
			Help:      "Total number of entry transfers by verb and status",
		},
		[]string{"verb", "status"},
	)

	c.verbDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "transfer_duration_seconds",
			Help:      "Duration of entry transfers in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"verb"},
	)

	c.bytesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "transfer_bytes_total",
			Help:      "Total bytes moved by verb",
		},
		[]string{"verb"},
	)

	c.zeroCopyBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "zero_copy_bytes_total",
			Help:      "Total bytes moved via a kernel-assisted zero-copy path",
		},
		[]string{"verb"},
	)

	c.checksumMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "checksum_mismatches_total",
			Help:      "Total destination entries whose checksum differed from the source",
		},
	)

	c.activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "active_workers",
			Help:      "Number of active copy workers",
		},
	)

	c.activeStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "active_streams",
			Help:      "Number of active data-plane streams",
		},
	)

	c.circuitStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "circuit_state",
			Help:      "Circuit breaker state per destination daemon (0=closed, 1=open, 2=half-open)",
		},
		[]string{"destination"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"verb", "type"},
	)

	return nil
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.verbCounter,
		c.verbDuration,
		c.bytesCounter,
		c.zeroCopyBytes,
		c.checksumMismatches,
		c.activeWorkers,
		c.activeStreams,
		c.circuitStateGauge,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func (c *Collector) classifyError(err error) string {
	errStr := err.Error()
	switch {
	case contains(errStr, "timeout"):
		return "timeout"
	case contains(errStr, "connection"):
		return "connection"
	case contains(errStr, "not found"):
		return "not_found"
	case contains(errStr, "permission"):
		return "permission"
	case contains(errStr, "circuit"):
		return "circuit_open"
	default:
		return "other"
	}
}

func (c *Collector) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Periodic metrics (worker/stream gauges, circuit state) are
			// pushed by their owners via Update*; nothing to poll here.
		}
	}
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"blit-metrics"}`))
}

func (c *Collector) debugMetricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics := c.GetMetrics()

	w.Header().Set("Content-Type", "application/json")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("{\n")
	writef("  \"uptime\": \"%v\",\n", metrics["uptime"])
	writef("  \"last_reset\": \"%v\",\n", metrics["last_reset"])
	writef("  \"verbs\": {\n")

	if verbs, ok := metrics["verbs"].(map[string]*OperationMetrics); ok {
		first := true
		for name, op := range verbs {
			if !first {
				writef(",\n")
			}
			writef("    \"%s\": {\n", name)
			writef("      \"count\": %d,\n", op.Count)
			writef("      \"errors\": %d,\n", op.Errors)
			writef("      \"avg_duration\": \"%v\",\n", op.AvgDuration)
			writef("      \"avg_bytes\": %.2f\n", op.AvgBytes)
			writef("    }")
			first = false
		}
	}

	writef("\n  }\n")
	writef("}\n")
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("blit transfer summary\n")
	writef("======================\n\n")
	writef("Uptime: %v\n", time.Since(c.lastReset))
	writef("Last Reset: %v\n\n", c.lastReset)

	if len(c.verbs) == 0 {
		writef("No transfers recorded.\n")
		return
	}

	writef("%-10s %10s %10s %12s %14s %10s\n",
		"Verb", "Count", "Errors", "Avg Duration", "Avg Bytes", "Last")
	writef("%-10s %10s %10s %12s %14s %10s\n",
		"----", "-----", "------", "------------", "---------", "----")

	for name, op := range c.verbs {
		writef("%-10s %10d %10d %12v %14.0f %10s\n",
			name, op.Count, op.Errors, op.AvgDuration,
			op.AvgBytes, op.LastOperation.Format("15:04:05"))
	}
}

// Utility functions

func contains(s, substr string) bool {
	return indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	if len(substr) == 0 {
		return 0
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
