/*
Package metrics provides metrics collection and monitoring for a blit
daemon.

# Overview

The metrics package implements Prometheus-based metrics collection for
transfer verbs, copy workers, and the transport layer's circuit
breakers. It exposes both real-time Prometheus metrics and a small
internal debug view for operators without a Prometheus stack.

	┌─────────────┐
	│  Collector  │  ← Main metrics aggregator
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	│ - Counters   │         │  /debug/metrics │
	│ - Histograms │         │  /debug/operations│
	│ - Gauges     │         └─────────────────┘
	└──────────────┘

# Core Components

Collector aggregates and exports metrics:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      8080,
		Path:      "/metrics",
		Namespace: "blit",
	})
	if err != nil {
		log.Fatal(err)
	}
	collector.Start(ctx)
	defer collector.Stop(ctx)

	collector.RecordTransfer("copy", elapsed, bytesWritten, err == nil)
	collector.RecordZeroCopy("copy", clonedBytes)
	collector.UpdateActiveWorkers(tuning.WorkerCount)
	collector.UpdateCircuitState(destAddr, float64(breaker.GetState()))

# Metrics Exposed

  - blit_transfers_total{verb,status} — counter
  - blit_transfer_duration_seconds{verb} — histogram
  - blit_transfer_bytes_total{verb} — counter
  - blit_zero_copy_bytes_total{verb} — counter
  - blit_checksum_mismatches_total — counter
  - blit_active_workers — gauge
  - blit_active_streams — gauge
  - blit_circuit_state{destination} — gauge (0=closed, 1=open, 2=half-open)
  - blit_errors_total{verb,type} — counter

This package provides the observability surface for a blit daemon running
as a long-lived transfer process or as a mirror/sync scheduled job.
*/
package metrics
