/*
Package config provides layered configuration management for the blit
daemon and CLI.

This package implements a hierarchical configuration system that supports
YAML files, environment variables, and validation for every subsystem a
transfer touches: the auto-tuner's bounds, the buffer pool's byte budget,
the change journal, the performance history/predictor, and the transport
layer's timeouts, retry policy, and circuit breaker.

# Configuration Architecture

Multi-source configuration hierarchy with precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│              (BLIT_*)                       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (Compiled-in defaults)              │
	└─────────────────────────────────────────────┘

# Configuration Structure

Global Settings:
- Logging level and destination
- Service ports (metrics, health, profiling)

Performance Settings:
- Auto-tuner worker/stream count bounds
- Default chunk size and TCP buffer size
- Manual worker override for diagnosing a tuning regression

Buffer Settings:
- Shared buffer pool byte budget
- Bucket sizes for the pool's size classes

Journal Settings:
- Whether the change journal is used for skip-unchanged comparisons
- Journal state directory and full-scan fallback policy

History Settings:
- Performance history file and record retention
- Predictor state path

Network Configuration:
- Connect/read/write timeouts
- Retry policy (attempts, backoff)
- Circuit breaker thresholds per destination daemon

Security Configuration:
- TLS verification and minimum version
- In-transit encryption toggle

Monitoring Configuration:
- Metrics collection and Prometheus export
- Health check interval/timeout
- Structured logging format and sampling

Feature Flags:
- Checksum-by-default, delete-on-mirror, resume, small-file batching,
  clone/reflink fast path, gRPC fallback

# Usage Examples

Loading configuration:

	cfg := config.NewDefault()

	if err := cfg.LoadFromFile("/etc/blit/config.yaml"); err != nil {
		log.Fatal(err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Configuration file format:

	global:
	  log_level: INFO
	  metrics_port: 8080
	  health_port: 8081

	performance:
	  auto_tune: true
	  worker_count_min: 2
	  worker_count_max: 64
	  chunk_bytes_default: "4MB"

	buffer:
	  budget_bytes: "512MB"
	  bucket_sizes: [32768, 262144, 4194304]

	journal:
	  enabled: true
	  state_dir: "/var/lib/blit/journal"

Environment variable mapping:

	BLIT_LOG_LEVEL="DEBUG"
	BLIT_METRICS_PORT="9090"
	BLIT_WORKER_COUNT_MAX="128"
	BLIT_WORKER_OVERRIDE="8"
	BLIT_AUTO_TUNE="false"
	BLIT_BUFFER_BUDGET_BYTES="1GB"
	BLIT_CHECKSUM_BY_DEFAULT="true"
	BLIT_DELETE_ON_MIRROR="false"
	BLIT_RESUME="true"

# Validation

Validate checks internal consistency rather than re-deriving values the
auto-tuner or operator is responsible for:

  - worker_count_max must be positive; worker_count_min must fall within
    (0, worker_count_max]
  - stream_count_max must be positive
  - worker_override must be >= 0 (0 disables the override)
  - metrics_port and health_port must differ
  - log_level must be one of TRACE, DEBUG, INFO, WARN, ERROR, FATAL

# Default Configuration

	Global: {
		LogLevel:    "INFO",
		MetricsPort: 8080,
		HealthPort:  8081,
	},
	Performance: {
		AutoTune:       true,
		WorkerCountMax: 64,
		WorkerOverride: 0,
	},
	Buffer: {
		BudgetBytes: "512MB",
	},
	Journal: {
		Enabled:  true,
		StateDir: "/var/lib/blit/journal",
	}

# Security Considerations

Credential Management:
  - Config files are written with 0600 permissions via SaveToFile
  - TLS verification is on by default (Security.TLS.VerifyCertificates)

Path Validation:
  - Directory traversal prevention is handled by pkg/utils, not this
    package — config only stores the journal/history paths, it does not
    validate transfer-entry paths.

This package provides the foundation for configuring a blit daemon across
development, single-host, and distributed deployments.
*/
package config
