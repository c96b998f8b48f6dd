package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete daemon/CLI configuration.
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	Performance PerformanceConfig `yaml:"performance"`
	Buffer      BufferConfig      `yaml:"buffer"`
	Journal     JournalConfig     `yaml:"journal"`
	History     HistoryConfig     `yaml:"history"`
	Network     NetworkConfig     `yaml:"network"`
	Security    SecurityConfig    `yaml:"security"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Features    FeatureConfig     `yaml:"features"`

	// Modules maps a daemon module name (as named in an endpoint string's
	// "host:/module/subpath" form) to the local filesystem root it
	// serves.
	Modules map[string]string `yaml:"modules"`
}

// GlobalConfig represents global daemon settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	ControlPort int    `yaml:"control_port"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
	ProfilePort int    `yaml:"profile_port"`
}

// PerformanceConfig bounds the auto-tuner's choices and allows a manual
// override for diagnosing tuning decisions.
type PerformanceConfig struct {
	AutoTune          bool   `yaml:"auto_tune"`
	WorkerCountMin    int    `yaml:"worker_count_min"`
	WorkerCountMax    int    `yaml:"worker_count_max"`
	StreamCountMin    int    `yaml:"stream_count_min"`
	StreamCountMax    int    `yaml:"stream_count_max"`
	ChunkBytesDefault string `yaml:"chunk_bytes_default"`
	TCPBufferDefault  string `yaml:"tcp_buffer_default"`
	PrefetchDefault   int    `yaml:"prefetch_default"`
	// WorkerOverride pins WorkerCount regardless of auto-tune output; 0
	// disables the override. Intended for diagnosing a tuning regression.
	WorkerOverride int `yaml:"worker_override"`
}

// BufferConfig controls the shared buffer pool's byte budget and bucket
// sizing.
type BufferConfig struct {
	BudgetBytes string `yaml:"budget_bytes"`
	BucketSizes []int  `yaml:"bucket_sizes"`
}

// JournalConfig controls the change-journal capability used for
// skip-unchanged comparisons.
type JournalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	StateDir  string `yaml:"state_dir"`
	AllowFull bool   `yaml:"allow_full_fallback"`
}

// HistoryConfig controls the performance-history store and predictor.
type HistoryConfig struct {
	Enabled            bool   `yaml:"enabled"`
	FilePath           string `yaml:"file_path"`
	MaxRecords         int    `yaml:"max_records"`
	PredictorStatePath string `yaml:"predictor_state_path"`
}

// NetworkConfig represents transport configuration.
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutConfig represents timeout settings.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
}

// RetryConfig represents retry settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings applied per
// destination daemon connection.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// SecurityConfig represents security settings for the control/data planes.
type SecurityConfig struct {
	TLS        TLSConfig        `yaml:"tls"`
	Encryption EncryptionConfig `yaml:"encryption"`
}

// TLSConfig represents TLS settings for the remote daemon link.
type TLSConfig struct {
	VerifyCertificates bool   `yaml:"verify_certificates"`
	MinVersion         string `yaml:"min_version"`
}

// EncryptionConfig represents encryption settings.
type EncryptionConfig struct {
	InTransit bool `yaml:"in_transit"`
}

// MonitoringConfig represents monitoring settings.
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// MetricsConfig represents metrics settings.
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Prometheus   bool              `yaml:"prometheus"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// HealthChecksConfig represents health check settings.
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Structured bool           `yaml:"structured"`
	Format     string         `yaml:"format"`
	Sampling   SamplingConfig `yaml:"sampling"`
}

// SamplingConfig represents log sampling settings.
type SamplingConfig struct {
	Enabled bool `yaml:"enabled"`
	Rate    int  `yaml:"rate"`
}

// FeatureConfig represents feature flags controlling default verb
// behavior.
type FeatureConfig struct {
	ChecksumByDefault bool `yaml:"checksum_by_default"`
	DeleteOnMirror    bool `yaml:"delete_on_mirror"`
	Resume            bool `yaml:"resume"`
	SmallFileBatching bool `yaml:"small_file_batching"`
	CloneReflink      bool `yaml:"clone_reflink"`
	GRPCFallback      bool `yaml:"grpc_fallback"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
			LogFile:  "",
			// ControlPort matches remote.DefaultPort; kept as a literal
			// here rather than an import to keep this package a leaf.
			ControlPort: 9031,
			MetricsPort: 8080,
			HealthPort:  8081,
			ProfilePort: 6060,
		},
		Modules: map[string]string{},
		Performance: PerformanceConfig{
			AutoTune:          true,
			WorkerCountMin:    2,
			WorkerCountMax:    64,
			StreamCountMin:    1,
			StreamCountMax:    16,
			ChunkBytesDefault: "4MB",
			TCPBufferDefault:  "1MB",
			PrefetchDefault:   4,
			WorkerOverride:    0,
		},
		Buffer: BufferConfig{
			BudgetBytes: "512MB",
			BucketSizes: []int{32 * 1024, 256 * 1024, 4 * 1024 * 1024},
		},
		Journal: JournalConfig{
			Enabled:   true,
			StateDir:  "/var/lib/blit/journal",
			AllowFull: true,
		},
		History: HistoryConfig{
			Enabled:            true,
			FilePath:           "/var/lib/blit/history.jsonl",
			MaxRecords:         10000,
			PredictorStatePath: "/var/lib/blit/predictor.json",
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 10 * time.Second,
				Read:    30 * time.Second,
				Write:   300 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Security: SecurityConfig{
			TLS: TLSConfig{
				VerifyCertificates: true,
				MinVersion:         "1.2",
			},
			Encryption: EncryptionConfig{
				InTransit: true,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:    true,
				Prometheus: true,
				CustomLabels: map[string]string{
					"service": "blit",
				},
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
			Logging: LoggingConfig{
				Structured: true,
				Format:     "json",
				Sampling: SamplingConfig{
					Enabled: true,
					Rate:    1000,
				},
			},
		},
		Features: FeatureConfig{
			ChecksumByDefault: false,
			DeleteOnMirror:    true,
			Resume:            true,
			SmallFileBatching: true,
			CloneReflink:      true,
			GRPCFallback:      true,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration overrides from environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("BLIT_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("BLIT_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("BLIT_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}

	if val := os.Getenv("BLIT_WORKER_COUNT_MAX"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Performance.WorkerCountMax = n
		}
	}
	if val := os.Getenv("BLIT_WORKER_OVERRIDE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Performance.WorkerOverride = n
		}
	}
	if val := os.Getenv("BLIT_AUTO_TUNE"); val != "" {
		c.Performance.AutoTune = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("BLIT_BUFFER_BUDGET_BYTES"); val != "" {
		c.Buffer.BudgetBytes = val
	}

	if val := os.Getenv("BLIT_CHECKSUM_BY_DEFAULT"); val != "" {
		c.Features.ChecksumByDefault = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("BLIT_DELETE_ON_MIRROR"); val != "" {
		c.Features.DeleteOnMirror = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("BLIT_RESUME"); val != "" {
		c.Features.Resume = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if c.Performance.WorkerCountMax <= 0 {
		return fmt.Errorf("worker_count_max must be greater than 0")
	}
	if c.Performance.WorkerCountMin <= 0 || c.Performance.WorkerCountMin > c.Performance.WorkerCountMax {
		return fmt.Errorf("worker_count_min must be in (0, worker_count_max]")
	}
	if c.Performance.StreamCountMax <= 0 {
		return fmt.Errorf("stream_count_max must be greater than 0")
	}
	if c.Performance.WorkerOverride < 0 {
		return fmt.Errorf("worker_override must be >= 0")
	}

	if c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}
	if c.Global.ControlPort == c.Global.MetricsPort || c.Global.ControlPort == c.Global.HealthPort {
		return fmt.Errorf("control_port must differ from metrics_port and health_port")
	}

	validLogLevels := []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
