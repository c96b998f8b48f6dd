package metrics

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with valid config", func(t *testing.T) {
		config := &Config{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "blit",
			Subsystem: "test",
		}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector == nil {
			t.Fatal("NewCollector() returned nil collector")
		}
		if collector.config != config {
			t.Error("collector.config does not match input config")
		}
		if collector.registry == nil {
			t.Error("collector.registry is nil")
		}
		if collector.verbs == nil {
			t.Error("collector.verbs map is nil")
		}
	})

	t.Run("with nil config uses defaults", func(t *testing.T) {
		collector, err := NewCollector(nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if collector == nil {
			t.Fatal("NewCollector(nil) returned nil collector")
		}
		if collector.config == nil {
			t.Fatal("default config is nil")
		}
		if collector.config.Port != 8080 {
			t.Errorf("default port = %d, want 8080", collector.config.Port)
		}
		if collector.config.Path != "/metrics" {
			t.Errorf("default path = %q, want %q", collector.config.Path, "/metrics")
		}
		if collector.config.Namespace != "blit" {
			t.Errorf("default namespace = %q, want %q", collector.config.Namespace, "blit")
		}
	})

	t.Run("with disabled config", func(t *testing.T) {
		config := &Config{Enabled: false}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector == nil {
			t.Fatal("NewCollector() returned nil collector")
		}
		if collector.registry != nil {
			t.Error("disabled collector should not have registry")
		}
	})
}

func TestRecordTransfer(t *testing.T) {
	t.Parallel()

	t.Run("record successful transfer", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: true, Port: 9091, Namespace: "test"})
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.RecordTransfer("copy", 100*time.Millisecond, 1024, true)

		verbs := collector.GetMetrics()["verbs"].(map[string]*OperationMetrics)
		op, exists := verbs["copy"]
		if !exists {
			t.Fatal("copy verb not recorded")
		}
		if op.Count != 1 {
			t.Errorf("op.Count = %d, want 1", op.Count)
		}
		if op.TotalBytes != 1024 {
			t.Errorf("op.TotalBytes = %d, want 1024", op.TotalBytes)
		}
		if op.Errors != 0 {
			t.Errorf("op.Errors = %d, want 0", op.Errors)
		}
		if op.AvgBytes != 1024.0 {
			t.Errorf("op.AvgBytes = %.2f, want 1024.00", op.AvgBytes)
		}
	})

	t.Run("record failed transfer", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: true, Port: 9092, Namespace: "test"})
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.RecordTransfer("mirror", 50*time.Millisecond, 512, false)

		verbs := collector.GetMetrics()["verbs"].(map[string]*OperationMetrics)
		if verbs["mirror"].Errors != 1 {
			t.Errorf("op.Errors = %d, want 1", verbs["mirror"].Errors)
		}
	})

	t.Run("record multiple transfers of same verb", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: true, Port: 9093, Namespace: "test"})
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.RecordTransfer("move", 100*time.Millisecond, 1000, true)
		collector.RecordTransfer("move", 200*time.Millisecond, 2000, true)
		collector.RecordTransfer("move", 300*time.Millisecond, 3000, false)

		op := collector.GetMetrics()["verbs"].(map[string]*OperationMetrics)["move"]
		if op.Count != 3 {
			t.Errorf("op.Count = %d, want 3", op.Count)
		}
		if op.TotalBytes != 6000 {
			t.Errorf("op.TotalBytes = %d, want 6000", op.TotalBytes)
		}
		if op.Errors != 1 {
			t.Errorf("op.Errors = %d, want 1", op.Errors)
		}
		expectedAvg := 6000.0 / 3.0
		if op.AvgBytes != expectedAvg {
			t.Errorf("op.AvgBytes = %.2f, want %.2f", op.AvgBytes, expectedAvg)
		}
	})

	t.Run("disabled collector ignores transfers", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: false})
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.RecordTransfer("copy", 100*time.Millisecond, 1024, true)

		if len(collector.verbs) != 0 {
			t.Error("disabled collector should not track transfers")
		}
	})
}

func TestRecordZeroCopyAndChecksumMismatch(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: true, Port: 9094, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	// Should not panic.
	collector.RecordZeroCopy("copy", 4096)
	collector.RecordChecksumMismatch()

	disabled, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	disabled.RecordZeroCopy("copy", 4096)
	disabled.RecordChecksumMismatch()
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	t.Run("record error", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: true, Port: 9096, Namespace: "test"})
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}
		collector.RecordError("enumerate", errors.New("test error"))
	})

	t.Run("disabled collector ignores errors", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: false})
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}
		collector.RecordError("enumerate", errors.New("test error"))
	})
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: true, Port: 9097, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	tests := []struct {
		name         string
		err          error
		expectedType string
	}{
		{"timeout error", errors.New("operation timeout"), "timeout"},
		{"connection error", errors.New("connection refused"), "connection"},
		{"not found error", errors.New("file not found"), "not_found"},
		{"permission error", errors.New("permission denied"), "permission"},
		{"circuit error", errors.New("circuit breaker open"), "circuit_open"},
		{"other error", errors.New("unknown error"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := collector.classifyError(tt.err)
			if result != tt.expectedType {
				t.Errorf("classifyError() = %q, want %q", result, tt.expectedType)
			}
		})
	}
}

func TestUpdateActiveWorkersAndStreams(t *testing.T) {
	t.Parallel()

	t.Run("update gauges", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: true, Port: 9098, Namespace: "test"})
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.UpdateActiveWorkers(10)
		collector.UpdateActiveWorkers(5)
		collector.UpdateActiveStreams(3)
	})

	t.Run("disabled collector ignores gauges", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: false})
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}
		collector.UpdateActiveWorkers(10)
		collector.UpdateActiveStreams(3)
	})
}

func TestUpdateCircuitState(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: true, Port: 9099, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.UpdateCircuitState("dest-a.internal:9443", 0)
	collector.UpdateCircuitState("dest-a.internal:9443", 2)

	disabled, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	disabled.UpdateCircuitState("dest-b.internal:9443", 1)
}

func TestGetMetrics(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: true, Port: 9100, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.RecordTransfer("copy", 100*time.Millisecond, 1024, true)
	collector.RecordTransfer("mirror", 50*time.Millisecond, 512, true)

	metrics := collector.GetMetrics()
	if metrics == nil {
		t.Fatal("GetMetrics() returned nil")
	}

	if _, ok := metrics["verbs"]; !ok {
		t.Error("metrics missing 'verbs' key")
	}
	if _, ok := metrics["last_reset"]; !ok {
		t.Error("metrics missing 'last_reset' key")
	}
	if _, ok := metrics["uptime"]; !ok {
		t.Error("metrics missing 'uptime' key")
	}

	verbs, ok := metrics["verbs"].(map[string]*OperationMetrics)
	if !ok {
		t.Fatal("verbs is not map[string]*OperationMetrics")
	}
	if len(verbs) != 2 {
		t.Errorf("len(verbs) = %d, want 2", len(verbs))
	}
	if _, exists := verbs["copy"]; !exists {
		t.Error("copy verb not in metrics")
	}
	if _, exists := verbs["mirror"]; !exists {
		t.Error("mirror verb not in metrics")
	}
}

func TestResetMetrics(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: true, Port: 9101, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.RecordTransfer("copy", 100*time.Millisecond, 1024, true)
	collector.RecordTransfer("mirror", 50*time.Millisecond, 512, true)

	verbs := collector.GetMetrics()["verbs"].(map[string]*OperationMetrics)
	if len(verbs) != 2 {
		t.Errorf("before reset: len(verbs) = %d, want 2", len(verbs))
	}

	oldResetTime := collector.lastReset
	time.Sleep(10 * time.Millisecond)
	collector.ResetMetrics()

	verbs = collector.GetMetrics()["verbs"].(map[string]*OperationMetrics)
	if len(verbs) != 0 {
		t.Errorf("after reset: len(verbs) = %d, want 0", len(verbs))
	}
	if !collector.lastReset.After(oldResetTime) {
		t.Error("lastReset should be updated after reset")
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{Enabled: true, Port: 9102, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	if err := collector.Stop(context.Background()); err != nil {
		t.Errorf("Stop() without Start() error = %v, want nil", err)
	}
}

func TestContainsHelper(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		s      string
		substr string
		want   bool
	}{
		{"substring at start", "hello world", "hello", true},
		{"substring in middle", "hello world", "lo wo", true},
		{"substring at end", "hello world", "world", true},
		{"substring not found", "hello world", "foo", false},
		{"empty substring", "hello", "", true},
		{"exact match", "hello", "hello", true},
		{"substring longer than string", "hi", "hello", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := contains(tt.s, tt.substr); result != tt.want {
				t.Errorf("contains(%q, %q) = %v, want %v", tt.s, tt.substr, result, tt.want)
			}
		})
	}
}

func TestIndexOfHelper(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		s      string
		substr string
		want   int
	}{
		{"substring at start", "hello world", "hello", 0},
		{"substring in middle", "hello world", "world", 6},
		{"substring not found", "hello world", "foo", -1},
		{"empty substring", "hello", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := indexOf(tt.s, tt.substr); result != tt.want {
				t.Errorf("indexOf(%q, %q) = %d, want %d", tt.s, tt.substr, result, tt.want)
			}
		})
	}
}
