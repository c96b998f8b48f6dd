package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogFormat defines the output format for logs.
type LogFormat int

const (
	FormatText LogFormat = iota
	FormatJSON
)

// Field represents a single structured logging field.
type Field struct {
	Key   string
	Value interface{}
}

// LogEntry is one fully-assembled log record, ready to be written in
// either format.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
	Stack     string                 `json:"stack,omitempty"`
}

// StructuredLogger logs at a global level, with per-component overrides
// for noisier subsystems (a daemon running with control_plane at DEBUG
// and everything else at INFO, say). A component name may be dotted
// ("remote.push") to inherit its parent's override ("remote") when it
// has none of its own, so a caller doesn't have to register every leaf
// operation name separately.
type StructuredLogger struct {
	mu              sync.RWMutex
	level           LogLevel
	output          io.Writer
	format          LogFormat
	contextFields   map[string]interface{}
	includeCaller   bool
	includeStack    bool // only attached for ERROR and FATAL
	componentLevels map[string]LogLevel
	rotator         *LogRotator
}

// StructuredLoggerConfig configures a StructuredLogger.
type StructuredLoggerConfig struct {
	Level         LogLevel
	Output        io.Writer
	Format        LogFormat
	IncludeCaller bool
	IncludeStack  bool
	Rotation      *RotationConfig
}

// DefaultStructuredLoggerConfig returns sensible defaults: INFO to
// stdout, text format, with caller locations but not stack traces.
func DefaultStructuredLoggerConfig() *StructuredLoggerConfig {
	return &StructuredLoggerConfig{
		Level:         INFO,
		Output:        os.Stdout,
		Format:        FormatText,
		IncludeCaller: true,
		IncludeStack:  false,
	}
}

// NewStructuredLogger builds a StructuredLogger from config. A nil
// config uses DefaultStructuredLoggerConfig. If config.Rotation is set,
// the logger writes through a LogRotator instead of config.Output.
func NewStructuredLogger(config *StructuredLoggerConfig) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultStructuredLoggerConfig()
	}

	logger := &StructuredLogger{
		level:           config.Level,
		output:          config.Output,
		format:          config.Format,
		contextFields:   make(map[string]interface{}),
		includeCaller:   config.IncludeCaller,
		includeStack:    config.IncludeStack,
		componentLevels: make(map[string]LogLevel),
	}

	if config.Rotation != nil {
		rotator, err := NewLogRotator(config.Rotation)
		if err != nil {
			return nil, fmt.Errorf("build log rotator: %w", err)
		}
		logger.rotator = rotator
		logger.output = rotator
	}

	return logger, nil
}

// derive copies sl with fields replaced by newFields, sharing the
// mutable rotator/componentLevels rather than cloning them — a derived
// logger still rotates through the same file and obeys the same
// per-component overrides as its parent.
func (sl *StructuredLogger) derive(newFields map[string]interface{}) *StructuredLogger {
	return &StructuredLogger{
		level:           sl.level,
		output:          sl.output,
		format:          sl.format,
		contextFields:   newFields,
		includeCaller:   sl.includeCaller,
		includeStack:    sl.includeStack,
		componentLevels: sl.componentLevels,
		rotator:         sl.rotator,
	}
}

// WithField returns a derived logger carrying one additional context field.
func (sl *StructuredLogger) WithField(key string, value interface{}) *StructuredLogger {
	sl.mu.RLock()
	newFields := make(map[string]interface{}, len(sl.contextFields)+1)
	for k, v := range sl.contextFields {
		newFields[k] = v
	}
	sl.mu.RUnlock()
	newFields[key] = value
	return sl.derive(newFields)
}

// WithFields returns a derived logger carrying additional context fields.
func (sl *StructuredLogger) WithFields(fields map[string]interface{}) *StructuredLogger {
	sl.mu.RLock()
	newFields := make(map[string]interface{}, len(sl.contextFields)+len(fields))
	for k, v := range sl.contextFields {
		newFields[k] = v
	}
	sl.mu.RUnlock()
	for k, v := range fields {
		newFields[k] = v
	}
	return sl.derive(newFields)
}

// WithComponent returns a derived logger tagged with a component name,
// used both as a log field and as the key SetComponentLevel overrides
// filter on.
func (sl *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return sl.WithField("component", component)
}

// SetComponentLevel overrides the log level for component (and, absent
// a more specific override, any dotted child of it).
func (sl *StructuredLogger) SetComponentLevel(component string, level LogLevel) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.componentLevels[component] = level
}

// SetLevel sets the logger's global level.
func (sl *StructuredLogger) SetLevel(level LogLevel) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.level = level
}

// GetLevel returns the logger's current global level.
func (sl *StructuredLogger) GetLevel() LogLevel {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.level
}

// componentLevel walks component's dotted segments from most to least
// specific ("remote.push.stream", "remote.push", "remote") and returns
// the first override found.
func (sl *StructuredLogger) componentLevel(component string) (LogLevel, bool) {
	for {
		if level, ok := sl.componentLevels[component]; ok {
			return level, true
		}
		idx := strings.LastIndexByte(component, '.')
		if idx < 0 {
			return 0, false
		}
		component = component[:idx]
	}
}

// isEnabled reports whether level should be emitted, given the current
// context's component field (if any) and the global level otherwise.
func (sl *StructuredLogger) isEnabled(level LogLevel) bool {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	if component, ok := sl.contextFields["component"].(string); ok {
		if compLevel, found := sl.componentLevel(component); found {
			return level >= compLevel
		}
	}
	return level >= sl.level
}

// log assembles and writes one entry, skipping the work entirely when
// level is below the effective threshold.
func (sl *StructuredLogger) log(level LogLevel, message string, fields map[string]interface{}) {
	if !sl.isEnabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    make(map[string]interface{}, len(sl.contextFields)+len(fields)),
	}

	sl.mu.RLock()
	for k, v := range sl.contextFields {
		entry.Fields[k] = v
	}
	sl.mu.RUnlock()
	for k, v := range fields {
		entry.Fields[k] = v
	}

	if sl.includeCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			entry.Caller = fmt.Sprintf("%s:%d", filepathBase(file), line)
		}
	}
	if sl.includeStack && (level == ERROR || level == FATAL) {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		entry.Stack = string(buf[:n])
	}

	sl.write(sl.render(entry))
}

func (sl *StructuredLogger) render(entry LogEntry) string {
	if sl.format == FormatJSON {
		if jsonBytes, err := json.Marshal(entry); err == nil {
			return string(jsonBytes) + "\n"
		}
	}
	return sl.formatText(entry)
}

func (sl *StructuredLogger) write(line string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	_, _ = sl.output.Write([]byte(line))
}

// formatText renders entry as human-readable text with fields sorted by
// key, so two runs over the same inputs produce byte-identical lines.
func (sl *StructuredLogger) formatText(entry LogEntry) string {
	var sb strings.Builder

	sb.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(entry.Level)
	sb.WriteString("] ")

	if entry.Caller != "" {
		sb.WriteString("[")
		sb.WriteString(entry.Caller)
		sb.WriteString("] ")
	}

	sb.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, entry.Fields[k])
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")

	if entry.Stack != "" {
		sb.WriteString("Stack trace:\n")
		sb.WriteString(entry.Stack)
		sb.WriteString("\n")
	}

	return sb.String()
}

// Trace logs at TRACE. fields, if given, is merged into the entry.
func (sl *StructuredLogger) Trace(message string, fields ...map[string]interface{}) {
	sl.log(TRACE, message, firstOrNil(fields))
}

// Debug logs at DEBUG.
func (sl *StructuredLogger) Debug(message string, fields ...map[string]interface{}) {
	sl.log(DEBUG, message, firstOrNil(fields))
}

// Info logs at INFO.
func (sl *StructuredLogger) Info(message string, fields ...map[string]interface{}) {
	sl.log(INFO, message, firstOrNil(fields))
}

// Warn logs at WARN.
func (sl *StructuredLogger) Warn(message string, fields ...map[string]interface{}) {
	sl.log(WARN, message, firstOrNil(fields))
}

// Error logs at ERROR.
func (sl *StructuredLogger) Error(message string, fields ...map[string]interface{}) {
	sl.log(ERROR, message, firstOrNil(fields))
}

// Fatal logs at FATAL, then terminates the process.
func (sl *StructuredLogger) Fatal(message string, fields ...map[string]interface{}) {
	sl.log(FATAL, message, firstOrNil(fields))
	os.Exit(1)
}

func firstOrNil(fieldMaps []map[string]interface{}) map[string]interface{} {
	if len(fieldMaps) > 0 {
		return fieldMaps[0]
	}
	return nil
}

// Tracef logs a formatted message at TRACE.
func (sl *StructuredLogger) Tracef(format string, args ...interface{}) { sl.logf(TRACE, format, args...) }

// Debugf logs a formatted message at DEBUG.
func (sl *StructuredLogger) Debugf(format string, args ...interface{}) { sl.logf(DEBUG, format, args...) }

// Infof logs a formatted message at INFO.
func (sl *StructuredLogger) Infof(format string, args ...interface{}) { sl.logf(INFO, format, args...) }

// Warnf logs a formatted message at WARN.
func (sl *StructuredLogger) Warnf(format string, args ...interface{}) { sl.logf(WARN, format, args...) }

// Errorf logs a formatted message at ERROR.
func (sl *StructuredLogger) Errorf(format string, args ...interface{}) { sl.logf(ERROR, format, args...) }

// Fatalf logs a formatted message at FATAL, then terminates the process.
func (sl *StructuredLogger) Fatalf(format string, args ...interface{}) {
	sl.logf(FATAL, format, args...)
	os.Exit(1)
}

func (sl *StructuredLogger) logf(level LogLevel, format string, args ...interface{}) {
	sl.log(level, fmt.Sprintf(format, args...), nil)
}

// Close releases the logger's rotator, if any.
func (sl *StructuredLogger) Close() error {
	if sl.rotator != nil {
		return sl.rotator.Close()
	}
	return nil
}

// Sync flushes the logger's rotator, if any.
func (sl *StructuredLogger) Sync() error {
	if sl.rotator != nil {
		return sl.rotator.Sync()
	}
	return nil
}

// filepathBase returns the final path segment without importing
// path/filepath just for this.
func filepathBase(p string) string {
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[idx+1:]
	}
	return p
}
