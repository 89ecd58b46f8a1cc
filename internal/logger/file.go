package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLogger appends JSON-lines log records to a per-run file under
// dir, and maintains a latest.log symlink pointing at the current run
// file, grounded in the teacher's timestamped-run-file pattern.
type FileLogger struct {
	mu       sync.Mutex
	file     *os.File
	minLevel int
	now      func() time.Time
}

// record is one JSON-lines entry written to the run log.
type record struct {
	Time   string         `json:"time"`
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

// NewFileLogger creates dir if needed, opens a new timestamped run log
// file within it, refreshes the latest.log symlink to point at it, and
// returns a FileLogger writing to that file at the given level.
func NewFileLogger(dir, level string) (*FileLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logger: create log dir %s: %w", dir, err)
	}

	name := fmt.Sprintf("run-%s.log", time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open log file %s: %w", path, err)
	}

	latest := filepath.Join(dir, "latest.log")
	_ = os.Remove(latest)
	_ = os.Symlink(name, latest)

	return &FileLogger{file: f, minLevel: normalizeLogLevel(level)}, nil
}

// Close flushes and closes the underlying file.
func (f *FileLogger) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}

func (f *FileLogger) log(level int, msg string, fields []any) {
	if level < f.minLevel {
		return
	}

	var fieldMap map[string]any
	pairs := fieldsToPairs(fields)
	if len(pairs) > 0 {
		fieldMap = make(map[string]any, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			fieldMap[fmt.Sprintf("%v", fields[i])] = fields[i+1]
		}
	}

	rec := record{
		Time:   timestamp(f.now).Format(time.RFC3339Nano),
		Level:  f.levelName(level),
		Msg:    msg,
		Fields: fieldMap,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	_, _ = f.file.Write(data)
}

func (f *FileLogger) levelName(level int) string {
	switch level {
	case levelTrace:
		return "trace"
	case levelDebug:
		return "debug"
	case levelWarn:
		return "warn"
	case levelError:
		return "error"
	default:
		return "info"
	}
}

func (f *FileLogger) Debug(msg string, fields ...any) { f.log(levelDebug, msg, fields) }
func (f *FileLogger) Info(msg string, fields ...any)  { f.log(levelInfo, msg, fields) }
func (f *FileLogger) Warn(msg string, fields ...any)  { f.log(levelWarn, msg, fields) }
func (f *FileLogger) Error(msg string, fields ...any) { f.log(levelError, msg, fields) }

var _ Logger = (*FileLogger)(nil)

// Multi fans out log calls to several Loggers, e.g. console + file.
type Multi struct {
	Loggers []Logger
}

func (m Multi) Debug(msg string, fields ...any) {
	for _, l := range m.Loggers {
		l.Debug(msg, fields...)
	}
}

func (m Multi) Info(msg string, fields ...any) {
	for _, l := range m.Loggers {
		l.Info(msg, fields...)
	}
}

func (m Multi) Warn(msg string, fields ...any) {
	for _, l := range m.Loggers {
		l.Warn(msg, fields...)
	}
}

func (m Multi) Error(msg string, fields ...any) {
	for _, l := range m.Loggers {
		l.Error(msg, fields...)
	}
}

var _ Logger = Multi{}
