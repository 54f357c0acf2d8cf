package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TaskLog is a per-task human readable log (agent_log.txt) written next to the
// task's work directory. The batch scheduler scans its tail for API failures.
type TaskLog struct {
	path   string
	file   *os.File
	logger *zap.Logger
}

// OpenTaskLog opens (appending) the task log at path.
func OpenTaskLog(path string) (*TaskLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create task log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open task log: %w", err)
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(f), zapcore.DebugLevel)

	return &TaskLog{path: path, file: f, logger: zap.New(core)}, nil
}

// Path returns the file path of the log.
func (t *TaskLog) Path() string { return t.path }

// Logger returns the structured logger bound to the file.
func (t *TaskLog) Logger() *zap.Logger {
	if t == nil {
		return zap.NewNop()
	}
	return t.logger
}

// Printf writes a free-form line.
func (t *TaskLog) Printf(format string, args ...interface{}) {
	if t == nil {
		return
	}
	t.logger.Info(fmt.Sprintf(format, args...))
}

// Close flushes and closes the file.
func (t *TaskLog) Close() error {
	if t == nil {
		return nil
	}
	_ = t.logger.Sync()
	return t.file.Close()
}
