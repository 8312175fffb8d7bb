// Package oplog appends operator-facing text lines to the log directory.
// The files are read by humans, not machines; a write failure is reported to
// the console logger and never fails the request that triggered it.
package oplog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	ServerErrorsFile = "server_errors.log"
	BlockedIPsFile   = "blocked_ips.log"
)

type Logger struct {
	dir string
	log *zap.SugaredLogger

	mu sync.Mutex
}

func New(dir string, log *zap.SugaredLogger) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &Logger{dir: dir, log: log}, nil
}

// Append writes one timestamped line to the named file.
func (l *Logger) Append(file, format string, args ...any) {
	line := fmt.Sprintf("%s %s\n", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(l.dir, file), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.log.Errorw("open operator log", "file", file, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		l.log.Errorw("write operator log", "file", file, "error", err)
	}
}
