// Package eventlog appends security events to daily CSV files.
package eventlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Event kinds
const (
	KnownPersonEntry   = "KNOWN_PERSON_ENTRY"
	UnknownPersonAlert = "UNKNOWN_PERSON_ALERT"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	fileDateLayout  = "2006-01-02"
)

var header = []string{"Timestamp", "Event", "Name", "Details"}

// Sink is an append-only event log
type Sink interface {
	LogEvent(kind, name, details string) error
}

// CSVLog writes events to <dir>/security_log_YYYY-MM-DD.csv, one file per local day.
// A header row is written when a file is created.
type CSVLog struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewCSVLog creates log directory if needed
func NewCSVLog(dir string) (*CSVLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "Can't create log directory %s", dir)
	}
	return &CSVLog{dir: dir, now: time.Now}, nil
}

// PathFor returns log file path for the day of t
func (l *CSVLog) PathFor(t time.Time) string {
	return filepath.Join(l.dir, "security_log_"+t.Format(fileDateLayout)+".csv")
}

// LogEvent appends a row. Empty name is written as N/A.
func (l *CSVLog) LogEvent(kind, name, details string) error {
	if name == "" {
		name = "N/A"
	}
	now := l.now()
	path := l.PathFor(now)

	l.mu.Lock()
	defer l.mu.Unlock()

	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "Can't open %s", path)
	}
	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(header); err != nil {
			f.Close()
			return errors.Wrap(err, "Can't write header")
		}
	}
	if err := w.Write([]string{now.Format(timestampLayout), kind, name, details}); err != nil {
		f.Close()
		return errors.Wrap(err, "Can't write event")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return errors.Wrap(err, "Can't flush event")
	}
	return errors.Wrapf(f.Close(), "Can't close %s", path)
}
