// Package sink provides the bundled persistence and alert-delivery
// collaborators: append-only JSONL files under the local state directory.
// Production deployments can swap in real stores/notifiers behind the
// aggregator's Persister and Alerter interfaces.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deskwatch/agent/internal/event"
)

const appDirName = "deskwatch"

// EventLog persists processed events as one JSON object per line.
type EventLog struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewEventLog opens (creating if needed) an append-only event log at path.
// Pass an empty path to use events.jsonl in the default state directory.
func NewEventLog(path string) (*EventLog, error) {
	if path == "" {
		path = filepath.Join(defaultStateDir(), "events.jsonl")
	}
	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &EventLog{path: path, file: file}, nil
}

// Path returns the log file location.
func (l *EventLog) Path() string { return l.path }

// Persist appends one record. Satisfies aggregator.Persister.
func (l *EventLog) Persist(rec *event.Record) error {
	return appendJSON(&l.mu, l.file, rec)
}

// Close flushes and closes the underlying file.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// alertEntry is the on-disk shape of a delivered alert.
type alertEntry struct {
	SentAt time.Time     `json:"sentAt"`
	Event  *event.Record `json:"event"`
}

// AlertLog records alert deliveries as JSONL. It stands in for an external
// SMS/e-mail channel; delivery "succeeds" when the line is durably appended.
type AlertLog struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewAlertLog opens (creating if needed) an append-only alert log at path.
// Pass an empty path to use alerts.jsonl in the default state directory.
func NewAlertLog(path string) (*AlertLog, error) {
	if path == "" {
		path = filepath.Join(defaultStateDir(), "alerts.jsonl")
	}
	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &AlertLog{path: path, file: file}, nil
}

// Path returns the log file location.
func (l *AlertLog) Path() string { return l.path }

// SendAlert appends one alert entry. Satisfies aggregator.Alerter.
func (l *AlertLog) SendAlert(rec *event.Record) error {
	return appendJSON(&l.mu, l.file, alertEntry{SentAt: time.Now(), Event: rec})
}

// Close flushes and closes the underlying file.
func (l *AlertLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating sink dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return file, nil
}

func appendJSON(mu *sync.Mutex, file *os.File, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}
	data = append(data, '\n')

	mu.Lock()
	defer mu.Unlock()
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("appending entry: %w", err)
	}
	return nil
}

// defaultStateDir returns ~/.local/state/deskwatch, respecting
// XDG_STATE_HOME if set.
func defaultStateDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
