package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Category classifies what kind of activity a record describes. The set is
// closed: filtering, correlation, and activation policy all switch on it, so
// a new category must be threaded through those sites explicitly.
type Category int

const (
	Input Category = iota
	Login
	Camera
	Session
	System
	BackgroundMonitoring
	USB
)

var categoryNames = map[Category]string{
	Input:                "input",
	Login:                "login",
	Camera:               "camera",
	Session:              "session",
	System:               "system",
	BackgroundMonitoring: "background_monitoring",
	USB:                  "usb",
}

var categoryFromName = map[string]Category{
	"input":                 Input,
	"login":                 Login,
	"camera":                Camera,
	"session":               Session,
	"system":                System,
	"background_monitoring": BackgroundMonitoring,
	"usb":                   USB,
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return "unknown"
}

func (c Category) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := categoryFromName[s]; ok {
		*c = v
	}
	return nil
}

// Severity orders records from routine to urgent. Comparisons use the
// integer ordering: Info < Low < Medium < High < Critical.
type Severity int

const (
	Info Severity = iota
	Low
	Medium
	High
	Critical
)

var severityNames = map[Severity]string{
	Info:     "info",
	Low:      "low",
	Medium:   "medium",
	High:     "high",
	Critical: "critical",
}

var severityFromName = map[string]Severity{
	"info":     Info,
	"low":      Low,
	"medium":   Medium,
	"high":     High,
	"critical": Critical,
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := severityFromName[n]; ok {
		*s = v
	}
	return nil
}

// Record is the normalized unit of monitored activity flowing through the
// aggregator. Category and Severity are fixed at creation; AlertSent moves
// false→true at most once via MarkAlertSent.
type Record struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Category    Category  `json:"category"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	AlertSent   bool      `json:"alertSent"`
	Source      string    `json:"source"`
}

// NewRecord builds a Record stamped with a fresh ID and the current time.
func NewRecord(cat Category, sev Severity, source, description string) *Record {
	return &Record{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Category:    cat,
		Description: description,
		Severity:    sev,
		Source:      source,
	}
}

// MarkAlertSent flips the alert-sent flag. The transition is one-way; calling
// it again is a no-op.
func (r *Record) MarkAlertSent() {
	r.AlertSent = true
}

// Clone returns a copy that can be mutated independently of the original.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}
