// Package aggregator is the single funnel for normalized activity events.
// It deduplicates against a rolling window, decides persistence and
// alert-worthiness, and keeps point-in-time statistics for diagnostics.
package aggregator

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/deskwatch/agent/internal/event"
	"github.com/deskwatch/agent/internal/metrics"
)

// Persister stores a processed event. Called by the aggregator for every
// record that passes the filtering policy; errors are logged, never
// propagated.
type Persister interface {
	Persist(rec *event.Record) error
}

// Alerter delivers an alert for an event. A returned error leaves the
// record's alert-sent flag false so a later correlated event can re-trigger.
type Alerter interface {
	SendAlert(rec *event.Record) error
}

const (
	// windowHorizon bounds how long duplicate and correlated events are
	// considered related.
	windowHorizon = 5 * time.Minute

	// pruneInterval limits lazy prune passes to once per minute.
	pruneInterval = time.Minute

	// lowDuplicateLimit and mediumDuplicateLimit count duplicates beyond
	// the first occurrence. The first occurrence always surfaces; Low
	// noise is cut after one repeat, Medium gets three repeats before
	// suppression kicks in.
	lowDuplicateLimit    = 1
	mediumDuplicateLimit = 3

	// highAlertCap and highAlertWindow throttle High-severity alert spam:
	// at most 5 High-or-above alerts in any trailing 10 minutes.
	highAlertCap    = 5
	highAlertWindow = 10 * time.Minute

	// correlationWindow is the sub-window the cross-category heuristics
	// inspect.
	correlationWindow = 15 * time.Minute

	// failedLoginThreshold: this many failed logins inside the
	// correlation window reads as a credential attack.
	failedLoginThreshold = 3

	// sessionChurnThreshold: this many session transitions plus any input
	// activity inside the correlation window reads as possible physical
	// access during session churn.
	sessionChurnThreshold = 2
)

// Notify is invoked after a record has been processed, outside the
// aggregator's lock. alerted reports whether an alert was delivered.
type Notify func(rec *event.Record, alerted bool)

// Stats is a read-only snapshot of aggregator activity.
type Stats struct {
	TotalReceived    int            `json:"totalReceived"`
	Processed        int            `json:"processed"`
	Suppressed       int            `json:"suppressed"`
	Rejected         int            `json:"rejected"`
	AlertsSent       int            `json:"alertsSent"`
	AlertFailures    int            `json:"alertFailures"`
	WindowSize       int            `json:"windowSize"`
	Last5Minutes     int            `json:"last5Minutes"`
	Last15Minutes    int            `json:"last15Minutes"`
	RecentHighAlerts int            `json:"recentHighAlerts"`
	PerCategory      map[string]int `json:"perCategory"`
	GeneratedAt      time.Time      `json:"generatedAt"`
}

// Aggregator owns the aggregation window and all filtering/alerting state.
// A single internal mutex guards everything; collaborator calls (persist,
// alert, notify) happen outside the lock so a slow sink cannot block
// concurrent status reads.
type Aggregator struct {
	mu         sync.Mutex
	window     *window
	highAlerts []time.Time // delivery times of High-or-above alerts

	totalReceived int
	processed     int
	suppressed    int
	rejected      int
	alertsSent    int
	alertFailures int

	persist Persister
	alert   Alerter
	notify  Notify
	metrics *metrics.Metrics
	now     func() time.Time
}

// New builds an Aggregator wired to the given collaborators. persist and
// alert may be nil (events are then only counted and broadcast); m may be
// nil to disable metrics.
func New(persist Persister, alert Alerter, m *metrics.Metrics) *Aggregator {
	return &Aggregator{
		window:  newWindow(windowHorizon),
		persist: persist,
		alert:   alert,
		metrics: m,
		now:     time.Now,
	}
}

// SetNotify registers the processed-event hook. Must be called before the
// first ProcessEvent.
func (a *Aggregator) SetNotify(fn Notify) {
	a.notify = fn
}

// ProcessEvent runs one record through the pipeline: lazy window prune,
// insert, filtering policy, persistence, alert decision. Safe for concurrent
// calls from multiple sensor goroutines. A nil record is rejected with no
// state mutation beyond the rejection counter.
func (a *Aggregator) ProcessEvent(rec *event.Record) {
	if rec == nil {
		a.mu.Lock()
		a.rejected++
		a.mu.Unlock()
		if a.metrics != nil {
			a.metrics.EventsRejected.Inc()
		}
		log.Printf("aggregator: rejected nil event")
		return
	}

	a.mu.Lock()
	now := a.now()
	a.totalReceived++
	process := a.shouldProcessLocked(rec)
	a.window.add(rec, now)
	if !process {
		a.suppressed++
		a.mu.Unlock()
		if a.metrics != nil {
			a.metrics.EventsSuppressed.Inc()
		}
		return
	}
	a.processed++
	wantAlert := a.shouldAlertLocked(rec, now)
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.EventsProcessed.Inc()
	}

	// Persistence happens before alert evaluation and never blocks it.
	if a.persist != nil {
		if err := a.persist.Persist(rec); err != nil {
			log.Printf("aggregator: persist failed for %s event %s: %v", rec.Category, rec.ID, err)
			if a.metrics != nil {
				a.metrics.PersistFailures.Inc()
			}
		}
	}

	alerted := false
	if wantAlert && a.alert != nil {
		alerted = a.deliverAlert(rec)
	}

	if a.notify != nil {
		a.notify(rec, alerted)
	}
}

// deliverAlert attempts delivery and records the outcome. On failure the
// record's alert-sent flag stays false.
func (a *Aggregator) deliverAlert(rec *event.Record) bool {
	if err := a.alert.SendAlert(rec); err != nil {
		log.Printf("aggregator: alert failed for %s event %s: %v", rec.Severity, rec.ID, err)
		a.mu.Lock()
		a.alertFailures++
		a.mu.Unlock()
		if a.metrics != nil {
			a.metrics.AlertFailures.Inc()
		}
		return false
	}

	// The record already sits in the window, so the alert-sent flag is
	// window state and must flip under the same lock readers clone under.
	a.mu.Lock()
	rec.MarkAlertSent()
	a.alertsSent++
	if rec.Severity >= event.High {
		a.highAlerts = append(a.highAlerts, a.now())
	}
	a.mu.Unlock()
	if a.metrics != nil {
		a.metrics.AlertsSent.WithLabelValues(rec.Severity.String()).Inc()
	}
	return true
}

// ShouldProcess reports whether the filtering policy would surface rec
// given the current window contents. It does not mutate state.
func (a *Aggregator) ShouldProcess(rec *event.Record) bool {
	if rec == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shouldProcessLocked(rec)
}

func (a *Aggregator) shouldProcessLocked(rec *event.Record) bool {
	// High-value signals are never suppressed.
	if rec.Severity >= event.High {
		return true
	}

	prior := a.window.countMatching(rec.Category, rec.Description, rec.ID)
	if prior == 0 {
		// First occurrence always surfaces.
		return true
	}

	duplicates := prior - 1 // repeats beyond the first occurrence
	switch rec.Severity {
	case event.Low:
		return duplicates < lowDuplicateLimit
	case event.Medium:
		return duplicates < mediumDuplicateLimit
	default:
		return true
	}
}

// ShouldAlert reports whether rec warrants an alert attempt given the
// current window contents. It does not mutate state.
func (a *Aggregator) ShouldAlert(rec *event.Record) bool {
	if rec == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shouldAlertLocked(rec, a.now())
}

func (a *Aggregator) shouldAlertLocked(rec *event.Record, now time.Time) bool {
	if rec.Severity == event.Critical {
		return true
	}

	if rec.Severity == event.High {
		return a.recentHighAlertsLocked(now) < highAlertCap
	}

	// Correlation heuristics: co-occurrence of lower-severity events.
	since := now.Add(-correlationWindow)

	failedLogins := a.window.countSince(since, func(r *event.Record) bool {
		return r.Category == event.Login && indicatesFailure(r.Description)
	})
	if failedLogins >= failedLoginThreshold {
		return true
	}

	sessions := a.window.countSince(since, func(r *event.Record) bool {
		return r.Category == event.Session
	})
	inputs := a.window.countSince(since, func(r *event.Record) bool {
		return r.Category == event.Input
	})
	return sessions >= sessionChurnThreshold && inputs >= 1
}

// recentHighAlertsLocked prunes and counts High-or-above alert deliveries
// inside the trailing spam-cap window.
func (a *Aggregator) recentHighAlertsLocked(now time.Time) int {
	cutoff := now.Add(-highAlertWindow)
	n := 0
	for _, t := range a.highAlerts {
		if t.After(cutoff) {
			a.highAlerts[n] = t
			n++
		}
	}
	a.highAlerts = a.highAlerts[:n]
	return n
}

// countRecentHighAlertsLocked counts High-or-above deliveries inside the
// trailing spam-cap window without compacting the slice. Read-only paths use
// this so a stats snapshot never mutates aggregator state.
func (a *Aggregator) countRecentHighAlertsLocked(now time.Time) int {
	cutoff := now.Add(-highAlertWindow)
	n := 0
	for _, t := range a.highAlerts {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// indicatesFailure reports whether a login event description reads as a
// failed attempt.
func indicatesFailure(desc string) bool {
	d := strings.ToLower(desc)
	return strings.Contains(d, "fail") ||
		strings.Contains(d, "invalid") ||
		strings.Contains(d, "denied") ||
		strings.Contains(d, "incorrect")
}

// GetStats computes a point-in-time snapshot. Read-only; a forced prune is
// not performed, so the window counts reflect the lazy-prune state.
func (a *Aggregator) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	perCategory := make(map[string]int)
	last5 := 0
	last15 := 0
	cut5 := now.Add(-5 * time.Minute)
	cut15 := now.Add(-15 * time.Minute)
	for _, rec := range a.window.records {
		perCategory[rec.Category.String()]++
		if rec.Timestamp.After(cut5) {
			last5++
		}
		if rec.Timestamp.After(cut15) {
			last15++
		}
	}

	return Stats{
		TotalReceived:    a.totalReceived,
		Processed:        a.processed,
		Suppressed:       a.suppressed,
		Rejected:         a.rejected,
		AlertsSent:       a.alertsSent,
		AlertFailures:    a.alertFailures,
		WindowSize:       a.window.size(),
		Last5Minutes:     last5,
		Last15Minutes:    last15,
		RecentHighAlerts: a.countRecentHighAlertsLocked(now),
		PerCategory:      perCategory,
		GeneratedAt:      now,
	}
}

// WindowRecords returns clones of the records currently in the window.
func (a *Aggregator) WindowRecords() []*event.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.window.snapshot()
}
