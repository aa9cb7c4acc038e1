package aggregator

import (
	"time"

	"github.com/deskwatch/agent/internal/event"
)

// window is the time-bounded set of recently seen records. It is owned by
// the Aggregator and accessed only under the Aggregator's lock; it has no
// locking of its own. Pruning is lazy: Add triggers a pass at most once per
// pruneInterval, so readers between passes may see records slightly older
// than the horizon, but never a half-pruned set.
type window struct {
	horizon   time.Duration
	records   []*event.Record
	lastPrune time.Time
}

func newWindow(horizon time.Duration) *window {
	return &window{horizon: horizon}
}

// add inserts a record, running a lazy prune pass first.
func (w *window) add(rec *event.Record, now time.Time) {
	if w.lastPrune.IsZero() || now.Sub(w.lastPrune) >= pruneInterval {
		w.prune(now)
	}
	w.records = append(w.records, rec)
}

// prune drops every record older than the horizon relative to now. It is
// idempotent: a second pass with the same now removes nothing further.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.horizon)
	n := 0
	for _, rec := range w.records {
		if rec.Timestamp.After(cutoff) {
			w.records[n] = rec
			n++
		}
	}
	// Clear the tail so pruned records can be collected.
	for i := n; i < len(w.records); i++ {
		w.records[i] = nil
	}
	w.records = w.records[:n]
	w.lastPrune = now
}

func (w *window) size() int {
	return len(w.records)
}

// countMatching counts records sharing the given category and description,
// excluding the record identified by excludeID (so a record being evaluated
// never counts as its own duplicate).
func (w *window) countMatching(cat event.Category, desc, excludeID string) int {
	count := 0
	for _, rec := range w.records {
		if rec.ID != excludeID && rec.Category == cat && rec.Description == desc {
			count++
		}
	}
	return count
}

// countSince counts records with Timestamp after since that satisfy match.
func (w *window) countSince(since time.Time, match func(*event.Record) bool) int {
	count := 0
	for _, rec := range w.records {
		if rec.Timestamp.After(since) && match(rec) {
			count++
		}
	}
	return count
}

// snapshot returns clones of all records currently in the window.
func (w *window) snapshot() []*event.Record {
	out := make([]*event.Record, 0, len(w.records))
	for _, rec := range w.records {
		out = append(out, rec.Clone())
	}
	return out
}
