// Package debounce converts the raw input tick stream (keystrokes, clicks,
// pointer movement) into infrequent summary events. Ticks arrive on the
// input hook's capture thread; one mutex guards the counters so concurrent
// ticks cannot lose updates or double-emit a summary.
package debounce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deskwatch/agent/internal/event"
)

// DefaultSensitivity is how long a burst accumulates before a summary is
// emitted. Reconfigurable at runtime via SetSensitivity.
const DefaultSensitivity = 30 * time.Second

// Idle thresholds for summary severity. Input after a long idle gap is more
// likely to be someone at an unattended machine.
const (
	highIdleThreshold   = 4 * time.Hour
	mediumIdleThreshold = time.Hour
)

// TickKind identifies what a raw input tick represents.
type TickKind int

const (
	KeyPress TickKind = iota
	Click
	Move
)

// Summary is one flushed burst of input activity.
type Summary struct {
	Keystrokes int
	Clicks     int
	Distance   float64
	// TypingSpeed is keystrokes per minute over the burst.
	TypingSpeed float64
	// IdleBefore is how long input was silent before this burst began.
	IdleBefore time.Duration
	Elapsed    time.Duration
	FlushedAt  time.Time
}

// Severity classifies the summary from the idle gap preceding the burst.
func (s Summary) Severity() event.Severity {
	switch {
	case s.IdleBefore > highIdleThreshold:
		return event.High
	case s.IdleBefore > mediumIdleThreshold:
		return event.Medium
	default:
		return event.Low
	}
}

// Record converts the summary into a normalized event record.
func (s Summary) Record(source string) *event.Record {
	desc := fmt.Sprintf("input burst: %d keystrokes, %d clicks, %.0f movement units in %s (%.1f keys/min, idle %s before)",
		s.Keystrokes, s.Clicks, s.Distance, s.Elapsed.Round(time.Second),
		s.TypingSpeed, s.IdleBefore.Round(time.Second))
	rec := event.NewRecord(event.Input, s.Severity(), source, desc)
	rec.Timestamp = s.FlushedAt
	return rec
}

// Debouncer accumulates ticks for one monitored input sensor and emits a
// summary once the sensitivity window elapses. It implements the sensor
// Service contract: Start runs a background flush loop that catches bursts
// followed by silence, and Stop flushes any remaining counters so nothing is
// dropped at shutdown.
type Debouncer struct {
	emit func(Summary)

	mu           sync.Mutex
	sensitivity  time.Duration
	keystrokes   int
	clicks       int
	distance     float64
	sessionStart time.Time // zero when no burst is accumulating
	lastInput    time.Time
	idleBefore   time.Duration
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
	now          func() time.Time
}

// New builds a Debouncer that calls emit for every flushed summary.
func New(emit func(Summary)) *Debouncer {
	return &Debouncer{
		emit:        emit,
		sensitivity: DefaultSensitivity,
		now:         time.Now,
	}
}

func (d *Debouncer) Name() string             { return "input" }
func (d *Debouncer) Category() event.Category { return event.Input }

// SetSensitivity changes the accumulation window at runtime. Values of zero
// or below are ignored.
func (d *Debouncer) SetSensitivity(dur time.Duration) {
	if dur <= 0 {
		return
	}
	d.mu.Lock()
	d.sensitivity = dur
	d.mu.Unlock()
}

// Sensitivity returns the current accumulation window.
func (d *Debouncer) Sensitivity() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sensitivity
}

// Tick records one raw input signal. delta is the pointer movement distance
// for Move ticks and ignored otherwise. Called from the capture thread; if
// the elapsed burst time has reached the sensitivity window the summary is
// emitted inline.
func (d *Debouncer) Tick(kind TickKind, delta float64) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	now := d.now()
	if d.sessionStart.IsZero() {
		d.sessionStart = now
		if !d.lastInput.IsZero() {
			d.idleBefore = now.Sub(d.lastInput)
		} else {
			d.idleBefore = 0
		}
	}
	d.lastInput = now

	switch kind {
	case KeyPress:
		d.keystrokes++
	case Click:
		d.clicks++
	case Move:
		d.distance += delta
	}

	var sum *Summary
	if now.Sub(d.sessionStart) >= d.sensitivity {
		s := d.flushLocked(now)
		sum = &s
	}
	d.mu.Unlock()

	if sum != nil {
		d.emit(*sum)
	}
}

// flushLocked builds the summary and resets the burst state. Caller must
// hold d.mu and emit the returned summary after unlocking.
func (d *Debouncer) flushLocked(now time.Time) Summary {
	elapsed := now.Sub(d.sessionStart)
	speed := 0.0
	if mins := elapsed.Minutes(); mins > 0 {
		speed = float64(d.keystrokes) / mins
	}
	sum := Summary{
		Keystrokes:  d.keystrokes,
		Clicks:      d.clicks,
		Distance:    d.distance,
		TypingSpeed: speed,
		IdleBefore:  d.idleBefore,
		Elapsed:     elapsed,
		FlushedAt:   now,
	}
	d.keystrokes = 0
	d.clicks = 0
	d.distance = 0
	d.sessionStart = time.Time{}
	d.idleBefore = 0
	return sum
}

// Start launches the background flush loop. Already-running is a no-op.
func (d *Debouncer) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true
	go d.flushLoop(ctx, d.done)
	return nil
}

// flushLoop periodically checks whether an accumulating burst has aged past
// the sensitivity window without further ticks, and flushes it. The poll
// interval tracks the sensitivity so short test windows still flush promptly.
func (d *Debouncer) flushLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		d.mu.Lock()
		poll := d.sensitivity / 4
		d.mu.Unlock()
		if poll < 5*time.Millisecond {
			poll = 5 * time.Millisecond
		}
		if poll > 5*time.Second {
			poll = 5 * time.Second
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			d.flushIfElapsed()
		}
	}
}

// flushIfElapsed emits the pending summary if the burst has reached the
// sensitivity window.
func (d *Debouncer) flushIfElapsed() {
	d.mu.Lock()
	var sum *Summary
	if !d.sessionStart.IsZero() {
		now := d.now()
		if now.Sub(d.sessionStart) >= d.sensitivity {
			s := d.flushLocked(now)
			sum = &s
		}
	}
	d.mu.Unlock()

	if sum != nil {
		d.emit(*sum)
	}
}

// Stop halts the flush loop and emits one final summary if any counters are
// unflushed, so no captured input is silently dropped at shutdown.
func (d *Debouncer) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()

	cancel()
	<-done

	d.mu.Lock()
	var sum *Summary
	if d.keystrokes > 0 || d.clicks > 0 || d.distance > 0 {
		s := d.flushLocked(d.now())
		sum = &s
	}
	d.mu.Unlock()

	if sum != nil {
		d.emit(*sum)
	}
	return nil
}

func (d *Debouncer) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}
