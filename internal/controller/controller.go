// Package controller translates session-state transitions into sensor
// activation policy and exposes the unified monitoring status.
package controller

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/deskwatch/agent/internal/coordinator"
	"github.com/deskwatch/agent/internal/event"
)

// Publisher feeds session-context records into the event pipeline so the
// aggregator's correlation heuristics can see session churn.
type Publisher interface {
	Publish(rec *event.Record)
}

// Status is the derived, read-only monitoring snapshot shared with external
// observers. It is a value; once computed it is safe to read without locks.
type Status struct {
	SessionState event.SessionState `json:"sessionState"`
	// Sensors maps sensor category name to whether any service of that
	// category is currently running.
	Sensors        map[string]bool `json:"sensors"`
	CriticalActive bool            `json:"criticalActive"`
	ComputedAt     time.Time       `json:"computedAt"`
}

// statusCategories are the categories surfaced in the per-category flags.
var statusCategories = []event.Category{
	event.Input,
	event.Login,
	event.Camera,
	event.Session,
	event.System,
	event.USB,
}

// Controller tracks the current session state and drives the coordinator on
// every transition. Notifications may arrive out of order; transitions older
// than the last applied one are dropped by timestamp comparison.
type Controller struct {
	coord *coordinator.Coordinator
	pub   Publisher

	mu         sync.Mutex
	state      event.SessionState
	lastChange time.Time
	notify     func(Status)

	// applyMu serializes the sensor start/stop phase. Each pass acts on
	// the latest applied state, not the notification that triggered it,
	// so two near-simultaneous notifications cannot interleave their
	// actions and leave sensor state trailing the session state.
	applyMu sync.Mutex
}

// New builds a Controller starting in the Unlocked state. pub may be nil to
// skip publishing session context events.
func New(coord *coordinator.Coordinator, pub Publisher) *Controller {
	return &Controller{
		coord: coord,
		pub:   pub,
		state: event.Unlocked,
	}
}

// SetNotify registers the status-changed hook, invoked after every applied
// transition with the freshly computed status. Must be set before the first
// HandleSessionChange.
func (c *Controller) SetNotify(fn func(Status)) {
	c.notify = fn
}

// CurrentState returns the session state the controller last applied.
func (c *Controller) CurrentState() event.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandleSessionChange applies one notification from the session notifier.
// Safe for concurrent calls; stale notifications (timestamp older than the
// last applied transition) are ignored.
func (c *Controller) HandleSessionChange(ch event.SessionChange) {
	ts := ch.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	c.mu.Lock()
	if !c.lastChange.IsZero() && ts.Before(c.lastChange) {
		c.mu.Unlock()
		log.Printf("controller: ignoring stale session change to %s (ts %s < %s)",
			ch.NewState, ts.Format(time.RFC3339), c.lastChange.Format(time.RFC3339))
		return
	}
	prev := c.state
	c.state = ch.NewState
	c.lastChange = ts
	c.mu.Unlock()

	log.Printf("controller: session %s → %s", prev, ch.NewState)
	c.publishTransition(prev, ch)
	c.applyState()

	st := c.GetMonitoringStatus()
	if c.notify != nil {
		c.notify(st)
	}
}

// applyState brings sensor activation in line with the latest applied
// session state. Passes are serialized; a pass that was overtaken by a newer
// notification re-reads the state under applyMu and acts on the newer value,
// so the final pass always reflects the final state.
func (c *Controller) applyState() {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	switch c.CurrentState() {
	case event.Locked:
		// Camera capture is restricted while the session is locked;
		// input and session/login sensors keep running.
		c.stopCategory(event.Camera)
		log.Printf("controller: background monitoring active (session locked)")
		if c.pub != nil {
			c.pub.Publish(event.NewRecord(event.BackgroundMonitoring, event.Info, "controller",
				"background monitoring active (camera suspended)"))
		}
	case event.Unlocked:
		c.startCategory(event.Camera)
		c.EnsureContinuousMonitoring()
	case event.RemoteConnect, event.RemoteDisconnect, event.Logon, event.Logoff:
		// Context for correlation only; no sensor toggling.
	}
}

// publishTransition records the transition as a Session event so the
// aggregator's session-churn correlation can count it.
func (c *Controller) publishTransition(prev event.SessionState, ch event.SessionChange) {
	if c.pub == nil {
		return
	}
	sev := event.Info
	if ch.NewState == event.Locked || ch.NewState == event.Unlocked {
		sev = event.Low
	}
	desc := fmt.Sprintf("session %s → %s", prev, ch.NewState)
	if ch.Context != "" {
		desc += " (" + ch.Context + ")"
	}
	rec := event.NewRecord(event.Session, sev, "session", desc)
	if !ch.Timestamp.IsZero() {
		rec.Timestamp = ch.Timestamp
	}
	c.pub.Publish(rec)
}

func (c *Controller) stopCategory(cat event.Category) {
	for _, name := range c.coord.ServicesByCategory(cat) {
		svc, ok := c.coord.Service(name)
		if !ok {
			continue
		}
		if err := svc.Stop(); err != nil {
			log.Printf("controller: stop %s failed: %v", name, err)
		}
	}
}

func (c *Controller) startCategory(cat event.Category) {
	for _, name := range c.coord.ServicesByCategory(cat) {
		svc, ok := c.coord.Service(name)
		if !ok || svc.IsRunning() {
			continue
		}
		if err := svc.Start(); err != nil {
			// Degraded partial monitoring beats total shutdown: the
			// failure surfaces through the status snapshot only.
			log.Printf("controller: start %s failed: %v", name, err)
		}
	}
}

// EnsureContinuousMonitoring reconciles the desired active set against the
// coordinator's actual state, issuing one restart attempt per inactive
// critical service. Idempotent: when everything is already consistent it has
// no side effects, so it is safe to call periodically or on suspected drift.
func (c *Controller) EnsureContinuousMonitoring() {
	for _, cat := range []event.Category{event.Input, event.Session, event.Login} {
		if c.coord.CategoryRunning(cat) {
			continue
		}
		for _, name := range c.coord.ServicesByCategory(cat) {
			svc, ok := c.coord.Service(name)
			if !ok || svc.IsRunning() {
				continue
			}
			if err := c.coord.RestartService(name); err != nil {
				log.Printf("controller: reconcile %s: %v", name, err)
			}
		}
	}
}

// GetMonitoringStatus computes a fresh status snapshot. Only categories with
// at least one registered service appear in the per-category map.
func (c *Controller) GetMonitoringStatus() Status {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	sensors := make(map[string]bool)
	for _, cat := range statusCategories {
		if len(c.coord.ServicesByCategory(cat)) == 0 {
			continue
		}
		sensors[cat.String()] = c.coord.CategoryRunning(cat)
	}

	return Status{
		SessionState:   state,
		Sensors:        sensors,
		CriticalActive: c.coord.AreCriticalServicesRunning(),
		ComputedAt:     time.Now(),
	}
}
