// Package coordinator manages the lifecycle of all registered sensor
// services: parallel fault-isolated start/stop, best-effort restart, and
// aggregate health reads.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deskwatch/agent/internal/event"
	"github.com/deskwatch/agent/internal/metrics"
	"github.com/deskwatch/agent/internal/sensor"
)

// ErrBusy is returned when a StartAll/StopAll is already in progress.
// Attempts are rejected rather than queued to avoid double-initialization.
var ErrBusy = errors.New("coordinator: start/stop already in progress")

// criticalCategories are the sensor categories mandatory for baseline
// coverage. A missing or stopped service in any of them fails the critical
// health check.
var criticalCategories = []event.Category{event.Input, event.Session, event.Login}

// defaultSettleDelay separates the stop and start halves of a restart.
const defaultSettleDelay = 500 * time.Millisecond

// Status is a synchronous snapshot of the registry: total/running counts and
// a per-service running map, read directly from service state, never cached.
type Status struct {
	Total    int             `json:"total"`
	Running  int             `json:"running"`
	Services map[string]bool `json:"services"`
}

// Coordinator owns the service registry under a single mutex. The start/stop
// fan-out itself runs outside the lock so a slow sensor cannot block status
// reads or registration.
type Coordinator struct {
	mu       sync.Mutex
	services map[string]sensor.Service
	order    []string // registration order, for deterministic fan-out logs
	busy     bool

	settleDelay time.Duration
	metrics     *metrics.Metrics
}

// New builds an empty Coordinator. m may be nil to disable metrics.
func New(m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		services:    make(map[string]sensor.Service),
		settleDelay: defaultSettleDelay,
		metrics:     m,
	}
}

// Register adds a service to the registry. Idempotent: a service registered
// under an already-known name is tracked once, keeping the first entry.
func (c *Coordinator) Register(svc sensor.Service) {
	if svc == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	name := svc.Name()
	if _, ok := c.services[name]; ok {
		return
	}
	c.services[name] = svc
	c.order = append(c.order, name)
}

// Service returns the registered service with the given name.
func (c *Coordinator) Service(name string) (sensor.Service, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	svc, ok := c.services[name]
	return svc, ok
}

// StartAll starts every registered service concurrently, one goroutine per
// service, and blocks until all attempts finish or ctx expires. A failure in
// one service is logged and does not prevent the others from starting. If a
// start/stop pass is already in flight, ErrBusy is returned immediately.
//
// When ctx expires the call returns ctx.Err() but the in-flight attempts run
// to completion in the background; a new pass is rejected until they do.
func (c *Coordinator) StartAll(ctx context.Context) error {
	return c.fanOut(ctx, "start", func(svc sensor.Service) error {
		return safeCall(svc.Start)
	})
}

// StopAll stops every registered service concurrently with the same
// semantics as StartAll.
func (c *Coordinator) StopAll(ctx context.Context) error {
	return c.fanOut(ctx, "stop", func(svc sensor.Service) error {
		return safeCall(svc.Stop)
	})
}

func (c *Coordinator) fanOut(ctx context.Context, verb string, op func(sensor.Service) error) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	svcs := make([]sensor.Service, 0, len(c.order))
	for _, name := range c.order {
		svcs = append(svcs, c.services[name])
	}
	c.mu.Unlock()

	var g errgroup.Group
	for _, svc := range svcs {
		g.Go(func() error {
			if err := op(svc); err != nil {
				log.Printf("coordinator: %s %s failed: %v", verb, svc.Name(), err)
				if c.metrics != nil {
					c.metrics.ServiceFailures.WithLabelValues(svc.Name()).Inc()
				}
				return fmt.Errorf("%s %s: %w", verb, svc.Name(), err)
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		err := g.Wait()
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
		done <- err
	}()

	select {
	case <-ctx.Done():
		log.Printf("coordinator: %s all abandoned by caller: %v", verb, ctx.Err())
		return ctx.Err()
	case err := <-done:
		if err != nil {
			log.Printf("coordinator: %s all completed with failures (first: %v)", verb, err)
		}
		return nil
	}
}

// safeCall invokes fn, converting a panic into an error so one faulty sensor
// cannot take down the fan-out.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// GetStatus reads current running state from every registered service.
func (c *Coordinator) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Total:    len(c.order),
		Services: make(map[string]bool, len(c.order)),
	}
	for _, name := range c.order {
		running := c.services[name].IsRunning()
		st.Services[name] = running
		if running {
			st.Running++
		}
	}
	return st
}

// AreCriticalServicesRunning reports whether every critical category has at
// least one running service. Missing categories are logged; the check never
// panics or returns an error.
func (c *Coordinator) AreCriticalServicesRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok := true
	for _, cat := range criticalCategories {
		if !c.categoryRunningLocked(cat) {
			log.Printf("coordinator: critical %s coverage is down", cat)
			ok = false
		}
	}
	return ok
}

// CategoryRunning reports whether any registered service of the given
// category is currently running.
func (c *Coordinator) CategoryRunning(cat event.Category) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.categoryRunningLocked(cat)
}

func (c *Coordinator) categoryRunningLocked(cat event.Category) bool {
	for _, name := range c.order {
		svc := c.services[name]
		if svc.Category() == cat && svc.IsRunning() {
			return true
		}
	}
	return false
}

// ServicesByCategory returns the names of registered services in the given
// category, in registration order.
func (c *Coordinator) ServicesByCategory(cat event.Category) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for _, name := range c.order {
		if c.services[name].Category() == cat {
			names = append(names, name)
		}
	}
	return names
}

// RestartService stops and restarts one named service with a short settling
// delay in between. Restart is best-effort recovery: stop/start failures are
// logged and swallowed. Only an unknown name is an error.
func (c *Coordinator) RestartService(name string) error {
	c.mu.Lock()
	svc, ok := c.services[name]
	settle := c.settleDelay
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("coordinator: unknown service %q", name)
	}

	log.Printf("coordinator: restarting %s", name)
	if c.metrics != nil {
		c.metrics.ServiceRestarts.Inc()
	}
	if err := safeCall(svc.Stop); err != nil {
		log.Printf("coordinator: restart %s: stop failed: %v", name, err)
	}
	time.Sleep(settle)
	if err := safeCall(svc.Start); err != nil {
		log.Printf("coordinator: restart %s: start failed: %v", name, err)
		if c.metrics != nil {
			c.metrics.ServiceFailures.WithLabelValues(name).Inc()
		}
	}
	return nil
}
