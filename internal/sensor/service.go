// Package sensor defines the contract the engine expects from every sensor
// service and a small lifecycle helper for building loop-based sensors.
package sensor

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/deskwatch/agent/internal/event"
)

// Service is a single sensor managed by the coordinator. Implementations
// capture one kind of activity (input hooks, camera motion, login attempts,
// session changes, system load) and emit normalized records while running.
//
// Start and Stop may be called from coordinator fan-out goroutines;
// implementations must be safe for concurrent use and IsRunning must reflect
// the outcome of the most recent Start/Stop call.
type Service interface {
	// Name returns a short lowercase identifier, e.g. "input", "camera".
	// Used as the registry key and surfaced in status snapshots.
	Name() string

	// Category is the event category this sensor produces. The coordinator
	// uses it to evaluate critical coverage and the controller uses it to
	// decide which sensors a session state allows.
	Category() event.Category

	Start() error
	Stop() error
	IsRunning() bool
}

// Runner adapts a run loop into a Service. Start launches the loop on its
// own goroutine; Stop cancels the loop's context and waits for it to return.
// A panic escaping the loop is recovered and logged, and the runner reports
// not running afterwards.
type Runner struct {
	name     string
	category event.Category
	run      func(ctx context.Context)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewRunner builds a Runner for the given loop. The loop must return promptly
// once its context is cancelled.
func NewRunner(name string, cat event.Category, run func(ctx context.Context)) *Runner {
	return &Runner{name: name, category: cat, run: run}
}

func (r *Runner) Name() string             { return r.name }
func (r *Runner) Category() event.Category { return r.category }

func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.running = true

	go func() {
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[%s] sensor loop panic: %v", r.name, rec)
				r.mu.Lock()
				r.running = false
				r.mu.Unlock()
			}
		}()
		r.run(ctx)
	}()
	return nil
}

func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	done := r.done
	r.running = false
	r.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Failing wraps a Service name/category pair whose Start always fails.
// Used in tests and as a placeholder for sensors missing a host capability
// (e.g. no camera present) so status snapshots still account for them.
type Failing struct {
	ServiceName     string
	ServiceCategory event.Category
	Err             error
}

func (f *Failing) Name() string             { return f.ServiceName }
func (f *Failing) Category() event.Category { return f.ServiceCategory }
func (f *Failing) IsRunning() bool          { return false }
func (f *Failing) Stop() error              { return nil }

func (f *Failing) Start() error {
	if f.Err != nil {
		return f.Err
	}
	return fmt.Errorf("%s: sensor unavailable", f.ServiceName)
}
