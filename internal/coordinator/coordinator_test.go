package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deskwatch/agent/internal/event"
	"github.com/deskwatch/agent/internal/sensor"
)

// fakeService is a controllable Service for lifecycle tests.
type fakeService struct {
	name     string
	category event.Category

	mu         sync.Mutex
	running    bool
	starts     int
	stops      int
	startErr   error
	startBlock chan struct{} // when non-nil, Start blocks until closed
	startPanic bool
}

func (f *fakeService) Name() string             { return f.name }
func (f *fakeService) Category() event.Category { return f.category }

func (f *fakeService) Start() error {
	f.mu.Lock()
	block := f.startBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.startPanic {
		panic("sensor wiring fault")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeService) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
	return nil
}

func (f *fakeService) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeService) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func newFake(name string, cat event.Category) *fakeService {
	return &fakeService{name: name, category: cat}
}

func TestRegisterIdempotent(t *testing.T) {
	c := New(nil)
	first := newFake("input", event.Input)
	second := newFake("input", event.Input)

	c.Register(first)
	c.Register(second)
	c.Register(nil)

	st := c.GetStatus()
	if st.Total != 1 {
		t.Fatalf("Total = %d, want 1", st.Total)
	}
	got, ok := c.Service("input")
	if !ok {
		t.Fatal("Service(input) not found")
	}
	if got != sensor.Service(first) {
		t.Error("re-registration replaced the first entry")
	}
}

func TestStartAllStartsEverything(t *testing.T) {
	c := New(nil)
	svcs := []*fakeService{
		newFake("input", event.Input),
		newFake("session", event.Session),
		newFake("login", event.Login),
	}
	for _, s := range svcs {
		c.Register(s)
	}

	if err := c.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	for _, s := range svcs {
		if !s.IsRunning() {
			t.Errorf("%s not running after StartAll", s.name)
		}
	}
	st := c.GetStatus()
	if st.Running != 3 {
		t.Errorf("Running = %d, want 3", st.Running)
	}
}

func TestStartAllIsolatesFailure(t *testing.T) {
	c := New(nil)
	good := newFake("input", event.Input)
	bad := newFake("camera", event.Camera)
	bad.startErr = errors.New("no camera present")
	alsoGood := newFake("login", event.Login)
	c.Register(good)
	c.Register(bad)
	c.Register(alsoGood)

	// A failed sensor never aborts the others; StartAll reports success.
	if err := c.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	if !good.IsRunning() || !alsoGood.IsRunning() {
		t.Error("healthy services not running after one failure")
	}
	if bad.IsRunning() {
		t.Error("failed service reports running")
	}
}

func TestStartAllIsolatesPanic(t *testing.T) {
	c := New(nil)
	good := newFake("input", event.Input)
	faulty := newFake("camera", event.Camera)
	faulty.startPanic = true
	c.Register(good)
	c.Register(faulty)

	if err := c.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if !good.IsRunning() {
		t.Error("healthy service not running after sibling panic")
	}
}

func TestStopAllStopsEverything(t *testing.T) {
	c := New(nil)
	broken := newFake("camera", event.Camera)
	broken.startErr = errors.New("no camera present")
	svcs := []*fakeService{
		newFake("input", event.Input),
		newFake("session", event.Session),
		broken,
	}
	for _, s := range svcs {
		c.Register(s)
	}

	if err := c.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if err := c.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}

	for _, s := range svcs {
		if s.IsRunning() {
			t.Errorf("%s still running after StopAll", s.name)
		}
	}
	if st := c.GetStatus(); st.Running != 0 {
		t.Errorf("Running = %d, want 0", st.Running)
	}
}

func TestConcurrentStartRejected(t *testing.T) {
	c := New(nil)
	slow := newFake("input", event.Input)
	release := make(chan struct{})
	slow.startBlock = release
	c.Register(slow)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- c.StartAll(context.Background())
	}()

	// Wait until the first pass holds the busy flag.
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.busy
	})

	if err := c.StartAll(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent StartAll = %v, want ErrBusy", err)
	}
	if err := c.StopAll(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent StopAll = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first StartAll: %v", err)
	}

	// The flag clears once the pass completes.
	if err := c.StopAll(context.Background()); err != nil {
		t.Errorf("StopAll after completion: %v", err)
	}
}

func TestStartAllHonorsContextDeadline(t *testing.T) {
	c := New(nil)
	slow := newFake("input", event.Input)
	release := make(chan struct{})
	slow.startBlock = release
	c.Register(slow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.StartAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("StartAll = %v, want context.Canceled", err)
	}

	// The abandoned attempt still runs to completion in the background and
	// the slot frees up afterwards.
	close(release)
	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.busy
	})
	if !slow.IsRunning() {
		t.Error("abandoned start attempt did not complete")
	}
}

func TestGetStatusReflectsLiveState(t *testing.T) {
	c := New(nil)
	a := newFake("input", event.Input)
	b := newFake("camera", event.Camera)
	c.Register(a)
	c.Register(b)

	a.Start()

	st := c.GetStatus()
	if st.Total != 2 || st.Running != 1 {
		t.Errorf("Total/Running = %d/%d, want 2/1", st.Total, st.Running)
	}
	if !st.Services["input"] || st.Services["camera"] {
		t.Errorf("Services = %v", st.Services)
	}

	// Direct state changes show up without any coordinator call in between.
	a.Stop()
	if st := c.GetStatus(); st.Running != 0 {
		t.Errorf("Running after direct stop = %d, want 0", st.Running)
	}
}

func TestAreCriticalServicesRunning(t *testing.T) {
	c := New(nil)
	input := newFake("input", event.Input)
	session := newFake("session", event.Session)
	login := newFake("login", event.Login)
	camera := newFake("camera", event.Camera)
	for _, s := range []*fakeService{input, session, login, camera} {
		c.Register(s)
		s.Start()
	}

	if !c.AreCriticalServicesRunning() {
		t.Fatal("critical check failed with all services running")
	}

	// Camera is not critical.
	camera.Stop()
	if !c.AreCriticalServicesRunning() {
		t.Error("critical check failed after non-critical stop")
	}

	login.Stop()
	if c.AreCriticalServicesRunning() {
		t.Error("critical check passed with login coverage down")
	}
}

func TestAreCriticalServicesRunningMissingCategory(t *testing.T) {
	c := New(nil)
	input := newFake("input", event.Input)
	c.Register(input)
	input.Start()

	// No session or login services registered at all.
	if c.AreCriticalServicesRunning() {
		t.Error("critical check passed with categories missing entirely")
	}
}

func TestCategoryRunningAnyOf(t *testing.T) {
	c := New(nil)
	primary := newFake("camera-front", event.Camera)
	backup := newFake("camera-rear", event.Camera)
	c.Register(primary)
	c.Register(backup)

	if c.CategoryRunning(event.Camera) {
		t.Error("category reported running with all services stopped")
	}
	backup.Start()
	if !c.CategoryRunning(event.Camera) {
		t.Error("category not reported running with one service up")
	}
}

func TestServicesByCategoryOrder(t *testing.T) {
	c := New(nil)
	c.Register(newFake("camera-front", event.Camera))
	c.Register(newFake("input", event.Input))
	c.Register(newFake("camera-rear", event.Camera))

	got := c.ServicesByCategory(event.Camera)
	want := []string{"camera-front", "camera-rear"}
	if len(got) != len(want) {
		t.Fatalf("ServicesByCategory = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ServicesByCategory[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRestartService(t *testing.T) {
	c := New(nil)
	c.settleDelay = time.Millisecond
	svc := newFake("input", event.Input)
	c.Register(svc)
	svc.Start()

	if err := c.RestartService("input"); err != nil {
		t.Fatalf("RestartService: %v", err)
	}
	if !svc.IsRunning() {
		t.Error("service not running after restart")
	}
	svc.mu.Lock()
	starts, stops := svc.starts, svc.stops
	svc.mu.Unlock()
	if starts != 2 || stops != 1 {
		t.Errorf("starts/stops = %d/%d, want 2/1", starts, stops)
	}
}

func TestRestartServiceUnknown(t *testing.T) {
	c := New(nil)
	if err := c.RestartService("ghost"); err == nil {
		t.Error("RestartService for unknown name returned nil")
	}
}

func TestRestartServiceSwallowsStartFailure(t *testing.T) {
	c := New(nil)
	c.settleDelay = time.Millisecond
	svc := newFake("camera", event.Camera)
	svc.startErr = errors.New("device busy")
	c.Register(svc)

	// Best-effort: the start failure is logged, not returned.
	if err := c.RestartService("camera"); err != nil {
		t.Errorf("RestartService = %v, want nil", err)
	}
	if svc.startCount() != 1 {
		t.Errorf("starts = %d, want 1", svc.startCount())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestStatusUnderConcurrentLifecycle(t *testing.T) {
	c := New(nil)
	c.settleDelay = 0
	for i := 0; i < 5; i++ {
		c.Register(newFake(fmt.Sprintf("s%d", i), event.System))
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.StartAll(context.Background())
			c.StopAll(context.Background())
		}()
		go func() {
			defer wg.Done()
			c.GetStatus()
			c.CategoryRunning(event.System)
			c.RestartService("s0")
		}()
	}
	wg.Wait()
}
