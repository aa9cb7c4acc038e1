// Package sysmon is a System-category sensor that samples host CPU and
// memory pressure and emits an event when a threshold is breached for
// several consecutive samples. Sustained load on a supposedly idle desktop
// is a useful correlation signal.
package sysmon

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/deskwatch/agent/internal/event"
	"github.com/deskwatch/agent/internal/sensor"
)

// breachRuns is how many consecutive over-threshold samples it takes before
// an event is emitted. A single spike is noise.
const breachRuns = 3

// Config tunes the sampling loop.
type Config struct {
	Interval   time.Duration
	CPUPercent float64
	MemPercent float64
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.CPUPercent <= 0 {
		c.CPUPercent = 90
	}
	if c.MemPercent <= 0 {
		c.MemPercent = 95
	}
	return c
}

// New builds the system sensor as a runner-backed service named "sysmon".
func New(cfg Config, emit func(*event.Record)) *sensor.Runner {
	cfg = cfg.withDefaults()
	s := &sampler{cfg: cfg, emit: emit}
	return sensor.NewRunner("sysmon", event.System, s.run)
}

type sampler struct {
	cfg  Config
	emit func(*event.Record)

	cpuRun int
	memRun int
}

func (s *sampler) run(ctx context.Context) {
	// Prime the CPU counters; the first Percent(0) call has no baseline.
	if _, err := cpu.Percent(0, false); err != nil {
		log.Printf("[sysmon] cpu sampling unavailable: %v", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *sampler) sample() {
	if percents, err := cpu.Percent(0, false); err != nil {
		log.Printf("[sysmon] cpu sample error: %v", err)
	} else if len(percents) > 0 {
		s.cpuRun = s.observe(s.cpuRun, percents[0], s.cfg.CPUPercent,
			func(v float64) string {
				return fmt.Sprintf("sustained cpu load %.0f%% (threshold %.0f%%)", v, s.cfg.CPUPercent)
			})
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		log.Printf("[sysmon] memory sample error: %v", err)
	} else {
		s.memRun = s.observe(s.memRun, vm.UsedPercent, s.cfg.MemPercent,
			func(v float64) string {
				return fmt.Sprintf("memory pressure %.0f%% (threshold %.0f%%)", v, s.cfg.MemPercent)
			})
	}
}

// observe advances one breach counter. The event fires exactly once per
// sustained breach, on the sample that reaches breachRuns; recovery resets
// the counter so a later breach fires again.
func (s *sampler) observe(run int, value, threshold float64, describe func(float64) string) int {
	if value < threshold {
		return 0
	}
	run++
	if run == breachRuns {
		s.emit(event.NewRecord(event.System, event.Medium, "sysmon", describe(value)))
	}
	return run
}
