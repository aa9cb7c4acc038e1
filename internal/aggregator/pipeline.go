package aggregator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/deskwatch/agent/internal/event"
	"github.com/deskwatch/agent/internal/metrics"
)

// dropLogInterval throttles backpressure logging so a sustained flood
// doesn't itself flood the log.
const dropLogInterval = 10 * time.Second

// Pipeline decouples sensor capture threads from aggregator processing.
// Sensors Publish without blocking; a single Run goroutine drains the
// buffered channel into ProcessEvent, preserving per-sensor submission
// order. Under sustained backpressure events are dropped and counted.
type Pipeline struct {
	agg    *Aggregator
	events chan *event.Record

	mu          sync.Mutex
	dropped     int64
	lastDropLog time.Time

	metrics *metrics.Metrics
}

// NewPipeline builds a pipeline with the given intake buffer size.
func NewPipeline(agg *Aggregator, buffer int, m *metrics.Metrics) *Pipeline {
	if buffer <= 0 {
		buffer = 256
	}
	return &Pipeline{
		agg:     agg,
		events:  make(chan *event.Record, buffer),
		metrics: m,
	}
}

// Publish hands a record to the aggregator without blocking the caller.
// Dropped records are counted and logged at most once per dropLogInterval.
func (p *Pipeline) Publish(rec *event.Record) {
	if rec == nil {
		return
	}
	select {
	case p.events <- rec:
	default:
		if p.metrics != nil {
			p.metrics.EventsDropped.Inc()
		}
		p.mu.Lock()
		p.dropped++
		now := time.Now()
		if p.lastDropLog.IsZero() || now.Sub(p.lastDropLog) >= dropLogInterval {
			log.Printf("pipeline: %d events dropped (intake full)", p.dropped)
			p.dropped = 0
			p.lastDropLog = now
		}
		p.mu.Unlock()
	}
}

// Run drains the intake channel until ctx is cancelled, then processes
// whatever is still buffered before returning so shutdown does not silently
// discard captured activity.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case rec := <-p.events:
					p.agg.ProcessEvent(rec)
				default:
					return
				}
			}
		case rec := <-p.events:
			p.agg.ProcessEvent(rec)
		}
	}
}
