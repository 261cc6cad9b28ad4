package iso

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ardnew/isostream/host/hal"
	"github.com/ardnew/isostream/pkg"
	"github.com/ardnew/isostream/pkg/metrics"
)

var _ metrics.Provider = (*Pump)(nil)

// PumpStats is a snapshot of pump counters.
type PumpStats struct {
	Iterations uint64 // HandleEvents calls returned
	Errors     uint64 // HandleEvents calls that returned an error
}

// Pump drives native completion processing on a dedicated goroutine for the
// rest of the process lifetime. There is no way to stop it.
type Pump struct {
	events  hal.EventHandler
	timeout time.Duration

	started    atomic.Bool
	iterations atomic.Uint64
	errors     atomic.Uint64
}

// NewPump creates a pump that calls events.HandleEvents with timeout. A
// non-positive timeout selects DefaultEventTimeout.
func NewPump(events hal.EventHandler, timeout time.Duration) *Pump {
	if timeout <= 0 {
		timeout = DefaultEventTimeout
	}
	return &Pump{events: events, timeout: timeout}
}

// Start launches the pump goroutine. A second call returns
// [pkg.ErrAlreadyRunning].
func (p *Pump) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return pkg.ErrAlreadyRunning
	}
	go p.loop()
	return nil
}

// Stats returns a snapshot of the pump counters.
func (p *Pump) Stats() PumpStats {
	return PumpStats{
		Iterations: p.iterations.Load(),
		Errors:     p.errors.Load(),
	}
}

func (p *Pump) loop() {
	// Completion callbacks run here; keep them on one OS thread.
	runtime.LockOSThread()

	pkg.LogDebug(pkg.ComponentPump, "event pump started", "timeout", p.timeout)
	for {
		if err := p.events.HandleEvents(p.timeout); err != nil {
			p.errors.Add(1)
			pkg.LogWarn(pkg.ComponentPump, "event handling failed", "error", err)
		}
		p.iterations.Add(1)
	}
}

// Metrics returns the pump counters as metric sources.
func (p *Pump) Metrics() []metrics.Source {
	return []metrics.Source{
		metrics.Counter("iterations_total", "Event handling iterations.",
			func() float64 { return float64(p.iterations.Load()) }),
		metrics.Counter("errors_total", "Event handling iterations that failed.",
			func() float64 { return float64(p.errors.Load()) }),
	}
}
