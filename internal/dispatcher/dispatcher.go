package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgecore/forge/internal/logging"
	"github.com/forgecore/forge/internal/pip"
)

// Config is the per-stage initial configuration (§4.3 table "Default"
// column). Stages left unset default to a parallel degree of 1.
type Config struct {
	InitialMaxParallel map[StageName]int
	Handlers           map[StageName]Handler
	TickInterval       time.Duration
	Adaptive           *AdaptiveConfig
	Logger             logging.Logger
}

// Dispatcher admits runnable pips through named stages subject to
// per-stage concurrency limits, per §4.3.
type Dispatcher struct {
	stages   map[StageName]*stage
	handlers map[StageName]Handler

	mu        sync.Mutex
	changed   chan struct{}
	finalized bool
	cancelled bool

	tickInterval time.Duration
	adaptive     *adaptiveController
	logger       logging.Logger

	wg sync.WaitGroup
}

// New constructs a Dispatcher with one queue per recognized stage.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		stages:       make(map[StageName]*stage, len(AllStages)),
		handlers:     cfg.Handlers,
		changed:      make(chan struct{}, 1),
		tickInterval: cfg.TickInterval,
		logger:       cfg.Logger,
	}
	if d.tickInterval <= 0 {
		d.tickInterval = time.Second
	}
	if d.logger == nil {
		d.logger = logging.Noop()
	}
	for _, name := range AllStages {
		initial := 1
		if n, ok := cfg.InitialMaxParallel[name]; ok {
			initial = n
		}
		d.stages[name] = newStage(name, initial)
	}
	if cfg.Adaptive != nil {
		d.adaptive = newAdaptiveController(*cfg.Adaptive)
		d.adaptive.ioStage = d.stages[StageIO]
	}
	return d
}

// Enqueue appends p to stage's FIFO queue and wakes the drain loop.
// Silently dropped if the dispatcher has been cancelled (§4.3).
func (d *Dispatcher) Enqueue(name StageName, p *pip.RunnablePip) {
	s, ok := d.stages[name]
	if !ok {
		return
	}
	p.TransitionTo(pip.Stage(name))
	s.enqueue(p)
	d.Trigger()
}

// SetMaxParallelDegree atomically updates a stage's parallel degree. n=0
// is only honored for the ChooseWorker* family; any other stage clamps a
// requested 0 up to 1, per §4.3 and the §8 testable property.
func (d *Dispatcher) SetMaxParallelDegree(name StageName, n int) error {
	s, ok := d.stages[name]
	if !ok {
		return fmt.Errorf("dispatcher: unknown stage %q", name)
	}
	applied := s.setMaxParallelDegree(n)
	if applied != n {
		d.logger.Debug("stage %s: clamped requested degree %d up to %d", name, n, applied)
	}
	d.Trigger()
	return nil
}

// Trigger wakes the drain loop without blocking.
func (d *Dispatcher) Trigger() {
	select {
	case d.changed <- struct{}{}:
	default:
	}
}

// SetFinalized records that no further external enqueues will occur; once
// every queue drains, Drain returns.
func (d *Dispatcher) SetFinalized() {
	d.mu.Lock()
	d.finalized = true
	d.mu.Unlock()
	d.Trigger()
}

// Cancel refuses new enqueues, drops everything still queued, and blocks
// until every currently-running pip has finished.
func (d *Dispatcher) Cancel() {
	d.mu.Lock()
	d.cancelled = true
	d.mu.Unlock()
	for _, s := range d.stages {
		s.cancel()
	}
	d.Trigger()
	d.wg.Wait()
}

// NumRunningOrQueued sums queued+running pips across every stage.
func (d *Dispatcher) NumRunningOrQueued() int {
	total := 0
	for _, s := range d.stages {
		total += s.numQueuedOrRunning()
	}
	return total
}

func (d *Dispatcher) allEmpty() bool {
	for _, s := range d.stages {
		if !s.isEmpty() {
			return false
		}
	}
	return true
}

func (d *Dispatcher) isFinished() bool {
	d.mu.Lock()
	finalized := d.finalized
	cancelled := d.cancelled
	d.mu.Unlock()
	if cancelled {
		return d.NumRunningOrQueued() == 0
	}
	return finalized && d.allEmpty()
}

// Drain is the master admission loop: while not finished, it tunes the
// adaptive IO stage off the most recent perf snapshot, starts as many
// queued pips per stage as current slack permits, then waits on the
// change signal, a tick, or ctx cancellation.
func (d *Dispatcher) Drain(ctx context.Context) error {
	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	for {
		if d.isFinished() {
			return nil
		}

		if d.adaptive != nil {
			if newMax, ok := d.adaptive.tick(d.snapshotForAdaptive()); ok {
				_ = d.SetMaxParallelDegree(StageIO, newMax)
			}
		}

		startedAny := d.admitAll(ctx)

		if d.isFinished() {
			return nil
		}
		if startedAny {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.changed:
		case <-ticker.C:
		}
	}
}

// snapshotForAdaptive is split out so tests can stub perf sampling without
// a real /proc read; see adaptive.go.
func (d *Dispatcher) snapshotForAdaptive() PerfSnapshot {
	if d.adaptive == nil {
		return PerfSnapshot{}
	}
	return d.adaptive.sample()
}

func (d *Dispatcher) admitAll(ctx context.Context) bool {
	d.mu.Lock()
	cancelled := d.cancelled
	d.mu.Unlock()
	if cancelled {
		return false
	}

	startedAny := false
	for name, s := range d.stages {
		handler, ok := d.handlers[name]
		if !ok {
			continue
		}
		admitted := s.admit(s.slack())
		if len(admitted) == 0 {
			continue
		}
		startedAny = true
		for _, p := range admitted {
			d.wg.Add(1)
			go d.run(ctx, s, handler, p)
		}
	}
	return startedAny
}

func (d *Dispatcher) run(ctx context.Context, s *stage, handler Handler, p *pip.RunnablePip) {
	defer d.wg.Done()
	defer s.finishOne()
	defer d.Trigger()

	p.MarkRunning()
	next, terminal, err := handler(p)
	if err != nil {
		d.logger.Debug("pip %s failed in stage %s: %v", p.ID, s.name, err)
		p.Finish(pip.Failed)
		return
	}
	if terminal {
		p.Finish(pip.Completed)
		return
	}
	d.Enqueue(next, p)
}
