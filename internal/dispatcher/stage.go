// Package dispatcher implements the pip dispatcher queue (C5): a
// multi-queue priority dispatcher that admits runnable pips through a
// sequence of named stages, each with its own FIFO queue and an
// adjustable parallel degree.
//
// The admission loop generalizes the worker-pool shape in spok's
// hash.Concurrent.Hash (jobs channel, bounded worker count, WaitGroup) from
// a single pool of identical workers to N independently-throttled named
// stages feeding into a shared "something changed" signal.
package dispatcher

import (
	"sync"
	"sync/atomic"

	"github.com/forgecore/forge/internal/pip"
)

// StageName is one of the recognized pipeline stages (§4.3 table).
type StageName string

const (
	StageIO                      StageName = "IO"
	StageDelayedCacheLookup      StageName = "DelayedCacheLookup"
	StageChooseWorkerCacheLookup StageName = "ChooseWorkerCacheLookup"
	StageChooseWorkerCpu         StageName = "ChooseWorkerCpu"
	StageChooseWorkerLight       StageName = "ChooseWorkerLight"
	StageChooseWorkerIpc         StageName = "ChooseWorkerIpc"
	StageCacheLookup             StageName = "CacheLookup"
	StageCPU                     StageName = "CPU"
	StageMaterialize             StageName = "Materialize"
	StageLight                   StageName = "Light"
	StageIpcPips                 StageName = "IpcPips"
)

// AllStages lists every recognized stage in pipeline order. Order here is
// cosmetic (for status reporting); admission order across stages is not
// guaranteed, per §5.
var AllStages = []StageName{
	StageIO,
	StageDelayedCacheLookup,
	StageChooseWorkerCacheLookup,
	StageChooseWorkerCpu,
	StageChooseWorkerLight,
	StageChooseWorkerIpc,
	StageCacheLookup,
	StageCPU,
	StageMaterialize,
	StageLight,
	StageIpcPips,
}

// isChooseWorkerFamily reports whether a stage belongs to the
// "ChooseWorker*" family, the only stages §4.3 permits a max parallel
// degree of 0 on.
func isChooseWorkerFamily(name StageName) bool {
	switch name {
	case StageChooseWorkerCacheLookup, StageChooseWorkerCpu, StageChooseWorkerLight, StageChooseWorkerIpc:
		return true
	default:
		return false
	}
}

// Handler runs a single pip through one stage and reports where it should
// go next. next is ignored when terminal is true.
type Handler func(p *pip.RunnablePip) (next StageName, terminal bool, err error)

// stage is one named FIFO queue with its own parallel degree.
type stage struct {
	name        StageName
	mu          sync.Mutex
	queue       []*pip.RunnablePip
	maxParallel int64 // atomic
	running     int64 // atomic
	cancelled   bool
}

func newStage(name StageName, initialMax int) *stage {
	return &stage{name: name, maxParallel: int64(initialMax)}
}

// enqueue appends p to the stage's FIFO queue. Silently drops p if the
// stage (or dispatcher) has been cancelled, per §4.3 "enqueue" semantics.
func (s *stage) enqueue(p *pip.RunnablePip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.queue = append(s.queue, p)
}

// slack returns how many more pips this stage may admit right now.
func (s *stage) slack() int {
	max := atomic.LoadInt64(&s.maxParallel)
	running := atomic.LoadInt64(&s.running)
	n := max - running
	if n < 0 {
		return 0
	}
	return int(n)
}

// admit pops up to n queued pips for the caller to start running.
func (s *stage) admit(n int) []*pip.RunnablePip {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.queue) {
		n = len(s.queue)
	}
	if n <= 0 {
		return nil
	}
	admitted := s.queue[:n]
	s.queue = s.queue[n:]
	atomic.AddInt64(&s.running, int64(n))
	return admitted
}

func (s *stage) finishOne() {
	atomic.AddInt64(&s.running, -1)
}

func (s *stage) setMaxParallelDegree(n int) int {
	if n < 0 {
		n = 0
	}
	if n == 0 && !isChooseWorkerFamily(s.name) {
		n = 1
	}
	atomic.StoreInt64(&s.maxParallel, int64(n))
	return n
}

func (s *stage) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.queue = nil
}

func (s *stage) numQueuedOrRunning() int {
	s.mu.Lock()
	queued := len(s.queue)
	s.mu.Unlock()
	return queued + int(atomic.LoadInt64(&s.running))
}

func (s *stage) isEmpty() bool {
	return s.numQueuedOrRunning() == 0
}
