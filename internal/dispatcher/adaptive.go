package dispatcher

import "sync/atomic"

// PerfSnapshot is a point-in-time machine resource reading used to tune
// the adaptive IO stage (§4.3 "Adaptive IO").
type PerfSnapshot struct {
	CPUPercent  float64
	RAMPercent  float64
	DiskPercent map[string]float64 // per-disk utilization
}

func (s PerfSnapshot) maxDiskPercent() float64 {
	max := 0.0
	for _, v := range s.DiskPercent {
		if v > max {
			max = v
		}
	}
	return max
}

// AdaptiveConfig parameterizes the IO stage's adaptive tuning.
type AdaptiveConfig struct {
	ConfiguredMax int
	Sampler       func() PerfSnapshot
}

// adaptiveController tracks the IO stage's current max and the running
// count needed to evaluate the "running >= 80% of current-max" rule.
type adaptiveController struct {
	cfg        AdaptiveConfig
	currentMax int
	ioStage    *stage
}

func newAdaptiveController(cfg AdaptiveConfig) *adaptiveController {
	current := cfg.ConfiguredMax / 2
	if current < 1 {
		current = 1
	}
	return &adaptiveController{cfg: cfg, currentMax: current}
}

func (a *adaptiveController) sample() PerfSnapshot {
	if a.cfg.Sampler == nil {
		return PerfSnapshot{}
	}
	return a.cfg.Sampler()
}

// tick applies the §4.3 rules and returns the new current-max for the IO
// stage, if it changed. Running fraction is read off the stage this
// controller is bound to by bindStage.
func (a *adaptiveController) tick(snapshot PerfSnapshot) (int, bool) {
	next := NextIOMax(snapshot, a.currentMax, a.cfg.ConfiguredMax, a.runningFraction())
	if next == a.currentMax {
		return a.currentMax, false
	}
	a.currentMax = next
	return a.currentMax, true
}

func (a *adaptiveController) runningFraction() float64 {
	if a.ioStage == nil || a.currentMax == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&a.ioStage.running)) / float64(a.currentMax)
}

// NextIOMax is the pure decision function behind the adaptive IO stage,
// factored out so the two §4.3 rules are independently unit-testable:
//
//   - if cpu/ram/every-disk < 90% AND running >= 80% of currentMax AND
//     currentMax < configuredMax: raise to (configuredMax+currentMax+1)/2.
//   - if any disk > 95%: halve currentMax (rounded up).
//
// The halve-on-disk-pressure rule takes precedence when both could fire.
func NextIOMax(snapshot PerfSnapshot, currentMax, configuredMax int, runningFraction float64) int {
	if snapshot.maxDiskPercent() > 95 {
		return (currentMax + 1) / 2
	}
	underPressure := snapshot.CPUPercent >= 90 || snapshot.RAMPercent >= 90 || snapshot.maxDiskPercent() >= 90
	if !underPressure && runningFraction >= 0.8 && currentMax < configuredMax {
		return (configuredMax + currentMax + 1) / 2
	}
	return currentMax
}

// DelayedCacheLookupThrottle implements the §4.3 "Delayed cache-lookup
// throttling" rule as a pure function: given the current queued-process
// count on ChooseWorkerCpu, the configured total process slots, and the
// min/max multipliers, decide whether the DelayedCacheLookup stage should
// be paused (degree 0) or resumed (degree 1).
type DelayedCacheLookupThrottle struct {
	TotalProcessSlots int
	MaxMultiplier     float64
	MinMultiplier     float64
	paused            bool
}

// Evaluate returns the degree DelayedCacheLookup should be set to, given
// the current queued-on-ChooseWorkerCpu count. It is stateful only in
// that it remembers whether it is currently paused, matching the spec's
// hysteresis ("resumed when they fall below the min multiplier").
func (t *DelayedCacheLookupThrottle) Evaluate(queuedOnChooseWorkerCpu int) int {
	high := float64(t.TotalProcessSlots) * t.MaxMultiplier
	low := float64(t.TotalProcessSlots) * t.MinMultiplier
	switch {
	case !t.paused && float64(queuedOnChooseWorkerCpu) > high:
		t.paused = true
	case t.paused && float64(queuedOnChooseWorkerCpu) < low:
		t.paused = false
	}
	if t.paused {
		return 0
	}
	return 1
}
