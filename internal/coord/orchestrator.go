package coord

import (
	"errors"
	"sync"

	"github.com/forgecore/forge/internal/logging"
	"github.com/forgecore/forge/internal/pip"
)

// ErrHelloNoSlot is returned when a Hello names a location that matches no
// configured static slot and no free dynamic slot remains
// ("DistributionHelloNoSlot", §8 scenario 5).
var ErrHelloNoSlot = errors.New("coord: hello matched no static or dynamic worker slot")

// Orchestrator owns the set of remote worker slots for one build
// invocation and admits Hello/Attach traffic against them.
type Orchestrator struct {
	Invocation InvocationID
	logger     logging.Logger

	mu    sync.Mutex
	slots []*Slot
}

// NewOrchestrator constructs an Orchestrator with the given static
// (pre-addressed) and dynamic (address-pending) slots.
func NewOrchestrator(invocation InvocationID, logger logging.Logger, slots []*Slot) *Orchestrator {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Orchestrator{Invocation: invocation, logger: logger, slots: slots}
}

// HandleHello admits a Hello per §4.4/§8 scenario 5:
//   - a location matching an already-Known slot is acknowledged as a
//     no-op;
//   - otherwise the first free dynamic slot is bound to it;
//   - if neither applies, ErrHelloNoSlot.
func (o *Orchestrator) HandleHello(loc Location) (*Slot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, s := range o.slots {
		if existing := s.Location(); existing != nil && *existing == loc {
			if err := s.ReceiveHello(loc); err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	for _, s := range o.slots {
		if s.Dynamic && s.Status() == NotStarted {
			if err := s.ReceiveHello(loc); err != nil {
				return nil, err
			}
			o.logger.Info("bound dynamic worker slot %d to %s:%d", s.ID, loc.IP, loc.Port)
			return s, nil
		}
	}
	return nil, ErrHelloNoSlot
}

// Slots returns a snapshot of every configured slot, for status reporting.
func (o *Orchestrator) Slots() []*Slot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Slot(nil), o.slots...)
}

// SlotByID returns the slot for a worker id, if any.
func (o *Orchestrator) SlotByID(id pip.WorkerID) (*Slot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.slots {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Exit drives every attached slot to Stopped (§4.4 "Exit").
func (o *Orchestrator) Exit() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.slots {
		if s.Status() == Attached {
			_ = s.RequestExit()
		}
	}
}

// DemoteEvent implements the §4.4 "Event forwarding" rules as a pure
// function:
//   - errors from a worker already Stopped are demoted to verbose (the
//     work has already been retried elsewhere);
//   - errors indicating worker-infrastructure failure are demoted to
//     warning so the build does not fail on a worker loss;
//   - anything else passes through unchanged.
func DemoteEvent(status SlotStatus, level EventLevel, isInfrastructureFailure bool) EventLevel {
	if level != LevelError {
		return level
	}
	if status == Stopped {
		return LevelVerbose
	}
	if isInfrastructureFailure {
		return LevelWarning
	}
	return level
}
