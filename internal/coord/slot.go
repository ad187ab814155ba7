package coord

import (
	"fmt"
	"sync"

	"github.com/forgecore/forge/internal/pip"
)

// SlotStatus is a remote worker slot's position in the §4.4 state
// machine.
type SlotStatus uint8

const (
	NotStarted SlotStatus = iota
	Known
	Attaching
	Attached
	Stopped
	Failed
)

func (s SlotStatus) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Known:
		return "Known"
	case Attaching:
		return "Attaching"
	case Attached:
		return "Attached"
	case Stopped:
		return "Stopped"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// FailureReason names why a slot transitioned to Failed.
type FailureReason uint8

const (
	NoFailure FailureReason = iota
	ReconnectionTimeout
	CallDeadlineExceeded
	UnrecoverableFailure
	InvocationMismatch
)

// Slot is a Remote Worker Slot (§3): worker id, optional location, and
// status. Worker 0 is reserved for the local process and never occupies a
// Slot managed by this package.
type Slot struct {
	ID       pip.WorkerID
	Dynamic  bool // true if this slot's address arrives via Hello
	mu       sync.Mutex
	location *Location
	status   SlotStatus
	reason   FailureReason
}

// NewSlot constructs a slot. A static slot is given its location up
// front; a dynamic slot starts NotStarted and waits for a Hello.
func NewSlot(id pip.WorkerID, dynamic bool, location *Location) *Slot {
	status := NotStarted
	if location != nil {
		status = Known
	}
	return &Slot{ID: id, Dynamic: dynamic, location: location, status: status}
}

func (s *Slot) Status() SlotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Slot) Location() *Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

// legalTransitions enumerates the §4.4 state diagram.
var legalTransitions = map[SlotStatus]map[SlotStatus]bool{
	NotStarted: {Known: true, Failed: true},
	Known:      {Attaching: true, Failed: true},
	Attaching:  {Attached: true, Failed: true},
	Attached:   {Stopped: true, Failed: true},
	Stopped:    {},
	Failed:     {},
}

func (s *Slot) transition(to SlotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == to {
		return nil
	}
	if allowed, ok := legalTransitions[s.status][to]; !ok || !allowed {
		return fmt.Errorf("coord: illegal slot transition %s -> %s", s.status, to)
	}
	s.status = to
	return nil
}

// ReceiveHello binds a dynamic slot's location and moves it to Known. A
// Hello for an already-Known slot with the same location is an idempotent
// no-op (§8 scenario 5).
func (s *Slot) ReceiveHello(loc Location) error {
	s.mu.Lock()
	if s.location != nil && *s.location == loc {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.mu.Lock()
	s.location = &loc
	s.mu.Unlock()
	return s.transition(Known)
}

func (s *Slot) BeginAttach() error { return s.transition(Attaching) }

func (s *Slot) CompleteAttach() error { return s.transition(Attached) }

func (s *Slot) RequestExit() error { return s.transition(Stopped) }

// Fail moves the slot to Failed from any state and records why.
func (s *Slot) Fail(reason FailureReason) {
	s.mu.Lock()
	s.status = Failed
	s.reason = reason
	s.mu.Unlock()
}

func (s *Slot) FailureReason() FailureReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
