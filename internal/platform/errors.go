package platform

import (
	"errors"
	"fmt"
)

var (
	// ErrColdBootClaimed is returned when a hart asks for cold boot after
	// another hart has claimed it.
	ErrColdBootClaimed = errors.New("platform: cold boot already claimed by another hart")
	// ErrAlreadyInitialized is returned when a phase that runs once is
	// requested again.
	ErrAlreadyInitialized = errors.New("platform: already initialized")
	// ErrNotReleased is returned when a warm phase is requested before the
	// descriptor is frozen or before the subsystem's cold phase completed.
	ErrNotReleased = errors.New("platform: cold boot has not released this phase")
	// ErrOutOfOrder is returned when a hart skips ahead in the subsystem order.
	ErrOutOfOrder = errors.New("platform: subsystem brought up out of order")
	// ErrHartOutOfRange is returned for a hart id the platform does not have.
	ErrHartOutOfRange = errors.New("platform: hart id out of range")
)

// Phase names the step of bring-up that failed.
type Phase int

const (
	PhaseDiscovery Phase = iota
	PhaseCold
	PhaseWarm
	PhaseFinal
)

func (p Phase) String() string {
	switch p {
	case PhaseDiscovery:
		return "discovery"
	case PhaseCold:
		return "cold init"
	case PhaseWarm:
		return "warm init"
	case PhaseFinal:
		return "final init"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Error reports a failed bring-up step. The driver's error, including its
// sbierr code, is available through Unwrap.
type Error struct {
	Subsystem Subsystem
	Phase     Phase
	Hart      uint32
	Err       error
}

func (e *Error) Error() string {
	if e.Phase == PhaseFinal {
		return fmt.Sprintf("platform: hart %d: %s: %v", e.Hart, e.Phase, e.Err)
	}
	return fmt.Sprintf("platform: hart %d: %s %s: %v", e.Hart, e.Subsystem, e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
