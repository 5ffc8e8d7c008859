package locking

import (
	"sync/atomic"

	"github.com/go-faster/errors"
)

type ClientState int32

const (
	StateUninitialized ClientState = iota
	StateActive
	StatePreparing
	StateStopped
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateActive:
		return "ACTIVE"
	case StatePreparing:
		return "PREPARING"
	case StateStopped:
		return "STOPPED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// StateHolder tracks the lifecycle of a lock client. Transitions are CAS
// based so Stop may race with the owner's acquisitions.
type StateHolder struct {
	state atomic.Int32
}

func (h *StateHolder) Load() ClientState {
	return ClientState(h.state.Load())
}

// Reset moves the holder to ACTIVE regardless of the previous state.
func (h *StateHolder) Reset() {
	h.state.Store(int32(StateActive))
}

// Prepare enters PREPARING. Preparing twice is allowed.
func (h *StateHolder) Prepare() error {
	for {
		cur := h.Load()
		switch cur {
		case StatePreparing:
			return nil
		case StateStopped:
			return errors.Wrap(ErrLockClientStopped, "prepare for commit")
		case StateActive:
			if h.state.CompareAndSwap(int32(cur), int32(StatePreparing)) {
				return nil
			}
		default:
			return errors.Wrapf(ErrInvalidClientState, "prepare for commit in state %s", cur)
		}
	}
}

// Stop enters STOPPED from ACTIVE. It reports whether the holder is stopped
// after the call, so a prepared or closed client answers false.
func (h *StateHolder) Stop() bool {
	for {
		cur := h.Load()
		switch cur {
		case StateStopped:
			return true
		case StateActive:
			if h.state.CompareAndSwap(int32(cur), int32(StateStopped)) {
				return true
			}
		default:
			return false
		}
	}
}

// Close enters CLOSED and reports whether this call performed the
// transition.
func (h *StateHolder) Close() bool {
	return ClientState(h.state.Swap(int32(StateClosed))) != StateClosed
}

// CheckAcquire tells whether new locks may be requested.
func (h *StateHolder) CheckAcquire() error {
	switch cur := h.Load(); cur {
	case StateActive, StatePreparing:
		return nil
	case StateStopped:
		return ErrLockClientStopped
	case StateClosed:
		return errors.Wrap(ErrLockClientStopped, "client is closed")
	default:
		return errors.Wrapf(ErrInvalidClientState, "acquire in state %s", cur)
	}
}

func (h *StateHolder) IsStopped() bool {
	s := h.Load()
	return s == StateStopped || s == StateClosed
}
