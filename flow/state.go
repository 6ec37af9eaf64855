package flow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidState is returned when an operation is not allowed in the
// controller's current state.
var ErrInvalidState = errors.New("invalid state")

type State int32

const (
	Idle State = iota
	Running
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Active reports whether a run exists in this state.
func (s State) Active() bool {
	return s == Running || s == Stopping
}

// UnderrunPolicy decides whether a device underrun ends the run.
type UnderrunPolicy int

const (
	// UnderrunContinue logs and counts underruns and keeps streaming.
	UnderrunContinue UnderrunPolicy = iota
	// UnderrunFail moves the run to Failed on the first underrun.
	UnderrunFail
)

func (p UnderrunPolicy) String() string {
	if p == UnderrunFail {
		return "fail"
	}
	return "continue"
}

func ParseUnderrunPolicy(s string) (UnderrunPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "continue", "":
		return UnderrunContinue, nil
	case "fail":
		return UnderrunFail, nil
	}
	return UnderrunContinue, fmt.Errorf("unknown underrun policy %q", s)
}
