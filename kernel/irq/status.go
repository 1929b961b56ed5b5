package irq

import "strconv"

// Action describes what the dispatcher does after a handler returns.
type Action uint8

const (
	// ActionContinue keeps the line enabled and moves on to the next
	// hook in the chain.
	ActionContinue Action = iota

	// ActionReenable stops the chain walk and asks for the line to be
	// re-armed.
	ActionReenable

	// ActionError reports a handler failure. The dispatcher records it
	// and moves on to the next hook.
	ActionError
)

// Status is the value returned by a Handler. The zero value is Continue.
type Status struct {
	action Action
	code   int32
}

var (
	// Continue is returned by handlers that completed normally.
	Continue = Status{}

	// Reenable is returned by handlers that need their line re-armed
	// before any further hook runs.
	Reenable = Status{action: ActionReenable, code: 1}
)

// Failed returns an error status carrying the supplied handler-specific
// code. Codes are conventionally negative.
func Failed(code int32) Status {
	return Status{action: ActionError, code: code}
}

// StatusFromCode maps a signed handler return code to a Status: zero
// continues, positive values request re-enabling and negative values are
// errors.
func StatusFromCode(code int32) Status {
	switch {
	case code == 0:
		return Continue
	case code > 0:
		return Reenable
	default:
		return Failed(code)
	}
}

// Action returns the dispatcher action encoded by s.
func (s Status) Action() Action { return s.action }

// Code returns the signed return code equivalent of s.
func (s Status) Code() int32 { return s.code }

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s.action {
	case ActionContinue:
		return "continue"
	case ActionReenable:
		return "reenable"
	default:
		return "error(" + strconv.Itoa(int(s.code)) + ")"
	}
}
