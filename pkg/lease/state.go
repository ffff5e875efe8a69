package lease

import "fmt"

// State is the client's view of the lease it manages.
type State int

const (
	StateAvailable State = iota
	StateLeased
	StateReleased
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateLeased:
		return "leased"
	case StateReleased:
		return "released"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Action is a lease operation, sent as the x-ms-lease-action header.
type Action string

const (
	ActionAcquire Action = "acquire"
	ActionRenew   Action = "renew"
	ActionRelease Action = "release"
	ActionChange  Action = "change"
	ActionBreak   Action = "break"
)

// transitions lists, per action, the states it may start from and the state
// it leaves the lease in. Break is accepted from any state since any
// authorized caller may break a lease.
var transitions = map[Action]struct {
	from []State
	to   State
}{
	ActionAcquire: {from: []State{StateAvailable, StateReleased, StateBroken}, to: StateLeased},
	ActionRenew:   {from: []State{StateLeased}, to: StateLeased},
	ActionChange:  {from: []State{StateLeased}, to: StateLeased},
	ActionRelease: {from: []State{StateLeased, StateBroken}, to: StateReleased},
	ActionBreak:   {from: []State{StateAvailable, StateLeased, StateReleased, StateBroken}, to: StateBroken},
}

// next returns the state after a successful action, or ErrInvalidTransition
// if the action cannot start from s.
func next(s State, a Action) (State, error) {
	t, ok := transitions[a]
	if !ok {
		return s, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, a)
	}
	for _, from := range t.from {
		if from == s {
			return t.to, nil
		}
	}
	return s, fmt.Errorf("%w: cannot %s a lease that is %s", ErrInvalidTransition, a, s)
}
