package fragment

// State is a fragment's position in its download lifecycle.
type State string

const (
	Pending  State = "pending"  // not started
	Fetching State = "fetching" // request in flight
	Retrying State = "retrying" // waiting to refetch after an HTTP error
	Appended State = "appended" // written to the output
	Skipped  State = "skipped"  // retries exhausted, loss tolerated
	Fatal    State = "fatal"    // retries exhausted or unretryable, download aborted
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Appended || s == Skipped || s == Fatal
}

var transitions = map[State][]State{
	Pending:  {Fetching},
	Fetching: {Appended, Retrying, Skipped, Fatal},
	Retrying: {Fetching},
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}
