package deploy

// State is a step of a deploy run.
type State int

const (
	Validating State = iota
	ConfirmingRoot
	Building
	Listing
	Diffing
	Mutating
	Invalidating
	Done
	Failed
)

var stateNames = [...]string{
	Validating:     "validating",
	ConfirmingRoot: "confirming-root",
	Building:       "building",
	Listing:        "listing",
	Diffing:        "diffing",
	Mutating:       "mutating",
	Invalidating:   "invalidating",
	Done:           "done",
	Failed:         "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
