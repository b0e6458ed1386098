package agentsync

// State is a phase of the dev session lifecycle.
type State int32

const (
	StateProvisioning State = iota
	StateAuthenticating
	StateValidating
	StateRegistering
	// StateRetrying means the last sync failed and the next file change
	// will retry it.
	StateRetrying
	StateWatching
	StateCleaningUp
	StateTerminated
)

var stateNames = [...]string{
	StateProvisioning:   "provisioning",
	StateAuthenticating: "authenticating",
	StateValidating:     "validating",
	StateRegistering:    "registering",
	StateRetrying:       "retrying",
	StateWatching:       "watching",
	StateCleaningUp:     "cleaning_up",
	StateTerminated:     "terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
