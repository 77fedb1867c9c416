package engine

// State is a step of a sync pass.
type State int

const (
	StateIdle State = iota
	StateReconcilingRenames
	StateDiffing
	StateUpToDate
	StateDownloading
	StateExtracting
	StateReconcilingDeletions
	StatePersisting
	StateDone
	StateAborted
)

var stateNames = [...]string{
	StateIdle:                 "idle",
	StateReconcilingRenames:   "reconciling_renames",
	StateDiffing:              "diffing",
	StateUpToDate:             "up_to_date",
	StateDownloading:          "downloading",
	StateExtracting:           "extracting",
	StateReconcilingDeletions: "reconciling_deletions",
	StatePersisting:           "persisting",
	StateDone:                 "done",
	StateAborted:              "aborted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether s ends a pass.
func (s State) Terminal() bool {
	return s == StateUpToDate || s == StateDone || s == StateAborted
}

// terminalStates lists the values a pass can end in, for metrics.
func terminalStates() []string {
	return []string{StateUpToDate.String(), StateDone.String(), StateAborted.String()}
}
