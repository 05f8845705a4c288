package coordinator

// State is the phase of the current run.
type State int32

const (
	Idle State = iota
	Scanning
	Queuing
	Processing
	Cancelling
	Finalizing
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Queuing:
		return "queuing"
	case Processing:
		return "processing"
	case Cancelling:
		return "cancelling"
	case Finalizing:
		return "finalizing"
	default:
		return "idle"
	}
}

// Progress is a point-in-time view of the current run.
type Progress struct {
	RunID     string `json:"run_id,omitempty"`
	State     string `json:"state"`
	Processed int64  `json:"processed"`
	Total     int64  `json:"total"`
	Matched   int64  `json:"matched"`
	Failed    int64  `json:"failed"`
}
