package frame

// Status is the outcome of a swapchain acquire or present.
type Status uint8

const (
	StatusOk Status = iota
	// The surface no longer matches the window. Out of date and suboptimal both map here
	// for presents.
	StatusStale
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusStale:
		return "stale"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome describes what a tick did.
type Outcome uint8

const (
	OutcomePresented Outcome = iota
	// The window has a zero extent. Nothing was acquired or presented.
	OutcomeSkipped
	// Acquire reported a stale surface. A rebuild runs at the top of the next tick.
	OutcomeStale
	// A fatal error was latched.
	OutcomeHalted
)

func (o Outcome) String() string {
	switch o {
	case OutcomePresented:
		return "presented"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeStale:
		return "stale"
	case OutcomeHalted:
		return "halted"
	default:
		return "unknown"
	}
}
