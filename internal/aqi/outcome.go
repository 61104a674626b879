package aqi

// Status is the terminal state of one unit of pipeline work.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
)

// Outcome records what happened to one unit of work. Expected partial
// failures are reported here instead of as errors.
type Outcome struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Succeeded returns a success outcome.
func Succeeded() Outcome {
	return Outcome{Status: StatusSuccess}
}

// Skipped returns a skipped outcome carrying reason.
func Skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason}
}
