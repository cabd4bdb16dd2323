package pipeline

import "fmt"

// ModelOutputError reports model output that could not be parsed or failed
// schema validation. Fatal to the current job; the raw output is kept for
// the job's diagnostic record.
type ModelOutputError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *ModelOutputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Reason)
}

func (e *ModelOutputError) Unwrap() error { return e.Err }
