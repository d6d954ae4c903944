package run

import (
	"errors"
	"fmt"
)

// Error taxonomy for the orchestration core. Each type marks a distinct
// failure class so callers can map them to transport codes and the
// coordinator can decide between soft and hard handling.

// PlanningError means the planner could not produce a valid plan: the model
// output was malformed (missing names or descriptions, duplicates, zero
// sections) or the underlying provider call failed after its retry budget.
type PlanningError struct {
	Reason string
	Cause  error
}

func (e *PlanningError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("planning failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("planning failed: %s", e.Reason)
}

func (e *PlanningError) Unwrap() error { return e.Cause }

// InvalidStateError means an operation was attempted in a state that does
// not allow it, e.g. feedback submitted while the run is not waiting for it.
type InvalidStateError struct {
	Op       string
	Current  Status
	Required Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %q (requires %q)", e.Op, e.Current, e.Required)
}

// ResearchError means one section's research irrecoverably failed: no
// findings could be gathered from any provider for any query.
type ResearchError struct {
	Section string
	Cause   error
}

func (e *ResearchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("research failed for section %q: %v", e.Section, e.Cause)
	}
	return fmt.Sprintf("research failed for section %q", e.Section)
}

func (e *ResearchError) Unwrap() error { return e.Cause }

// SynthesisError means introduction or conclusion generation failed, most
// commonly because there was nothing to conclude from.
type SynthesisError struct {
	Stage string
	Cause error
}

func (e *SynthesisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("synthesis failed at %s: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("synthesis failed at %s", e.Stage)
}

func (e *SynthesisError) Unwrap() error { return e.Cause }

// ProviderError wraps an underlying LLM or search call failure. Soft
// failures are logged and excluded from findings; hard failures propagate.
type ProviderError struct {
	Provider string
	Soft     bool
	Cause    error
}

func (e *ProviderError) Error() string {
	mode := "hard"
	if e.Soft {
		mode = "soft"
	}
	return fmt.Sprintf("provider %s failed (%s): %v", e.Provider, mode, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// ErrNotFound marks operations on an unknown run ID.
var ErrNotFound = errors.New("research run not found")

// NotFound reports whether err denotes a missing run.
func NotFound(err error) bool { return errors.Is(err, ErrNotFound) }
