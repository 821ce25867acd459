package datasource

import "fmt"

// ExtractionError indicates the metadata source was unreachable or the schema
// unreadable. It is fatal to a build run: no partial knowledge base is
// published on top of it.
type ExtractionError struct {
	Stage string // "connect", "tables", "columns", "keys", "feed"
	Cause error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("schema extraction failed at %s: %v", e.Stage, e.Cause)
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// NewExtractionError wraps a failure in a stage of schema extraction.
func NewExtractionError(stage string, cause error) *ExtractionError {
	return &ExtractionError{Stage: stage, Cause: cause}
}

// ExecutionError is an engine-reported failure of a SQL statement. It is
// recoverable inside the repair loop: its message (and position, when the
// engine reports one) feed the next repair prompt.
type ExecutionError struct {
	Message string
	// Position is the 1-based character position reported by the engine,
	// 0 when unavailable.
	Position int
	Cause    error
}

func (e *ExecutionError) Error() string {
	if e.Position > 0 {
		return fmt.Sprintf("execution failed at position %d: %s", e.Position, e.Message)
	}
	return fmt.Sprintf("execution failed: %s", e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}
