package ingest

import (
	"errors"
	"fmt"

	"github.com/systemshift/flightgraph/internal/graph"
)

// ErrAlreadyRunning is returned when an import is started while another one
// is in progress.
var ErrAlreadyRunning = errors.New("import already running")

// TransactionError reports that one batch failed as a whole. Nothing of the
// batch was persisted.
type TransactionError struct {
	Statement graph.StatementID
	Batch     int
	Err       error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s batch %d: %v", e.Statement, e.Batch, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// SchemaBootstrapError reports that a constraint or index could not be
// declared. No data is loaded after it.
type SchemaBootstrapError struct {
	Err error
}

func (e *SchemaBootstrapError) Error() string {
	return fmt.Sprintf("schema bootstrap: %v", e.Err)
}

func (e *SchemaBootstrapError) Unwrap() error {
	return e.Err
}

// PhaseError is the failure report of a run: where it stopped and the
// counters of the last batch that did commit.
type PhaseError struct {
	Phase        Phase
	Source       string
	Batch        int
	LastCounters graph.Counters
	Err          error
}

func (e *PhaseError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("phase %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("phase %s (%s) batch %d: %v", e.Phase, e.Source, e.Batch, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
