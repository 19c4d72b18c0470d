package loader

import (
	"errors"
	"fmt"

	"github.com/marmos91/ttableserver/pkg/ttable"
)

var (
	// ErrMalformedLine marks a table line that could not be parsed. Such
	// lines are skipped; the error never aborts a load.
	ErrMalformedLine = errors.New("malformed table line")

	// ErrLoadTimeout is returned by LoadAll when the timeout expires with
	// tables still loading and the policy is TimeoutFail.
	ErrLoadTimeout = errors.New("model load timed out")

	// ErrNoTasks is returned by LoadAll when given nothing to load.
	ErrNoTasks = errors.New("no tables to load")
)

// LoadError is a fatal failure to open or read one table. The server must
// not start with a table missing, so this propagates up to the process.
type LoadError struct {
	Provenance ttable.Provenance
	Genre      string
	Path       string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s table (provenance %d) from %s: %v", e.Genre, e.Provenance, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
