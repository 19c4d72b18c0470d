package cli

import (
	"errors"
	"fmt"

	"github.com/marmos91/ttableserver/pkg/config"
	"github.com/marmos91/ttableserver/pkg/loader"
)

// Exit codes returned by the ttableserver binary.
const (
	ExitSuccess     = 0
	ExitFailure     = 1 // Runtime failure (adapter bind error, I/O)
	ExitConfigError = 2 // Invalid or unreadable configuration
	ExitLoadFailure = 3 // A table could not be loaded in time
)

// ExitError carries the exit code the process should terminate with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code.
//
// An *ExitError keeps its own code. Otherwise configuration errors map to
// ExitConfigError, table load failures to ExitLoadFailure and everything
// else to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var loadErr *loader.LoadError
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		return ExitConfigError
	case errors.As(err, &loadErr), errors.Is(err, loader.ErrLoadTimeout), errors.Is(err, loader.ErrNoTasks):
		return ExitLoadFailure
	default:
		return ExitFailure
	}
}
