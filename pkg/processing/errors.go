package processing

import (
	"errors"
	"fmt"

	"github.com/api3dao/commons-go/pkg/attempt"
)

var (
	// ErrScriptTimeout is returned when the runtime is interrupted by the
	// per-execution ceiling while running synchronous code.
	ErrScriptTimeout = errors.New("Script execution timed out")

	// ErrTimeout is returned when a resolve/reject snippet does not signal
	// completion in time.
	ErrTimeout = errors.New("Timeout exceeded")

	// ErrFullTimeout is returned when a single-function snippet does not
	// settle within its whole time budget.
	ErrFullTimeout = errors.New("Full timeout exceeded")

	errLoopStopped = errors.New("event loop stopped")
)

// IsTimeout reports whether err is any of the timeout kinds produced while
// running processing snippets, including the pipeline wide budget.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrScriptTimeout) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrFullTimeout) ||
		errors.Is(err, attempt.ErrTimeout)
}

// SyntaxError is returned when a snippet cannot be compiled. No code runs.
type SyntaxError struct {
	Err error
}

func (e *SyntaxError) Error() string {
	return e.Err.Error()
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// ThrownError carries a value thrown or rejected by a snippet. For Error
// objects Name and Message are set; for anything else Value holds the
// exported thrown value.
type ThrownError struct {
	Name    string
	Message string
	Stack   string
	Value   interface{}
}

func (e *ThrownError) Error() string {
	switch {
	case e.Name == "":
		return e.Message
	case e.Message == "":
		return e.Name
	default:
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
}

// IsErrorObject reports whether the snippet threw an Error instance rather
// than a primitive or plain object.
func (e *ThrownError) IsErrorObject() bool {
	return e.Name != ""
}
