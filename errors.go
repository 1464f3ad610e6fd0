package costack

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/kmrgirish/costack/internal/queue"
	"github.com/kmrgirish/costack/internal/stack"
)

type constErr struct {
	error
}

func makeConstErr(err error) error {
	return constErr{error: err}
}

var (
	// ErrContract is wrapped by the panic value raised on a contract
	// violation: yielding outside the running coroutine, resuming a coroutine
	// that is already running or belongs to another environment.
	ErrContract = makeConstErr(errors.New("costack: contract violation"))
	// ErrInvalidConfig is wrapped by errors returned from Start.
	ErrInvalidConfig = makeConstErr(errors.New("costack: invalid config"))
	// ErrShutdown is the result of a coroutine that was dropped or unwound
	// by Shutdown before it completed.
	ErrShutdown = makeConstErr(errors.New("costack: runtime shut down"))
)

func contractViolation(format string, args ...any) {
	panic(fmt.Errorf("%w: "+format, append([]any{ErrContract}, args...)...))
}

// isContractViolation reports whether a recovered panic value must not be
// contained as a body fault.
func isContractViolation(v any) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	return errors.Is(err, ErrContract) || errors.Is(err, stack.ErrTooDeep) || errors.Is(err, queue.ErrFull)
}

// PanicError is the result of a coroutine whose body panicked. The coroutine
// is abandoned at the point of the panic; deferred calls in its body have run.
type PanicError struct {
	// Value is the original value passed to panic().
	Value any

	// Stack is the coroutine's stack trace at the point of panic.
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("coroutine panicked: %v\n\n%s", e.Value, e.Stack)
}

// Unwrap returns Value if it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

func newPanicError(v any) *PanicError {
	buf := make([]byte, 32*1024)
	n := runtime.Stack(buf, false)
	return &PanicError{
		Value: v,
		Stack: string(buf[:n]),
	}
}
