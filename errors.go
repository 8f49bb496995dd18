package strata

import (
	"errors"
	"fmt"
)

// define all package level errors here

var (
	// ErrBindings reports a wrong count or shape of supplied parameters, or an
	// unsupported value type when binding.
	ErrBindings = errors.New("strata: bindings error")
	// ErrIncompleteExecution reports a cursor reused or closed while a prior
	// multi-statement script or ExecuteMany sequence was left unfinished.
	ErrIncompleteExecution = errors.New("strata: incomplete execution")
	// ErrExecutionComplete reports an operation that needs an active statement
	// being invoked after execution has completed.
	ErrExecutionComplete = errors.New("strata: statement has completed execution")
	// ErrThreadingViolation reports concurrent use of a cursor or connection
	// from more than one goroutine at a time.
	ErrThreadingViolation = errors.New("strata: object used concurrently from multiple goroutines")
	// ErrTraceAbort reports an exec tracer vetoing execution.
	ErrTraceAbort = errors.New("strata: aborted by false return value of exec tracer")
	// ErrConnectionClosed reports use of a closed connection.
	ErrConnectionClosed = errors.New("strata: connection closed")
)

// EngineError is any non-OK return from the native engine. The primary and
// extended codes are preserved exactly as the engine reported them.
type EngineError struct {
	Code         StrataStatusCode
	ExtendedCode int32
	Message      string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("strata: %s (code %d)", e.Message, int32(e.Code))
}

// Is makes errors.Is match two engine errors by primary code, so callers can
// test for e.g. busy without caring about the extended code.
func (e *EngineError) Is(target error) bool {
	var other *EngineError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}
