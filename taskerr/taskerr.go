// Package taskerr defines the error-kind taxonomy shared by the store, broker,
// coordinator and worker. Every loop owns its own error boundary; only Fatal
// escapes to a process exit.
package taskerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the semantic error classes.
type Kind string

const (
	KindTransientBroker Kind = "transient_broker"
	KindTransientStore  Kind = "transient_store"
	KindClaimRace       Kind = "claim_race"
	KindHandlerNotFound Kind = "handler_not_found"
	KindHandlerRuntime  Kind = "handler_runtime"
	KindHandlerTimeout  Kind = "handler_timeout"
	KindMalformed       Kind = "malformed_message"
	KindFatalConfig     Kind = "fatal_config"
)

// Error wraps an underlying cause with a semantic Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func new_(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func TransientBroker(op string, err error) *Error { return new_(KindTransientBroker, op, err) }
func TransientStore(op string, err error) *Error  { return new_(KindTransientStore, op, err) }
func ClaimRace(op string) *Error                  { return new_(KindClaimRace, op, nil) }
func HandlerNotFound(op, title string) *Error {
	return new_(KindHandlerNotFound, op, fmt.Errorf("no handler registered for title %q", title))
}
func HandlerRuntime(op string, err error) *Error { return new_(KindHandlerRuntime, op, err) }
func HandlerTimeout(op string, after string) *Error {
	return new_(KindHandlerTimeout, op, fmt.Errorf("handler exceeded timeout (%s)", after))
}
func Malformed(op string, err error) *Error { return new_(KindMalformed, op, err) }
func FatalConfig(op string, err error) *Error {
	return new_(KindFatalConfig, op, err)
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
