// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package rollup

// ErrorKind identifies a kind of error that can be used to define new errors
// via const SomeError = rollup.ErrorKind("something").
type ErrorKind string

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error pairs an error with details.
type Error struct {
	wrapped error
	detail  string
}

// Error satisfies the error interface, combining the wrapped error message with
// the details.
func (e Error) Error() string {
	return e.wrapped.Error() + ": " + e.detail
}

// Unwrap returns the wrapped error, allowing errors.Is and errors.As to work.
func (e Error) Unwrap() error {
	return e.wrapped
}

// NewError wraps the provided error with details in an Error, facilitating the
// use of errors.Is and errors.As via errors.Unwrap.
func NewError(err error, detail string) Error {
	return Error{
		wrapped: err,
		detail:  detail,
	}
}

// Error kinds shared by the deployment packages. Everything except
// ErrAuthorityUnresolved is expected to reach the operator as the reason for
// a non-zero exit.
const (
	// ErrConfig is a startup validation failure. No deployment has been
	// attempted when it is returned.
	ErrConfig = ErrorKind("configuration error")
	// ErrDeployment is a contract creation that was rejected or reverted.
	ErrDeployment = ErrorKind("deployment failed")
	// ErrTransaction is a call that could not be submitted.
	ErrTransaction = ErrorKind("transaction failed")
	// ErrReverted is a call that was mined with a failed status.
	ErrReverted = ErrorKind("transaction reverted")
	// ErrAuthorityUnresolved means an authority-gated action was attempted
	// before the proxy admin was read from chain.
	ErrAuthorityUnresolved = ErrorKind("proxy admin not yet resolved")
)

// ErrorCloser is used to synchronize shutdown when an error is encountered in a
// multi-step process. After each successful step, a shutdown routine can be
// scheduled with Add. If Success is not signaled before Done, the shutdown
// routines will be run in the reverse order that they are added.
type ErrorCloser struct {
	closers []func() error
}

// NewErrorCloser creates a new ErrorCloser.
func NewErrorCloser() *ErrorCloser {
	return &ErrorCloser{
		closers: make([]func() error, 0, 3),
	}
}

// Add adds a new function to the queue.
func (e *ErrorCloser) Add(closer func() error) {
	e.closers = append(e.closers, closer)
}

// Success cancels the running of any Add'ed functions.
func (e *ErrorCloser) Success() {
	e.closers = nil
}

// Done runs the registered functions if Success has not been called.
func (e *ErrorCloser) Done(log Logger) {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			log.Errorf("error running shutdown function %d: %v", i, err)
		}
	}
}
