// Package runner contains the external actions a job can execute and the
// narrow callback interface they report through.
package runner

import "context"

// Output stream tags passed to Sink.Line
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Sink receives the output of a running action. Implementations must be safe
// to call from the runner's own goroutine.
type Sink interface {
	// Line reports one plain output line from the given stream.
	Line(stream, text string)

	// Milestone reports a structured lifecycle notification.
	Milestone(text string)

	// Finished reports the terminal result. A runner calls it at most once;
	// if the runner returns an error before calling it, the controller
	// records the failure on its behalf.
	Finished(success bool, code int)
}

// Runner executes one provisioning action and streams its output into the
// sink. Run blocks until the action is finished and returns an error only
// when the action could not be set up at all (connection, auth or
// precondition failures); a completed-but-failed action is reported through
// Sink.Finished instead.
type Runner interface {
	Run(ctx context.Context, sink Sink) error
}

// InputWriter is implemented by runners that accept client input while
// running, e.g. keystrokes forwarded to a remote shell session.
type InputWriter interface {
	WriteInput(p []byte) error
}
