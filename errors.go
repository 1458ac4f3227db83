package handoffz

import "errors"

var (
	// ErrInvalidArgument reports malformed input from a collaborator,
	// such as wrapping a nil payload or a nil span.
	ErrInvalidArgument = errors.New("handoffz: invalid argument")

	// ErrRestoreFailure marks a failed attempt to put back the previous
	// ambient span. It is only ever logged; the unit is cleared instead.
	ErrRestoreFailure = errors.New("handoffz: restore failed")

	// ErrChannelClosed is returned when sending to or polling a stopped channel.
	ErrChannelClosed = errors.New("handoffz: channel closed")

	// ErrNoSubscriber is returned by Send on a channel with no handler.
	ErrNoSubscriber = errors.New("handoffz: no subscriber")

	// ErrHandlerPanic wraps a panic recovered from an asynchronous handler.
	ErrHandlerPanic = errors.New("handoffz: handler panicked")
)
