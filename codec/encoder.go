// Package codec provides incremental binary encoders that suspend when their
// output buffer runs out of room and resume later without re-emitting bytes.
package codec

import "errors"

// ErrTruncated is reported when an output buffer ends for good before an
// encoder has emitted all of its bytes.
var ErrTruncated = errors.New("truncated")

// Encoder writes a value to an output buffer across one or more pulls.
//
// Each Pull performs as much work as the buffer permits and returns the
// encoder to continue with: the receiver's successor when suspended, or a
// terminal encoder once the value is fully written or a fault occurred.
// A suspended encoder is a plain snapshot; it holds no reference to any
// buffer and may be stored and resumed at any later time. Abandoning it is
// always safe.
type Encoder interface {
	Pull(out OutputBuffer) Encoder

	// IsDone reports whether the value has been fully written.
	IsDone() bool

	// IsError reports whether encoding failed. Err returns the cause.
	IsError() bool
	Err() error
}

// Done returns a terminal encoder in the done state.
func Done() Encoder { return doneEncoder{} }

// Error returns a terminal encoder carrying err.
func Error(err error) Encoder { return errorEncoder{err} }

type doneEncoder struct{}

func (doneEncoder) Pull(OutputBuffer) Encoder { return doneEncoder{} }
func (doneEncoder) IsDone() bool              { return true }
func (doneEncoder) IsError() bool             { return false }
func (doneEncoder) Err() error                { return nil }

type errorEncoder struct{ err error }

func (e errorEncoder) Pull(OutputBuffer) Encoder { return e }
func (errorEncoder) IsDone() bool                { return false }
func (errorEncoder) IsError() bool               { return true }
func (e errorEncoder) Err() error                { return e.err }
