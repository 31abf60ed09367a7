package codec

import "errors"

var errOverflow = errors.New("output buffer overflow")

// OutputBuffer is a bounded byte sink with a writable window [Index, Limit).
//
// An encoder may temporarily narrow the window with SetLimit, and flip the
// part flag with SetPart, when delegating to a nested encoder; it must
// restore both before handing the buffer back.
type OutputBuffer interface {
	// Write puts b at Index and advances it. Writing with no room left
	// traps an overflow fault on the buffer instead of panicking.
	Write(b byte)

	// IsCont reports whether there is room for at least one more byte.
	IsCont() bool

	// IsPart reports whether this window is an artificial sub-slice of a
	// longer stream, meaning more room will be offered later.
	IsPart() bool
	SetPart(part bool)

	// IsDone reports whether the stream has truly ended: the window is
	// exhausted and not marked part. No more room will ever be offered.
	IsDone() bool

	// IsError reports whether a fault has been trapped on the buffer.
	// Trap returns the trapped cause.
	IsError() bool
	Trap() error

	Index() int
	Limit() int
	SetLimit(limit int)
}

// Buffer is a byte-slice OutputBuffer.
type Buffer struct {
	data  []byte
	index int
	limit int
	part  bool
	err   error
}

// NewBuffer returns a Buffer whose window spans all of p.
func NewBuffer(p []byte) *Buffer {
	return &Buffer{data: p, limit: len(p)}
}

func (b *Buffer) Write(c byte) {
	if b.err != nil {
		return
	}
	if b.index >= b.limit {
		b.err = errOverflow
		return
	}
	b.data[b.index] = c
	b.index++
}

func (b *Buffer) IsCont() bool { return b.err == nil && b.index < b.limit }
func (b *Buffer) IsPart() bool { return b.part }

func (b *Buffer) SetPart(part bool) { b.part = part }

func (b *Buffer) IsDone() bool  { return b.err == nil && !b.part && b.index >= b.limit }
func (b *Buffer) IsError() bool { return b.err != nil }
func (b *Buffer) Trap() error   { return b.err }

func (b *Buffer) Index() int { return b.index }
func (b *Buffer) Limit() int { return b.limit }

func (b *Buffer) SetLimit(limit int) { b.limit = limit }

// Fault traps err on the buffer, failing any encoder that next inspects it.
func (b *Buffer) Fault(err error) { b.err = err }

// Bytes returns the written prefix of the window.
func (b *Buffer) Bytes() []byte { return b.data[:b.index] }

// Reset rewinds the window so the same backing array can carry the next
// chunk of the stream. Trapped faults are not cleared.
func (b *Buffer) Reset() {
	b.index = 0
	b.limit = len(b.data)
}
