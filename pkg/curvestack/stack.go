// Package curvestack implements the bounded, pruned stack of LLR-curve
// endpoints that FOCuS steps over: a circular buffer with a drop-oldest
// overflow policy, following the bounded-memory approximation documented
// in Ward 2023 and Dilillo 2024.
package curvestack

import (
	"errors"
	"fmt"

	"github.com/peppedilillo/focustrigger/internal/assertx"
	"github.com/peppedilillo/focustrigger/pkg/curve"
)

// ErrInvalidInput is returned when New is asked for a non-positive
// capacity.
var ErrInvalidInput = errors.New("curvestack: capacity must be > 0")

// ErrInvalidAllocation is returned when a caller-supplied Allocator (see
// WithAllocator) fails to produce a buffer.
var ErrInvalidAllocation = errors.New("curvestack: allocation failed")

// Allocator produces a backing buffer of the requested length. The
// default allocator is plain make([]curve.Curve, n); WithAllocator lets a
// caller inject a pooled or pre-sized buffer, and is the only way
// ErrInvalidAllocation can surface from this package (Go's make never
// fails the way C's malloc can).
type Allocator func(n int) ([]curve.Curve, error)

// Option configures a Stack at construction time.
type Option func(*options)

type options struct {
	allocator  Allocator
	onOverflow func()
}

// WithAllocator overrides the buffer allocation strategy.
func WithAllocator(a Allocator) Option {
	return func(o *options) { o.allocator = a }
}

// WithOverflowObserver registers a callback invoked every time a push on a
// full stack drops the oldest curve. pkg/telemetry uses this to wire a
// Prometheus counter without curvestack importing telemetry directly.
func WithOverflowObserver(f func()) Option {
	return func(o *options) { o.onOverflow = f }
}

// Stack is a circular buffer of curve.Curve with one spare sentinel slot,
// following the standard circular-buffer convention for distinguishing
// full from empty.
type Stack struct {
	buf        []curve.Curve
	head, tail int
	capacity   int
	onOverflow func()
}

// New allocates a Stack with room for capacity real curves (plus the one
// spare slot). It does not seed the Tail/Null bottom; callers that need
// the FOCuS starting state call Reset after New.
func New(capacity int, opts ...Option) (*Stack, error) {
	if capacity <= 0 {
		return nil, ErrInvalidInput
	}

	o := options{allocator: func(n int) ([]curve.Curve, error) { return make([]curve.Curve, n), nil }}
	for _, opt := range opts {
		opt(&o)
	}

	buf, err := o.allocator(capacity + 1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAllocation, err)
	}
	if len(buf) != capacity+1 {
		return nil, fmt.Errorf("%w: allocator returned %d slots, want %d", ErrInvalidAllocation, len(buf), capacity+1)
	}

	return &Stack{
		buf:        buf,
		capacity:   capacity,
		onOverflow: o.onOverflow,
	}, nil
}

// Len reports the number of curves currently on the stack.
func (s *Stack) Len() int {
	if s.head >= s.tail {
		return s.head - s.tail
	}
	return s.head - s.tail + len(s.buf)
}

// Empty reports whether the stack holds no curves.
func (s *Stack) Empty() bool { return s.head == s.tail }

// Full reports whether the stack is at capacity.
func (s *Stack) Full() bool {
	if s.head == s.capacity {
		return s.tail == 0
	}
	return s.head+1 == s.tail
}

// Push adds c as the new head. If the stack is full, the oldest curve is
// dropped first (the tail slot is advanced and overwritten with
// curve.Tail), then c is written at the head.
func (s *Stack) Push(c curve.Curve) {
	if s.Full() {
		if s.tail == s.capacity {
			s.tail = 0
		} else {
			s.tail++
		}
		s.buf[s.tail] = curve.Tail
		if s.onOverflow != nil {
			s.onOverflow()
		}
	}
	s.buf[s.head] = c
	if s.head == s.capacity {
		s.head = 0
	} else {
		s.head++
	}
}

// Pop removes and returns the head curve. Precondition: !Empty(); violating
// this is a programmer error, checked only in focusdebug builds.
func (s *Stack) Pop() curve.Curve {
	assertx.Never(s.Empty(), "curvestack: pop on empty stack")
	if s.head == 0 {
		s.head = s.capacity
	} else {
		s.head--
	}
	return s.buf[s.head]
}

// Peek returns the head curve without removing it. Precondition: !Empty().
func (s *Stack) Peek() curve.Curve {
	assertx.Never(s.Empty(), "curvestack: peek on empty stack")
	idx := s.capacity
	if s.head != 0 {
		idx = s.head - 1
	}
	return s.buf[idx]
}

// PeekAt returns the curve depth slots below the head, without removing
// anything: PeekAt(0) is the same curve Peek returns, PeekAt(1) the one
// below it, and so on. Precondition: depth < Len(). This lets a caller
// scan deeper into the stack read-only, the way maximize inspects
// candidates below the current head without disturbing them.
func (s *Stack) PeekAt(depth int) curve.Curve {
	assertx.Never(depth < 0 || depth >= s.Len(), "curvestack: peekAt out of range")
	idx := s.head - 1 - depth
	n := len(s.buf)
	idx = ((idx % n) + n) % n
	return s.buf[idx]
}

// Reset collapses the stack back to exactly curve.Tail then curve.Null on
// top, discarding every other curve.
func (s *Stack) Reset() {
	s.head = 0
	s.tail = 0
	s.Push(curve.Tail)
	s.Push(curve.Null)
}
