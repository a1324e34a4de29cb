// Package countqueue implements the bounded FIFO window of the m most
// recent counts that FOCuS-SES uses to seed and delay its background
// estimate, so that source photons never pollute the rate fed to FOCuS.
package countqueue

import (
	"errors"

	"github.com/peppedilillo/focustrigger/internal/assertx"
	"github.com/peppedilillo/focustrigger/internal/xnum"
)

// ErrInvalidInput is returned when New is asked for a non-positive window.
var ErrInvalidInput = errors.New("countqueue: m must be >= 1")

// ErrInvalidAllocation is returned when a caller-supplied Allocator (see
// WithAllocator) fails to produce a buffer.
var ErrInvalidAllocation = errors.New("countqueue: allocation failed")

// Allocator produces a backing buffer of the requested length. See
// curvestack.Allocator for the rationale.
type Allocator func(n int) ([]int64, error)

// Option configures a Queue at construction time.
type Option func(*options)

type options struct {
	allocator Allocator
}

// WithAllocator overrides the buffer allocation strategy.
func WithAllocator(a Allocator) Option {
	return func(o *options) { o.allocator = a }
}

// Queue is a circular FIFO of exactly m+1 slots, holding up to m counts.
type Queue struct {
	buf        []int64
	head, tail int
	m          int
}

// New allocates a Queue that holds up to m counts.
func New(m int, opts ...Option) (*Queue, error) {
	if m < 1 {
		return nil, ErrInvalidInput
	}

	o := options{allocator: func(n int) ([]int64, error) { return make([]int64, n), nil }}
	for _, opt := range opts {
		opt(&o)
	}

	buf, err := o.allocator(m + 1)
	if err != nil {
		return nil, errors.Join(ErrInvalidAllocation, err)
	}
	if len(buf) != m+1 {
		return nil, ErrInvalidAllocation
	}

	return &Queue{buf: buf, m: m}, nil
}

// Len reports the number of counts currently queued.
func (q *Queue) Len() int {
	if q.tail >= q.head {
		return q.tail - q.head
	}
	return q.tail - q.head + len(q.buf)
}

// Empty reports whether the queue holds no counts.
func (q *Queue) Empty() bool { return q.head == q.tail }

// Full reports whether the queue holds m counts.
func (q *Queue) Full() bool {
	return (q.tail+1)%len(q.buf) == q.head
}

// Enqueue appends n. Precondition: !Full(); the FOCuS-SES lifecycle
// guarantees this, so violating it is a programmer error checked only in
// focusdebug builds.
func (q *Queue) Enqueue(n int64) {
	assertx.Never(q.Full(), "countqueue: enqueue on full queue")
	q.buf[q.tail] = n
	q.tail++
	if q.tail > q.m {
		q.tail = 0
	}
}

// Dequeue removes and returns the oldest count. Precondition: !Empty().
func (q *Queue) Dequeue() int64 {
	assertx.Never(q.Empty(), "countqueue: dequeue on empty queue")
	n := q.buf[q.head]
	q.head++
	if q.head > q.m {
		q.head = 0
	}
	return n
}

// Mean returns the arithmetic mean of the queued counts. Intended to seed
// the initial background estimate once the queue is full for the first
// time. Precondition: !Empty().
func (q *Queue) Mean() float64 {
	assertx.Never(q.Empty(), "countqueue: mean of empty queue")
	vs := make([]int64, 0, q.Len())
	for i, n := q.head, q.Len(); n > 0; n-- {
		vs = append(vs, q.buf[i])
		i++
		if i > q.m {
			i = 0
		}
	}
	return xnum.Mean(vs)
}
