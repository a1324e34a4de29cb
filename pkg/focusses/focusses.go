// Package focusses implements FOCuS-SES: a FOCuS detector fed by an
// autonomous single-exponential-smoothing (SES) background estimator,
// whose input is delayed by a count queue so that the photons under test
// never leak into the background they are tested against.
package focusses

import (
	"errors"
	"log/slog"

	"github.com/peppedilillo/focustrigger/internal/assertx"
	"github.com/peppedilillo/focustrigger/pkg/countqueue"
	"github.com/peppedilillo/focustrigger/pkg/focus"
)

// ErrInvalidInput is returned at construction time when any parameter is
// out of domain, and at step time when a count is negative. A step-time
// occurrence latches the FocusSES into a stopped state.
var ErrInvalidInput = errors.New("focusses: invalid input")

// ErrInvalidAllocation is returned when the count queue or the underlying
// Focus could not be allocated.
var ErrInvalidAllocation = errors.New("focusses: invalid allocation")

// status names the phase of the FOCuS-SES lifecycle: COLLECT fills the
// queue for the first time, UPDATE (only reached when Sleep > 0) keeps
// the background warming up without testing, TEST is steady-state, and
// STOP is a latched terminal state reached only on invalid input.
type status int

const (
	collect status = iota
	update
	test
	stopped
)

// Option configures a FocusSES at construction time.
type Option func(*options)

type options struct {
	focusOpts []focus.Option
	queueOpts []countqueue.Option
}

// WithFocusOptions forwards options to the underlying focus.New call.
func WithFocusOptions(opts ...focus.Option) Option {
	return func(o *options) { o.focusOpts = append(o.focusOpts, opts...) }
}

// WithCountQueueOptions forwards options to the underlying countqueue.New
// call.
func WithCountQueueOptions(opts ...countqueue.Option) Option {
	return func(o *options) { o.queueOpts = append(o.queueOpts, opts...) }
}

// FocusSES wraps a Focus with an SES background estimator delayed by a
// count queue of m slots. Testing for anomalies starts only after
// sleep+m ticks: m to fill the queue for the first time, then sleep more
// to let the background settle before FOCuS is armed.
type FocusSES struct {
	st      status
	stopErr error

	focus *focus.Focus
	queue *countqueue.Queue

	alpha float64
	bkg   float64
	m     int
	sleep int
	t     int
}

// CheckParams validates every FOCuS-SES parameter without constructing an
// instance, mirroring pfs_check_init_parameters in the original C API.
func CheckParams(thresholdStd, muMin, alpha float64, m, sleep int) error {
	if err := focus.CheckParams(thresholdStd, muMin); err != nil {
		return ErrInvalidInput
	}
	if alpha < 0 || alpha > 1 {
		return ErrInvalidInput
	}
	if m < 1 {
		return ErrInvalidInput
	}
	if sleep < 0 {
		return ErrInvalidInput
	}
	return nil
}

// New validates parameters and returns a FocusSES in the collect phase,
// ready to accept its first m counts.
func New(thresholdStd, muMin, alpha float64, m, sleep int, opts ...Option) (*FocusSES, error) {
	if err := CheckParams(thresholdStd, muMin, alpha, m, sleep); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	f, err := focus.New(thresholdStd, muMin, o.focusOpts...)
	if err != nil {
		if errors.Is(err, focus.ErrInvalidAllocation) {
			return nil, errors.Join(ErrInvalidAllocation, err)
		}
		return nil, errors.Join(ErrInvalidInput, err)
	}

	q, err := countqueue.New(m, o.queueOpts...)
	if err != nil {
		if errors.Is(err, countqueue.ErrInvalidAllocation) {
			return nil, errors.Join(ErrInvalidAllocation, err)
		}
		return nil, errors.Join(ErrInvalidInput, err)
	}

	return &FocusSES{
		st:    collect,
		focus: f,
		queue: q,
		alpha: alpha,
		m:     m,
		sleep: sleep,
		t:     sleep + m,
	}, nil
}

// Close releases resources held by d. See focus.Focus.Close for why this
// is a no-op kept for API symmetry.
func (d *FocusSES) Close() error { return nil }

// Step advances the lifecycle by one tick. It returns whether this tick
// resolved a change-point within the count queue's delay window, and an
// error if d was already stopped or x is negative (which also stops it).
func (d *FocusSES) Step(x int64) (bool, error) {
	if d.st == stopped {
		return false, d.stopErr
	}

	if x < 0 {
		d.st = stopped
		d.stopErr = ErrInvalidInput
		return false, ErrInvalidInput
	}

	switch d.st {
	case test:
		return d.stepTest(x)
	case update:
		d.stepUpdate(x)
		return false, nil
	case collect:
		d.stepCollect(x)
		return false, nil
	default:
		return false, nil
	}
}

// stepCollect enqueues x without testing FOCuS. After exactly m ticks the
// queue is full for the first time, and the background estimate is
// seeded with its mean (the FOCuS-SES equivalent of set_initial_bkg). The
// lifecycle then moves to update (if Sleep > 0) or straight to test.
func (d *FocusSES) stepCollect(x int64) {
	d.queue.Enqueue(x)
	d.t--
	if d.t == d.sleep {
		assertx.Never(!d.queue.Full(), "focusses: queue not full at end of collect")
		d.bkg = d.queue.Mean()
		if d.sleep > 0 {
			d.st = update
		} else {
			d.st = test
		}
	}
}

// stepUpdate keeps the background estimate warming up via SES without
// arming FOCuS, for exactly Sleep more ticks.
func (d *FocusSES) stepUpdate(x int64) {
	d.updateBkg(x)
	d.t--
	if d.t == 0 {
		d.st = test
	}
}

// stepTest dequeues the count delayed by exactly m ticks, folds it into
// the SES background estimate, enqueues the newest count, and steps
// FOCuS against the now-updated background. A FOCuS trigger only counts
// if its offset is within the m-tick delay window; a trigger older than
// that is considered stale (the background estimator may already have
// been polluted by it) and is suppressed.
func (d *FocusSES) stepTest(x int64) (bool, error) {
	d.updateBkg(x)

	trig, err := d.focus.Step(x, d.bkg)
	if err != nil {
		d.st = stopped
		d.stopErr = ErrInvalidInput
		return false, ErrInvalidInput
	}

	return trig && d.focus.GetChange().Offset < d.m, nil
}

// updateBkg dequeues the oldest count, folds it into the SES background
// estimate, and enqueues x as the newest count.
func (d *FocusSES) updateBkg(x int64) {
	delayed := d.queue.Dequeue()
	d.bkg = d.alpha*float64(delayed) + (1-d.alpha)*d.bkg
	d.queue.Enqueue(x)
}

// GetChange returns the most recent change reported by the underlying
// FOCuS, filtered by the same offset < m rule Step applies: a stale
// trigger (offset >= m) reports as the zero Change.
func (d *FocusSES) GetChange() focus.PublicChange {
	c := d.focus.GetChange()
	if c.Offset < d.m {
		return c
	}
	return focus.PublicChange{}
}

// Background returns the current SES background estimate.
func (d *FocusSES) Background() float64 { return d.bkg }

// Stopped reports whether d has latched into its terminal state after
// invalid input.
func (d *FocusSES) Stopped() bool { return d.st == stopped }

// LogState emits a structured log line describing this tick: the phase,
// the count fed in, the current background estimate, and the change
// observed (if any). Equivalent to pfs_print in the original C API.
func (d *FocusSES) LogState(logger *slog.Logger, t int64, x int64) {
	ch := d.GetChange()
	logger.Info("focusses step",
		"t", t,
		"x", x,
		"status", d.statusName(),
		"background", d.bkg,
		"significance_std", ch.SignificanceStd,
		"offset", ch.Offset,
	)
}

func (d *FocusSES) statusName() string {
	switch d.st {
	case collect:
		return "collect"
	case update:
		return "update"
	case test:
		return "test"
	default:
		return "stopped"
	}
}
