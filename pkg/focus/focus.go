// Package focus implements FOCuS, a page-Hinkley-style online Poisson
// change-point detector that maximizes a log-likelihood-ratio curve over a
// bounded, pruned stack of candidate change-points (Ward 2023, Dilillo
// 2024).
package focus

import (
	"errors"
	"log/slog"
	"math"

	"github.com/peppedilillo/focustrigger/pkg/curve"
	"github.com/peppedilillo/focustrigger/pkg/curvestack"
)

// ErrInvalidInput is returned at construction time when threshold/mu_min
// are out of domain, and at step time when x < 0 or b <= 0. A step-time
// occurrence latches the Focus into a stopped state.
var ErrInvalidInput = errors.New("focus: invalid input")

// ErrInvalidAllocation is returned when the curve stack could not be
// allocated (see curvestack.WithAllocator for how this can actually
// happen in Go).
var ErrInvalidAllocation = errors.New("focus: invalid allocation")

// MaxCurves is the capacity of the curve stack (PF_MAXCURVES).
const MaxCurves = 64

// change is the latest trigger observation: a non-negative
// log-likelihood-ratio significance and how many steps back the
// corresponding candidate change-point originated. It is the private
// representation; GetChange returns the public form with significance
// expressed in standard deviations.
type change struct {
	llr    float64
	offset int
}

// PublicChange is the public form of a change: significance in standard
// deviations and a non-negative step offset.
type PublicChange struct {
	SignificanceStd float64
	Offset          int
}

// Changepoint is the offline form of a change: the step at which the
// anomaly is deemed to have begun, and the step at which it was detected.
type Changepoint struct {
	SignificanceStd float64
	Changepoint     uint64
	Triggertime     uint64
}

// ChangeToChangepoint converts an online Change, observed at step t, into
// an offline Changepoint: Changepoint = t - Offset + 1, Triggertime = t.
func ChangeToChangepoint(c PublicChange, t uint64) Changepoint {
	return Changepoint{
		SignificanceStd: c.SignificanceStd,
		Changepoint:     t - uint64(c.Offset) + 1,
		Triggertime:     t,
	}
}

// Option configures a Focus at construction time.
type Option func(*options)

type options struct {
	stackOpts []curvestack.Option
}

// WithCurveStackOptions forwards options to the underlying curvestack.New
// call (e.g. curvestack.WithOverflowObserver, curvestack.WithAllocator).
func WithCurveStackOptions(opts ...curvestack.Option) Option {
	return func(o *options) { o.stackOpts = append(o.stackOpts, opts...) }
}

// Focus is a single FOCuS instance: a curve stack and the thresholds it is
// tested against. It is a strictly sequential state machine: Step is not
// re-entrant and must be externally serialized if shared across
// goroutines.
type Focus struct {
	running      bool
	stopErr      error
	curves       *curvestack.Stack
	change       change
	muCrit       float64
	thresholdLLR float64
}

// CheckParams validates thresholdStd and muMin without constructing a
// Focus, mirroring pf_check_inputs in the original C API.
func CheckParams(thresholdStd, muMin float64) error {
	if thresholdStd <= 0 || muMin < 1 {
		return ErrInvalidInput
	}
	return nil
}

// New validates parameters, allocates the curve stack seeded with
// curve.Tail then curve.Null, and returns a running Focus.
func New(thresholdStd, muMin float64, opts ...Option) (*Focus, error) {
	if err := CheckParams(thresholdStd, muMin); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	stack, err := curvestack.New(MaxCurves, o.stackOpts...)
	if err != nil {
		if errors.Is(err, curvestack.ErrInvalidAllocation) {
			return nil, errors.Join(ErrInvalidAllocation, err)
		}
		return nil, errors.Join(ErrInvalidInput, err)
	}
	stack.Reset()

	muCrit := 1.0
	if muMin != 1 {
		muCrit = (muMin - 1) / math.Log(muMin)
	}

	return &Focus{
		running:      true,
		curves:       stack,
		muCrit:       muCrit,
		thresholdLLR: thresholdStd * thresholdStd / 2,
	}, nil
}

// Close releases resources held by f. Go's garbage collector reclaims the
// curve stack on its own; Close exists for API symmetry with the
// handle-based init/terminate pairs this package's ABI equivalent exposes,
// and so callers that wire WithCurveStackOptions side effects (telemetry)
// have a deterministic point to stop observing.
func (f *Focus) Close() error { return nil }

// Step advances the detector by one tick: count x over background rate b.
// It returns whether this tick triggered, and an error if the Focus was
// already stopped or if x/b are out of domain (which also stops it).
func (f *Focus) Step(x int64, b float64) (bool, error) {
	f.change = change{}

	if !f.running {
		return false, f.stopErr
	}

	if x < 0 || b <= 0 {
		f.running = false
		f.stopErr = ErrInvalidInput
		f.change = change{}
		return false, ErrInvalidInput
	}

	f.change = f.stepHelper(x, b)
	return f.change.llr > 0, nil
}

// stepHelper implements the fast FOCuS updater (Dilillo 2024): pop,
// accumulate, prune dominated curves, then either reset (non-anomalous)
// or maximize and push both the popped and the new accumulator curve
// (anomalous).
func (f *Focus) stepHelper(x int64, b float64) change {
	p := f.curves.Pop()
	acc := curve.Add(p, x, b)

	for !curve.Dominates(p, f.curves.Peek(), acc) {
		p = f.curves.Pop()
	}

	if float64(acc.X-p.X) <= f.muCrit*(acc.B-p.B) {
		f.curves.Reset()
		return change{}
	}

	m := curve.Max(p, acc)
	acc.M = p.M + m

	ch := f.maximize(p, acc)

	f.curves.Push(p)
	f.curves.Push(acc)

	return ch
}

// maximize walks the stack downward from the curve just below the head
// (depth 0, i.e. the current Peek()), computing each candidate's LLR
// against acc, until one exceeds thresholdLLR (the newest such candidate
// wins, giving the smallest offset among qualifying candidates) or the
// cumulative potential falls below threshold. The walk is read-only: it
// inspects deeper curves via PeekAt rather than Pop, since those curves
// are still live on the stack and must survive this step unchanged —
// stepHelper pushes back its own p and acc once maximize returns,
// leaving everything maximize looked at exactly where it found it.
func (f *Focus) maximize(p, acc curve.Curve) change {
	m := acc.M - p.M
	depth := 0
	for m+p.M >= f.thresholdLLR {
		if m >= f.thresholdLLR {
			return change{llr: m, offset: int(acc.T - p.T)}
		}
		p = f.curves.PeekAt(depth)
		depth++
		m = curve.Max(p, acc)
	}
	return change{}
}

// GetChange returns the change observed on the most recent Step, in
// standard deviations. Calling it repeatedly without an intervening Step
// returns the same value.
func (f *Focus) GetChange() PublicChange {
	return PublicChange{
		SignificanceStd: math.Sqrt(2 * f.change.llr),
		Offset:          f.change.offset,
	}
}

// LogState emits a structured log line describing this tick: the tick
// index t, the count and background fed in, the live curve count, and
// the change observed (if any). Equivalent to pf_print in the original
// ABI, reshaped as slog attrs instead of a formatted line.
func (f *Focus) LogState(logger *slog.Logger, t int64, x int64, b float64) {
	ch := f.GetChange()
	logger.Info("focus step",
		"t", t,
		"x", x,
		"b", b,
		"curves", f.curves.Len(),
		"running", f.running,
		"significance_std", ch.SignificanceStd,
		"offset", ch.Offset,
	)
}
