// Package offline implements batch drivers over the three online
// detectors: each runs a detector over a fixed series of counts and
// backgrounds, stopping at the first trigger, the first error, or the
// end of the series, whichever comes first.
package offline

import (
	"context"
	"errors"

	"github.com/peppedilillo/focustrigger/pkg/bft"
	"github.com/peppedilillo/focustrigger/pkg/focus"
	"github.com/peppedilillo/focustrigger/pkg/focusses"
)

// FocusOption configures a Focus run.
type FocusOption func(*focusOptions)

type focusOptions struct {
	ctx         context.Context
	detectorOpt []focus.Option
	onStep      func(t int, det *focus.Focus, x int64, b float64)
}

// WithFocusContext makes the run check ctx.Err() before every tick,
// returning it as err the moment it's non-nil. Without this option the
// run always goes to completion, a trigger, or a detector error.
func WithFocusContext(ctx context.Context) FocusOption {
	return func(o *focusOptions) { o.ctx = ctx }
}

// WithFocusDetectorOptions forwards options to the underlying focus.New
// call (e.g. focus.WithCurveStackOptions, to wire telemetry).
func WithFocusDetectorOptions(opts ...focus.Option) FocusOption {
	return func(o *focusOptions) { o.detectorOpt = append(o.detectorOpt, opts...) }
}

// WithFocusStepObserver registers a callback invoked after every tick,
// trigger or not, with the detector as it stood right after Step. Callers
// use this for verbose per-tick logging without the run itself knowing
// anything about logging.
func WithFocusStepObserver(f func(t int, det *focus.Focus, x int64, b float64)) FocusOption {
	return func(o *focusOptions) { o.onStep = f }
}

// FocusSESOption configures a FocusSES run.
type FocusSESOption func(*focusSESOptions)

type focusSESOptions struct {
	ctx         context.Context
	detectorOpt []focusses.Option
	onStep      func(t int, det *focusses.FocusSES, x int64)
}

// WithFocusSESContext is the FocusSES equivalent of WithFocusContext.
func WithFocusSESContext(ctx context.Context) FocusSESOption {
	return func(o *focusSESOptions) { o.ctx = ctx }
}

// WithFocusSESDetectorOptions forwards options to the underlying
// focusses.New call.
func WithFocusSESDetectorOptions(opts ...focusses.Option) FocusSESOption {
	return func(o *focusSESOptions) { o.detectorOpt = append(o.detectorOpt, opts...) }
}

// WithFocusSESStepObserver is the FocusSES equivalent of
// WithFocusStepObserver.
func WithFocusSESStepObserver(f func(t int, det *focusses.FocusSES, x int64)) FocusSESOption {
	return func(o *focusSESOptions) { o.onStep = f }
}

// BFTOption configures a BFT run.
type BFTOption func(*bftOptions)

type bftOptions struct {
	ctx         context.Context
	detectorOpt []bft.Option
	onStep      func(t int, det *bft.BFT, xs [bft.DetectorsNumber]int64)
}

// WithBFTContext is the BFT equivalent of WithFocusContext.
func WithBFTContext(ctx context.Context) BFTOption {
	return func(o *bftOptions) { o.ctx = ctx }
}

// WithBFTDetectorOptions forwards options to the underlying bft.New call.
func WithBFTDetectorOptions(opts ...bft.Option) BFTOption {
	return func(o *bftOptions) { o.detectorOpt = append(o.detectorOpt, opts...) }
}

// WithBFTStepObserver is the BFT equivalent of WithFocusStepObserver.
func WithBFTStepObserver(f func(t int, det *bft.BFT, xs [bft.DetectorsNumber]int64)) BFTOption {
	return func(o *bftOptions) { o.onStep = f }
}

// Focus runs a bare FOCuS detector over counts xs against matched
// backgrounds bs (xs and bs must be the same length), returning the
// first Changepoint detected. ok is false if the series ran to
// completion without a trigger, in which case cp is still converted off
// t = len(xs) rather than the zero value, same as a Changepoint
// converted from an early error at the tick it occurred on: both
// outcomes carry a meaningful (Changepoint, Triggertime), only the
// significance is zero. An error from the detector propagates
// immediately, mirroring pf_interface's treatment of a latched stop as a
// distinct outcome from a clean, triggerless run.
func Focus(thresholdStd, muMin float64, xs []int64, bs []float64, opts ...FocusOption) (cp focus.Changepoint, ok bool, err error) {
	if len(xs) != len(bs) {
		return focus.Changepoint{}, false, errors.New("offline: xs and bs must have equal length")
	}

	var o focusOptions
	for _, opt := range opts {
		opt(&o)
	}

	f, err := focus.New(thresholdStd, muMin, o.detectorOpt...)
	if err != nil {
		return focus.Changepoint{}, false, err
	}

	for t, x := range xs {
		if o.ctx != nil {
			if err := o.ctx.Err(); err != nil {
				return focus.ChangeToChangepoint(focus.PublicChange{}, uint64(t)), false, err
			}
		}

		trig, err := f.Step(x, bs[t])
		if err != nil {
			return focus.ChangeToChangepoint(focus.PublicChange{}, uint64(t)), false, err
		}
		if o.onStep != nil {
			o.onStep(t, f, x, bs[t])
		}
		if trig {
			return focus.ChangeToChangepoint(f.GetChange(), uint64(t)), true, nil
		}
	}
	return focus.ChangeToChangepoint(focus.PublicChange{}, uint64(len(xs))), false, nil
}

// FocusSES runs a FOCuS-SES detector over counts xs, returning the first
// Changepoint detected. ok is false if the series ran to completion
// without a trigger.
func FocusSES(thresholdStd, muMin, alpha float64, m, sleep int, xs []int64, opts ...FocusSESOption) (cp focus.Changepoint, ok bool, err error) {
	var o focusSESOptions
	for _, opt := range opts {
		opt(&o)
	}

	d, err := focusses.New(thresholdStd, muMin, alpha, m, sleep, o.detectorOpt...)
	if err != nil {
		return focus.Changepoint{}, false, err
	}

	for t, x := range xs {
		if o.ctx != nil {
			if err := o.ctx.Err(); err != nil {
				return focus.ChangeToChangepoint(focus.PublicChange{}, uint64(t)), false, err
			}
		}

		trig, err := d.Step(x)
		if err != nil {
			return focus.ChangeToChangepoint(focus.PublicChange{}, uint64(t)), false, err
		}
		if o.onStep != nil {
			o.onStep(t, d, x)
		}
		if trig {
			return focus.ChangeToChangepoint(d.GetChange(), uint64(t)), true, nil
		}
	}
	return focus.ChangeToChangepoint(focus.PublicChange{}, uint64(len(xs))), false, nil
}

// BFTResult is the offline outcome of a BFT run: the majority-vote
// trigger, if any, plus the final sticky dead-detector bitmap (so a
// caller can tell a clean non-trigger apart from a run that ended
// because too many detectors died).
type BFTResult struct {
	Changepoint focus.Changepoint
	Triggered   bool
	Dead        uint8
}

// BFT runs a BFT manager over rows, one row per tick holding exactly
// bft.DetectorsNumber counts, returning on the first majority trigger or
// the first fatal error (too few detectors alive to reach majority).
func BFT(thresholdStd, muMin, alpha float64, m, sleep, majority int, rows [][bft.DetectorsNumber]int64, opts ...BFTOption) (BFTResult, error) {
	var o bftOptions
	for _, opt := range opts {
		opt(&o)
	}

	b, err := bft.New(thresholdStd, muMin, alpha, m, sleep, majority, o.detectorOpt...)
	if err != nil {
		return BFTResult{}, err
	}

	for t, row := range rows {
		if o.ctx != nil {
			if err := o.ctx.Err(); err != nil {
				return BFTResult{
					Changepoint: focus.ChangeToChangepoint(focus.PublicChange{}, uint64(t)),
					Dead:        b.DeadDetectors(),
				}, err
			}
		}

		trig, err := b.Step(row)
		if err != nil {
			return BFTResult{
				Changepoint: focus.ChangeToChangepoint(focus.PublicChange{}, uint64(t)),
				Dead:        b.DeadDetectors(),
			}, err
		}
		if o.onStep != nil {
			o.onStep(t, b, row)
		}
		if trig {
			changes := b.GetChanges()
			best := bestChange(changes)
			return BFTResult{
				Changepoint: focus.ChangeToChangepoint(best, uint64(t)),
				Triggered:   true,
				Dead:        b.DeadDetectors(),
			}, nil
		}
	}
	return BFTResult{
		Changepoint: focus.ChangeToChangepoint(focus.PublicChange{}, uint64(len(rows))),
		Dead:        b.DeadDetectors(),
	}, nil
}

// bestChange picks the most significant of the detectors that voted to
// trigger this tick, the offline equivalent of bft_interface reporting a
// single representative changepoint for a majority event.
func bestChange(changes [bft.DetectorsNumber]focus.PublicChange) focus.PublicChange {
	var best focus.PublicChange
	for _, c := range changes {
		if c.SignificanceStd > best.SignificanceStd {
			best = c
		}
	}
	return best
}
