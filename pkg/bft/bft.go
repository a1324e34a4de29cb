// Package bft implements BFT, a Byzantine-inspired fault-tolerant
// detector manager: DetectorsNumber independent FOCuS-SES instances
// voted by majority, with a sticky bitmap of detectors that have
// permanently stopped.
package bft

import (
	"errors"
	"log/slog"
	"math/bits"

	"github.com/peppedilillo/focustrigger/pkg/focus"
	"github.com/peppedilillo/focustrigger/pkg/focusses"
)

// DetectorsNumber is the fixed number of parallel FOCuS-SES detectors a
// BFT manages.
const DetectorsNumber = 4

// ErrInvalidInput is returned at construction time when any parameter,
// including majority, is out of domain, and at step time when too few
// detectors remain alive to reach majority.
var ErrInvalidInput = errors.New("bft: invalid input")

// ErrInvalidAllocation is returned when a detector could not be
// allocated.
var ErrInvalidAllocation = errors.New("bft: invalid allocation")

// Option configures a BFT at construction time.
type Option func(*options)

type options struct {
	detectorOpts []focusses.Option
	onDeadChange func(dead uint8)
}

// WithDetectorOptions forwards options to each underlying focusses.New
// call.
func WithDetectorOptions(opts ...focusses.Option) Option {
	return func(o *options) { o.detectorOpts = append(o.detectorOpts, opts...) }
}

// WithDeadDetectorObserver registers a callback invoked every time the
// dead-detector bitmap changes, passing the new bitmap. pkg/telemetry
// uses this to drive a gauge without bft importing telemetry directly.
func WithDeadDetectorObserver(f func(dead uint8)) Option {
	return func(o *options) { o.onDeadChange = f }
}

// BFT manages DetectorsNumber FOCuS-SES detectors. A bit i of dead is set
// the first time detector i latches into its stopped state for a reason
// other than a trigger (i.e. on invalid input); once set, it is never
// cleared for the lifetime of the BFT.
type BFT struct {
	detectors [DetectorsNumber]*focusses.FocusSES
	dead      uint8
	majority  int

	onDeadChange func(dead uint8)

	changes [DetectorsNumber]focus.PublicChange
}

// CheckParams validates every BFT parameter without constructing an
// instance, mirroring bft_check_inputs in the original C API.
func CheckParams(thresholdStd, muMin, alpha float64, m, sleep, majority int) error {
	if err := focusses.CheckParams(thresholdStd, muMin, alpha, m, sleep); err != nil {
		return ErrInvalidInput
	}
	if majority < 1 || majority > DetectorsNumber {
		return ErrInvalidInput
	}
	return nil
}

// New validates parameters and constructs DetectorsNumber independent
// FOCuS-SES detectors, each starting in the collect phase.
func New(thresholdStd, muMin, alpha float64, m, sleep, majority int, opts ...Option) (*BFT, error) {
	if err := CheckParams(thresholdStd, muMin, alpha, m, sleep, majority); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	b := &BFT{majority: majority, onDeadChange: o.onDeadChange}
	for i := range b.detectors {
		d, err := focusses.New(thresholdStd, muMin, alpha, m, sleep, o.detectorOpts...)
		if err != nil {
			if errors.Is(err, focusses.ErrInvalidAllocation) {
				return nil, errors.Join(ErrInvalidAllocation, err)
			}
			return nil, errors.Join(ErrInvalidInput, err)
		}
		b.detectors[i] = d
	}
	return b, nil
}

// Close releases resources held by b. See focus.Focus.Close for why this
// is a no-op kept for API symmetry.
func (b *BFT) Close() error { return nil }

// Step advances all live detectors by one tick, one count per detector.
// It reports whether at least Majority detectors triggered this tick. A
// detector that reports an error is marked dead and excluded from every
// future vote. The alive count is checked after this tick's detectors
// have all stepped: the very tick that drops the number of live
// detectors below Majority already returns ErrInvalidInput, alongside
// whatever vote this tick produced.
func (b *BFT) Step(xs [DetectorsNumber]int64) (bool, error) {
	for i := range b.changes {
		b.changes[i] = focus.PublicChange{}
	}

	var votes int
	for i, d := range b.detectors {
		if b.isDead(i) {
			continue
		}
		trig, err := d.Step(xs[i])
		if err != nil {
			b.markDead(i)
			continue
		}
		if trig {
			votes++
			b.changes[i] = d.GetChange()
		}
	}

	triggered := votes >= b.majority
	if DetectorsNumber-bits.OnesCount8(b.dead) < b.majority {
		return triggered, ErrInvalidInput
	}
	return triggered, nil
}

// isDead reports whether detector i has been marked dead.
func (b *BFT) isDead(i int) bool {
	return b.dead&(1<<uint(i)) != 0
}

// markDead sets bit i of the dead bitmap and notifies the observer, if
// any, of the updated bitmap. The bitmap is sticky: a detector never
// rejoins the vote once marked dead.
func (b *BFT) markDead(i int) {
	if b.isDead(i) {
		return
	}
	b.dead |= 1 << uint(i)
	if b.onDeadChange != nil {
		b.onDeadChange(b.dead)
	}
}

// DeadDetectors returns the current sticky dead-detector bitmap. Bit i
// set means detector i has permanently stopped.
func (b *BFT) DeadDetectors() uint8 { return b.dead }

// GetChanges returns the change observed on the most recent Step for
// each detector. A detector that did not trigger (including one that is
// dead or was skipped) reports the zero Change.
func (b *BFT) GetChanges() [DetectorsNumber]focus.PublicChange { return b.changes }

// LogState emits a structured log line describing this tick: the counts
// fed to each detector, the dead bitmap, and which detectors voted to
// trigger. Equivalent to bft_print in the original ABI.
func (b *BFT) LogState(logger *slog.Logger, t int64, xs [DetectorsNumber]int64) {
	logger.Info("bft step",
		"t", t,
		"xs", xs,
		"dead", b.dead,
		"alive", DetectorsNumber-bits.OnesCount8(b.dead),
		"majority", b.majority,
	)
}
