package focus

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppedilillo/focustrigger/pkg/curve"
	"github.com/peppedilillo/focustrigger/pkg/curvestack"
)

func TestNew_RejectsInvalidParams(t *testing.T) {
	_, err := New(0, 2)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = New(3, 0.5)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestStep_RejectsNegativeCountAndLatchesStopped(t *testing.T) {
	f, err := New(3, 1.5)
	require.NoError(t, err)

	trig, err := f.Step(-1, 2)
	assert.False(t, trig)
	require.ErrorIs(t, err, ErrInvalidInput)

	// Once stopped, every further Step returns the latched error.
	_, err = f.Step(1, 2)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestStep_RejectsNonPositiveBackground(t *testing.T) {
	f, err := New(3, 1.5)
	require.NoError(t, err)

	_, err = f.Step(1, 0)
	require.ErrorIs(t, err, ErrInvalidInput)
}

// TestMaximize_PreservesDeeperCurvesOnStack exercises a dive that must look
// past the first candidate (p) into a curve still sitting on the stack,
// because p's own LLR doesn't clear the threshold but the deeper curve's
// does. maximize must find that hit by reading the stack, not popping it:
// both curves have to still be there afterward, in the same order.
func TestMaximize_PreservesDeeperCurvesOnStack(t *testing.T) {
	stack, err := curvestack.New(8)
	require.NoError(t, err)
	stack.Reset()

	q1 := curve.Curve{X: 2, B: 1, T: 3, M: 0.2}
	q0 := curve.Curve{X: 5, B: 2, T: 6, M: 0.5}
	stack.Push(q1)
	stack.Push(q0)

	f := &Focus{running: true, curves: stack, muCrit: 1, thresholdLLR: 0.5}

	p := curve.Curve{X: 8, B: 3, T: 9, M: 0.8}
	acc := curve.Curve{X: 9, B: 3.5, T: 10}
	acc.M = p.M + curve.Max(p, acc)

	ch := f.maximize(p, acc)

	// p alone doesn't clear the threshold; the dive has to reach q0 to
	// find a candidate whose own LLR does.
	require.Greater(t, ch.llr, 0.0)
	assert.Equal(t, int(acc.T-q0.T), ch.offset)

	// maximize only reads the stack below p: q0 and q1 must still be
	// exactly where they were, in the same order, nothing lost.
	require.Equal(t, 4, stack.Len())
	assert.Equal(t, q0, stack.PeekAt(0))
	assert.Equal(t, q1, stack.PeekAt(1))
	assert.Equal(t, curve.Null, stack.PeekAt(2))
	assert.Equal(t, curve.Tail, stack.PeekAt(3))
}

func TestStep_SteadyBackgroundNeverTriggers(t *testing.T) {
	f, err := New(5, 1.5)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		trig, err := f.Step(2, 2.0)
		require.NoError(t, err)
		assert.False(t, trig)
	}
}

func TestStep_SustainedRateIncreaseTriggers(t *testing.T) {
	f, err := New(3, 1.5)
	require.NoError(t, err)

	var triggered bool
	for i := 0; i < 50 && !triggered; i++ {
		trig, err := f.Step(10, 2.0)
		require.NoError(t, err)
		triggered = trig
	}

	require.True(t, triggered, "sustained 5x rate increase should eventually trigger")
	ch := f.GetChange()
	assert.Greater(t, ch.SignificanceStd, 0.0)
	assert.GreaterOrEqual(t, ch.Offset, 0)
}

func TestGetChange_IsZeroWhenNoTrigger(t *testing.T) {
	f, err := New(5, 1.5)
	require.NoError(t, err)

	_, err = f.Step(2, 2.0)
	require.NoError(t, err)
	ch := f.GetChange()
	assert.Equal(t, 0.0, ch.SignificanceStd)
	assert.Equal(t, 0, ch.Offset)
}

func TestLogState_DoesNotPanic(t *testing.T) {
	f, err := New(3, 1.5)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err = f.Step(2, 2.0)
	require.NoError(t, err)
	f.LogState(logger, 1, 2, 2.0)
}

func TestChangeToChangepoint_ComputesOrigin(t *testing.T) {
	c := PublicChange{SignificanceStd: 4.2, Offset: 3}
	cp := ChangeToChangepoint(c, 100)
	assert.Equal(t, uint64(98), cp.Changepoint)
	assert.Equal(t, uint64(100), cp.Triggertime)
	assert.Equal(t, 4.2, cp.SignificanceStd)
}
