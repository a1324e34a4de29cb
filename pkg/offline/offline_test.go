package offline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peppedilillo/focustrigger/pkg/bft"
)

func TestFocus_RejectsMismatchedLengths(t *testing.T) {
	_, _, err := Focus(3, 1.5, []int64{1, 2}, []float64{2})
	require.Error(t, err)
}

func TestFocus_NoTriggerOnSteadyBackground(t *testing.T) {
	xs := make([]int64, 100)
	bs := make([]float64, 100)
	for i := range xs {
		xs[i] = 2
		bs[i] = 2.0
	}

	cp, ok, err := Focus(5, 1.5, xs, bs)
	require.NoError(t, err)
	assert.False(t, ok)
	// A clean run converts off t = len(xs), not the last valid index: the
	// series had no changepoint, so Changepoint sits one past the series.
	assert.Equal(t, uint64(100), cp.Triggertime)
	assert.Equal(t, uint64(101), cp.Changepoint)
	assert.Zero(t, cp.SignificanceStd)
}

func TestFocus_TriggersOnStepJump(t *testing.T) {
	xs := make([]int64, 60)
	bs := make([]float64, 60)
	for i := range xs {
		bs[i] = 2.0
		if i < 10 {
			xs[i] = 2
		} else {
			xs[i] = 10
		}
	}

	cp, ok, err := Focus(3, 1.5, xs, bs)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, cp.SignificanceStd, 0.0)
	assert.LessOrEqual(t, cp.Changepoint, cp.Triggertime)
}

func TestFocusSES_TriggersOnStepJump(t *testing.T) {
	xs := make([]int64, 60)
	for i := range xs {
		if i < 20 {
			xs[i] = 2
		} else {
			xs[i] = 20
		}
	}

	cp, ok, err := FocusSES(3, 1.5, 0.3, 4, 0, xs)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, cp.SignificanceStd, 0.0)
}

func TestBFT_MajorityTriggerReported(t *testing.T) {
	rows := make([][bft.DetectorsNumber]int64, 60)
	for i := range rows {
		if i < 20 {
			rows[i] = [bft.DetectorsNumber]int64{2, 2, 2, 2}
		} else {
			rows[i] = [bft.DetectorsNumber]int64{20, 20, 20, 2}
		}
	}

	res, err := BFT(3, 1.5, 0.3, 4, 0, 3, rows)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, uint8(0), res.Dead)
}

func TestBFT_TooManyDeadFaults(t *testing.T) {
	rows := make([][bft.DetectorsNumber]int64, 20)
	for i := range rows {
		rows[i] = [bft.DetectorsNumber]int64{2, 2, 2, 2}
	}
	// force two detectors dead at once after collection
	rows = append(rows, [bft.DetectorsNumber]int64{-1, -1, 2, 2})
	rows = append(rows, [bft.DetectorsNumber]int64{2, 2, 2, 2})

	res, err := BFT(3, 1.5, 0.3, 4, 0, 3, rows)
	require.Error(t, err)
	assert.Equal(t, uint8(0b0011), res.Dead)
	// The fault lands on row index 20 (the 21st row, the one that kills
	// the second detector): Triggertime is that tick, not the end of rows.
	assert.Equal(t, uint64(20), res.Changepoint.Triggertime)
	assert.Equal(t, uint64(21), res.Changepoint.Changepoint)
}
