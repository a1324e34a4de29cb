package bft

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsInvalidMajority(t *testing.T) {
	_, err := New(3, 1.5, 0.3, 4, 0, 0)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = New(3, 1.5, 0.3, 4, 0, DetectorsNumber+1)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func collectAll(t *testing.T, b *BFT, n int, x int64) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := b.Step([DetectorsNumber]int64{x, x, x, x})
		require.NoError(t, err)
	}
}

func TestAllQuiet_NeverTriggers(t *testing.T) {
	b, err := New(5, 1.5, 0.3, 4, 0, 3)
	require.NoError(t, err)

	collectAll(t, b, 8, 2)
	for i := 0; i < 500; i++ {
		trig, err := b.Step([DetectorsNumber]int64{2, 2, 2, 2})
		require.NoError(t, err)
		assert.False(t, trig)
	}
}

func TestThreeQuietOneSpiking_NoMajority(t *testing.T) {
	b, err := New(3, 1.5, 0.3, 4, 0, 3)
	require.NoError(t, err)

	collectAll(t, b, 8, 2)

	var everTriggered bool
	for i := 0; i < 50; i++ {
		trig, err := b.Step([DetectorsNumber]int64{20, 2, 2, 2})
		require.NoError(t, err)
		everTriggered = everTriggered || trig
	}
	assert.False(t, everTriggered, "a single spiking detector cannot reach a 3-of-4 majority")
}

func TestThreeSpikingOneQuiet_ReachesMajority(t *testing.T) {
	b, err := New(3, 1.5, 0.3, 4, 0, 3)
	require.NoError(t, err)

	collectAll(t, b, 8, 2)

	var triggered bool
	for i := 0; i < 50 && !triggered; i++ {
		trig, err := b.Step([DetectorsNumber]int64{20, 20, 20, 2})
		require.NoError(t, err)
		triggered = trig
	}
	assert.True(t, triggered, "three of four detectors spiking should reach a 3-of-4 majority")

	changes := b.GetChanges()
	var nonzero int
	for _, c := range changes {
		if c.SignificanceStd > 0 {
			nonzero++
		}
	}
	assert.GreaterOrEqual(t, nonzero, 3)
}

func TestDeadDetectors_ExcludedFromMajority(t *testing.T) {
	b, err := New(3, 1.5, 0.3, 4, 0, 3)
	require.NoError(t, err)

	collectAll(t, b, 8, 2)

	// Kill two detectors with invalid input; with majority=3 and only 2
	// left alive, this same tick already falls below majority and faults.
	_, err = b.Step([DetectorsNumber]int64{-1, -1, 2, 2})
	require.ErrorIs(t, err, ErrInvalidInput, "the tick that drops below majority faults immediately")

	assert.Equal(t, uint8(0b0011), b.DeadDetectors())

	_, err = b.Step([DetectorsNumber]int64{2, 2, 2, 2})
	require.ErrorIs(t, err, ErrInvalidInput, "only 2 of 4 detectors alive, below majority 3")
}

func TestLogState_DoesNotPanic(t *testing.T) {
	b, err := New(3, 1.5, 0.3, 4, 0, 3)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	xs := [DetectorsNumber]int64{2, 2, 2, 2}
	_, err = b.Step(xs)
	require.NoError(t, err)
	b.LogState(logger, 1, xs)
}

func TestDeadDetectorObserver_FiresOnEachNewDeath(t *testing.T) {
	var seen []uint8
	b, err := New(3, 1.5, 0.3, 4, 0, 1, WithDeadDetectorObserver(func(dead uint8) {
		seen = append(seen, dead)
	}))
	require.NoError(t, err)

	collectAll(t, b, 8, 2)

	_, err = b.Step([DetectorsNumber]int64{-1, -1, 2, 2})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, uint8(0b0001), seen[0])
	assert.Equal(t, uint8(0b0011), seen[1])
}
