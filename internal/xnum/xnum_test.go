package xnum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	got := Mean([]int64{1, 2, 3, 4, 5})
	require.InDelta(t, 3.0, got, 1e-12)

	got = Mean([]float64{0.5, 1.5})
	require.InDelta(t, 1.0, got, 1e-12)
}
