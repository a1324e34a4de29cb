package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCount(t *testing.T) {
	x, err := parseCount([]string{"7"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), x)

	_, err = parseCount(nil)
	require.Error(t, err)
}

func TestParseCountBackground(t *testing.T) {
	x, b, err := parseCountBackground([]string{"3", "2.5"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), x)
	assert.InDelta(t, 2.5, b, 1e-12)

	_, _, err = parseCountBackground([]string{"3"})
	require.Error(t, err)
}

func TestParseRow4(t *testing.T) {
	xs, err := parseRow4([]string{"1", "2", "3", "4"})
	require.NoError(t, err)
	assert.Equal(t, [4]int64{1, 2, 3, 4}, xs)

	_, err = parseRow4([]string{"1", "2"})
	require.Error(t, err)
}
