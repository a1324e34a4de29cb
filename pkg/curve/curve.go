// Package curve implements the candidate change-point record at the heart
// of the FOCuS algorithm, and the log-likelihood-ratio math over pairs of
// curves (Ward 2023, Dilillo 2024).
package curve

import (
	"math"

	"github.com/peppedilillo/focustrigger/internal/assertx"
)

// Curve is a candidate change-point record. X is the accumulated count
// since the candidate change, B the accumulated background, T the step
// index at which the candidate was created, M the cumulative
// log-likelihood-ratio contribution up to that creation.
type Curve struct {
	X int64
	B float64
	T int64
	M float64
}

// Null is the bottom-of-stack sentinel: a candidate change at the very
// start of the series, contributing nothing yet.
var Null = Curve{}

// Tail is a floor sentinel that no real curve can ever dominate, since its
// X is the largest representable count.
var Tail = Curve{X: math.MaxInt64}

// Add accumulates one tick of (x, b) onto the curve, advancing its step
// index and carrying its LLR contribution forward unchanged.
func Add(c Curve, x int64, b float64) Curve {
	return Curve{X: c.X + x, B: c.B + b, T: c.T + 1, M: c.M}
}

// Max returns the log-likelihood-ratio of the elevated-rate alternative
// against the constant-rate null, between a candidate p and the current
// accumulator acc: sum(acc) - sum(p) counts over sum(acc) - sum(p)
// background, versus the null rate.
//
// Preconditions: acc.X - p.X strictly exceeds acc.B - p.B (guaranteed by
// the anomalous-branch test in the FOCuS step that calls this).
func Max(p, acc Curve) float64 {
	x := float64(acc.X - p.X)
	b := acc.B - p.B
	assertx.Never(x <= b, "curve: max called with x <= b")
	return x*math.Log(x/b) - (x - b)
}

// Dominates reports whether p's excess-count-per-background ratio (since
// acc) exceeds q's, using a cross-multiplication to avoid a division.
// Domination determines which curves can be pruned from the stack: a
// curve dominated by the one above it can never win the maximization in
// step 6.3's maximize, since the curve above already accounts for a
// steeper Poisson rate.
func Dominates(p, q, acc Curve) bool {
	pX := float64(acc.X - p.X)
	pB := acc.B - p.B
	qX := float64(acc.X - q.X)
	qB := acc.B - q.B
	return pX*qB-qX*pB > 0
}
