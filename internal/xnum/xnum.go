// Package xnum holds small generic numeric helpers shared across this
// module's leaf packages. It generalizes the teacher's per-type mean
// helper (pkg/system/util in the source this module was adapted from)
// over golang.org/x/exp/constraints, the same way go-catrate's ring
// buffer generalizes over constraints.Ordered.
package xnum

import "golang.org/x/exp/constraints"

// Mean returns the arithmetic mean of vs as a float64. If vs is empty it
// returns NaN (0/0); callers are expected to guard that themselves (mirrors the
// precondition style used across this module's leaf packages).
func Mean[T constraints.Integer | constraints.Float](vs []T) float64 {
	var total float64
	for _, v := range vs {
		total += float64(v)
	}
	return total / float64(len(vs))
}
