// Package numeric holds the shared vector kernels used by the inference
// context, the encoders, and the training drivers. Keeping them in one
// place is what lets the batch and online encoders share a single set of
// state/transition/score primitives instead of re-deriving them (the
// upstream CRFsuite library, by contrast, carries three near-duplicate
// copies of these loops across crf1m, crf1d_learn and crf1d_train).
package numeric

import "math"

// Dot returns the dot product of a and b, which must have equal length.
func Dot(a, b []float64) float64 {
	var sum float64
	for i, av := range a {
		sum += av * b[i]
	}
	return sum
}

// AxpyScale computes dst[i] += scale*src[i] for every i.
func AxpyScale(dst []float64, scale float64, src []float64) {
	for i, v := range src {
		dst[i] += scale * v
	}
}

// Scale multiplies every element of v by factor, in place.
func Scale(v []float64, factor float64) {
	for i := range v {
		v[i] *= factor
	}
}

// Copy copies src into dst, which must be at least as long as src.
func Copy(dst, src []float64) {
	copy(dst, src)
}

// L2Norm2 returns the squared L2 norm of v.
func L2Norm2(v []float64) float64 {
	return Dot(v, v)
}

// L2Norm returns the L2 norm of v.
func L2Norm(v []float64) float64 {
	return math.Sqrt(L2Norm2(v))
}

// ClipL2 rescales v in place so its L2 norm does not exceed maxNorm.
// No-op if v is already within the bound.
func ClipL2(v []float64, maxNorm float64) {
	if maxNorm <= 0 {
		return
	}
	norm := L2Norm(v)
	if norm > maxNorm {
		Scale(v, maxNorm/norm)
	}
}

// ExpZeroPreserving applies the CRF forward-backward convention: a value
// that is exactly zero maps to 1 (treated as "feature absent, multiply by
// identity"), rather than the arithmetically equivalent exp(0). The
// distinction only matters because other code paths use the literal zero
// as a sentinel for "this cell was never written"; preserving it keeps
// binary-identical results with models trained elsewhere.
func ExpZeroPreserving(v []float64) {
	for i, x := range v {
		if x == 0 {
			v[i] = 1
		} else {
			v[i] = math.Exp(x)
		}
	}
}

// LogSumExp returns log(sum(exp(v))), computed by shifting by the maximum
// element to avoid overflow. Used by brute-force test helpers and by any
// future log-domain accumulation; the scaled forward-backward pass itself
// avoids this entirely (that is the point of the scaling trick).
func LogSumExp(v []float64) float64 {
	if len(v) == 0 {
		return math.Inf(-1)
	}
	max := v[0]
	for _, x := range v[1:] {
		if x > max {
			max = x
		}
	}
	if math.IsInf(max, -1) {
		return max
	}
	var sum float64
	for _, x := range v {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}
