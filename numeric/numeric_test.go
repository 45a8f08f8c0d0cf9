package numeric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDot(t *testing.T) {
	assert.InDelta(t, 32.0, Dot([]float64{1, 2, 3}, []float64{4, 5, 6}), 1e-12)
}

func TestAxpyScale(t *testing.T) {
	dst := []float64{1, 1, 1}
	AxpyScale(dst, 2.0, []float64{1, 2, 3})
	assert.InDeltaSlice(t, []float64{3, 5, 7}, dst, 1e-12)
}

func TestScale(t *testing.T) {
	v := []float64{1, 2, 3}
	Scale(v, 2)
	assert.InDeltaSlice(t, []float64{2, 4, 6}, v, 1e-12)
}

func TestL2Norm(t *testing.T) {
	v := []float64{3, 4}
	assert.InDelta(t, 25.0, L2Norm2(v), 1e-12)
	assert.InDelta(t, 5.0, L2Norm(v), 1e-12)
}

func TestClipL2(t *testing.T) {
	v := []float64{3, 4}
	ClipL2(v, 10) // within bound: no-op
	assert.InDeltaSlice(t, []float64{3, 4}, v, 1e-12)

	ClipL2(v, 2.5) // norm 5 > 2.5: rescale to exactly 2.5
	assert.InDelta(t, 2.5, L2Norm(v), 1e-9)

	// Never enlarges: clipping to a bound larger than the (already
	// shrunk) norm must not grow the vector back.
	before := append([]float64(nil), v...)
	ClipL2(v, 100)
	assert.InDeltaSlice(t, before, v, 1e-12)
}

func TestExpZeroPreserving(t *testing.T) {
	v := []float64{0, 1, -1, 2}
	ExpZeroPreserving(v)
	assert.InDelta(t, 1.0, v[0], 1e-12) // 0 -> 1, not exp(0) (same value, different convention)
	assert.InDelta(t, math.Exp(1), v[1], 1e-12)
	assert.InDelta(t, math.Exp(-1), v[2], 1e-12)
	assert.InDelta(t, math.Exp(2), v[3], 1e-12)
}

func TestLogSumExp(t *testing.T) {
	v := []float64{1, 2, 3}
	want := math.Log(math.Exp(1) + math.Exp(2) + math.Exp(3))
	assert.InDelta(t, want, LogSumExp(v), 1e-9)

	assert.True(t, math.IsInf(LogSumExp(nil), -1))
}
