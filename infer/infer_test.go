package infer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrf/lcrf/numeric"
)

// allPaths enumerates every length-T sequence over L labels.
func allPaths(L, T int) [][]int32 {
	if T == 0 {
		return [][]int32{{}}
	}
	var out [][]int32
	var rec func(prefix []int32)
	rec = func(prefix []int32) {
		if len(prefix) == T {
			cp := append([]int32(nil), prefix...)
			out = append(out, cp)
			return
		}
		for l := 0; l < L; l++ {
			rec(append(prefix, int32(l)))
		}
	}
	rec(nil)
	return out
}

// bruteLogScore computes the additive log-space score of path given
// log-space state/trans tables laid out the same way Context does.
func bruteLogScore(state []float64, trans []float64, L int, path []int32) float64 {
	score := state[0*L+int(path[0])]
	for t := 1; t < len(path); t++ {
		score += trans[int(path[t-1])*L+int(path[t])]
		score += state[t*L+int(path[t])]
	}
	return score
}

func fillDistinctWeights(c *Context, L, T int) ([]float64, []float64) {
	// Arbitrary, pairwise-distinct weights so Viterbi has a unique optimum.
	logState := make([]float64, T*L)
	logTrans := make([]float64, L*L)
	n := 0.0
	for t := 0; t < T; t++ {
		for l := 0; l < L; l++ {
			v := math.Sin(float64(n)*1.7+0.3) * 2.1
			logState[t*L+l] = v
			copy(c.StateAt(t), logState[t*L:(t+1)*L])
			n++
		}
	}
	for i := 0; i < L; i++ {
		for j := 0; j < L; j++ {
			v := math.Cos(float64(n)*1.3+0.7) * 1.9
			logTrans[i*L+j] = v
			n++
		}
	}
	for i := 0; i < L; i++ {
		copy(c.TransFrom(i), logTrans[i*L:(i+1)*L])
	}
	return logState, logTrans
}

func TestViterbiMatchesBruteForceOptimum(t *testing.T) {
	const L, T = 3, 6
	c := New(L, T)
	logState, logTrans := fillDistinctWeights(c, L, T)

	path, score := c.Viterbi()
	require.Len(t, path, T)

	var bestScore = math.Inf(-1)
	var bestPath []int32
	for _, p := range allPaths(L, T) {
		s := bruteLogScore(logState, logTrans, L, p)
		if s > bestScore {
			bestScore = s
			bestPath = p
		}
	}

	assert.InDelta(t, bestScore, score, 1e-9)
	assert.Equal(t, bestPath, path)
	assert.InDelta(t, bestScore, c.Score(path), 1e-9)
}

func TestAlphaPassMatchesBruteForcePartitionFunction(t *testing.T) {
	const L, T = 2, 3
	c := New(L, T)
	logState, logTrans := fillDistinctWeights(c, L, T)

	var logScores []float64
	for _, p := range allPaths(L, T) {
		logScores = append(logScores, bruteLogScore(logState, logTrans, L, p))
	}
	wantLogZ := numeric.LogSumExp(logScores)

	c.ExpState()
	c.ExpTransition()
	c.AlphaPass()

	assert.InDelta(t, wantLogZ, c.LogNorm, 1e-9)
}

func TestMarginalsAreConsistentProbabilities(t *testing.T) {
	const L, T = 2, 4
	c := New(L, T)
	fillDistinctWeights(c, L, T)

	c.ExpState()
	c.ExpTransition()
	c.AlphaPass()
	c.BetaPass()
	c.Marginals()

	for pos := 0; pos < T; pos++ {
		var sum float64
		for l := 0; l < L; l++ {
			m := c.StateMarginal(pos, l)
			assert.GreaterOrEqual(t, m, -1e-9)
			sum += m
		}
		assert.InDelta(t, 1.0, sum, 1e-7)
	}

	// MExpTrans accumulates the pairwise joint p(y_t=i, y_{t+1}=j) over
	// every interior position t, so its total mass is T-1 (one unit of
	// probability per transition position), not 1.
	var pairSum float64
	for i := 0; i < L; i++ {
		for j := 0; j < L; j++ {
			pairSum += c.TransMarginal(i, j)
		}
	}
	assert.InDelta(t, float64(T-1), pairSum, 1e-7)
}

// TestTransMarginalMatchesStateMarginalForTwoItemInstance isolates a single
// transition position (T=2 has exactly one) so the joint marginal summed
// over the destination label must equal the state marginal at the source
// position exactly, with no cross-position accumulation to account for.
func TestTransMarginalMatchesStateMarginalForTwoItemInstance(t *testing.T) {
	const L, T = 3, 2
	c := New(L, T)
	fillDistinctWeights(c, L, T)

	c.ExpState()
	c.ExpTransition()
	c.AlphaPass()
	c.BetaPass()
	c.Marginals()

	for i := 0; i < L; i++ {
		var rowSum float64
		for j := 0; j < L; j++ {
			rowSum += c.TransMarginal(i, j)
		}
		assert.InDelta(t, c.StateMarginal(0, i), rowSum, 1e-6)
	}
}

func TestUniformWeightsGiveUniformMarginals(t *testing.T) {
	const L, T = 3, 4
	c := New(L, T)
	// Leave State/Trans at their zero value (all-zero log-space scores):
	// the zero-preserving exp convention maps 0 -> 1, making every path
	// equally likely.
	c.ExpState()
	c.ExpTransition()
	c.AlphaPass()
	c.BetaPass()
	c.Marginals()

	for tt := 0; tt < T; tt++ {
		for l := 0; l < L; l++ {
			assert.InDelta(t, 1.0/float64(L), c.StateMarginal(tt, l), 1e-9)
		}
	}
	// Accumulated over all T-1 transition positions, each uniform at
	// 1/(L*L).
	want := float64(T-1) / float64(L*L)
	for i := 0; i < L; i++ {
		for j := 0; j < L; j++ {
			assert.InDelta(t, want, c.TransMarginal(i, j), 1e-9)
		}
	}
}

func TestSingleItemInstance(t *testing.T) {
	const L, T = 4, 1
	c := New(L, T)
	copy(c.StateAt(0), []float64{0.1, 2.0, -1.0, 0.5})

	path, score := c.Viterbi()
	require.Len(t, path, 1)
	assert.Equal(t, int32(1), path[0]) // label 1 has the highest state score
	assert.InDelta(t, 2.0, score, 1e-12)

	c.ExpState()
	c.ExpTransition()
	c.AlphaPass()
	c.BetaPass()
	c.Marginals()
	var sum float64
	for l := 0; l < L; l++ {
		sum += c.StateMarginal(0, l)
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestResetZeroesSelectedBuffers(t *testing.T) {
	c := New(2, 2)
	copy(c.StateAt(0), []float64{1, 2})
	copy(c.StateAt(1), []float64{3, 4})
	copy(c.TransFrom(0), []float64{5, 6})

	c.Reset(ResetState)
	assert.Equal(t, []float64{0, 0, 0, 0}, c.State)
	assert.Equal(t, []float64{5, 6, 0, 0}, c.Trans)

	copy(c.TransFrom(1), []float64{7, 8})
	c.Reset(ResetTrans)
	assert.Equal(t, []float64{0, 0, 0, 0}, c.Trans)
}

func TestSetNumItemsGrowsWithoutShrinking(t *testing.T) {
	c := New(2, 1)
	copy(c.StateAt(0), []float64{9, 9})
	c.SetNumItems(5)
	assert.Equal(t, 5, c.T)
	assert.GreaterOrEqual(t, len(c.State), 5*2)
}

// TestLiteralVectorAllSequenceProbabilities pins the scaled
// forward-backward to a fixed L=3, T=3 table of multiplicative scores
// and checks the partition function and all 27 sequence probabilities
// against full enumeration.
func TestLiteralVectorAllSequenceProbabilities(t *testing.T) {
	const L, T = 3, 3
	state := [T][L]float64{
		{0.4, 0.5, 0.1},
		{0.4, 0.1, 0.5},
		{0.4, 0.1, 0.5},
	}
	trans := [L][L]float64{
		{0.3, 0.1, 0.4},
		{0.6, 0.3, 0.1},
		{0.5, 0.2, 0.1},
	}

	c := New(L, T)
	for ti := 0; ti < T; ti++ {
		copy(c.StateAt(ti), state[ti][:])
	}
	for i := 0; i < L; i++ {
		copy(c.TransFrom(i), trans[i][:])
	}
	c.AlphaPass()
	c.BetaPass()

	pathProduct := func(p []int32) float64 {
		prod := state[0][p[0]]
		for ti := 1; ti < T; ti++ {
			prod *= trans[p[ti-1]][p[ti]] * state[ti][p[ti]]
		}
		return prod
	}

	var z float64
	for _, p := range allPaths(L, T) {
		z += pathProduct(p)
	}
	require.InDelta(t, math.Log(z), c.LogNorm, 1e-9)

	for _, p := range allPaths(L, T) {
		want := pathProduct(p) / z
		got := math.Exp(c.LogProb(p))
		assert.InDelta(t, want, got, 1e-9, "sequence %v", p)
	}
}
