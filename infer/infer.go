// Package infer implements the forward-backward algorithm in scaled
// probability space, the Viterbi decoder in log space, and the marginal
// probability computation -- the numerical core of the CRF, per §4.1.
//
// A Context owns flat buffers sized for the largest instance seen so far
// (SetNumItems grows them monotonically) and lends out typed views rather
// than being rebuilt per call. The domain a buffer currently holds (log
// additive scores, or exponentiated multiplicative scores) is the caller's
// responsibility to track -- see encoder.Level for the run-time guard that
// rejects out-of-order calls at that layer.
package infer

import (
	"math"

	"github.com/gocrf/lcrf/lcrferrors"
	"github.com/gocrf/lcrf/numeric"
)

// ResetFlags selects which per-call buffers Reset zeros.
type ResetFlags uint8

const (
	ResetState ResetFlags = 1 << iota
	ResetTrans
)

// Context holds the state, transition, forward, backward and Viterbi
// buffers for one inference call. It is reused across instances within
// one encoder or tagger; T grows but never shrinks the underlying
// allocation.
type Context struct {
	L    int // number of labels
	T    int // current instance length
	tCap int // allocated capacity along the T dimension

	State []float64 // [T][L], row-major
	Trans []float64 // [L][L], row-major; reused across instances

	Alpha []float64 // [T][L]
	Beta  []float64 // [T][L]
	Scale []float64 // [T]
	Back  []int32   // [T][L] Viterbi backpointers

	MExpState []float64 // [T][L] state marginals, populated on demand
	MExpTrans []float64 // [L][L] transition marginals, populated on demand

	LogNorm float64
}

// New returns a Context for L labels, with buffers pre-sized for an
// instance of length tCap (0 is fine; SetNumItems grows lazily).
func New(L, tCap int) *Context {
	c := &Context{L: L}
	c.Trans = make([]float64, L*L)
	c.MExpTrans = make([]float64, L*L)
	if tCap > 0 {
		c.SetNumItems(tCap)
	}
	return c
}

func (c *Context) grow(tCap int) {
	c.State = make([]float64, tCap*c.L)
	c.Alpha = make([]float64, tCap*c.L)
	c.Beta = make([]float64, tCap*c.L)
	c.Scale = make([]float64, tCap)
	c.Back = make([]int32, tCap*c.L)
	c.MExpState = make([]float64, tCap*c.L)
	c.tCap = tCap
}

// SetNumItems sets the current instance length T, growing buffers if
// T exceeds the previous capacity.
func (c *Context) SetNumItems(T int) {
	if T > c.tCap {
		c.grow(T)
	}
	c.T = T
}

// Reset zeros the buffers selected by flags. Transition scores are
// per-model and typically reset once per weight update; state scores are
// per-instance and reset before every new instance.
func (c *Context) Reset(flags ResetFlags) {
	if flags&ResetTrans != 0 {
		for i := range c.Trans {
			c.Trans[i] = 0
		}
	}
	if flags&ResetState != 0 {
		n := c.T * c.L
		for i := 0; i < n; i++ {
			c.State[i] = 0
		}
	}
}

func (c *Context) stateRow(t int) []float64 { return c.State[t*c.L : (t+1)*c.L] }
func (c *Context) alphaRow(t int) []float64 { return c.Alpha[t*c.L : (t+1)*c.L] }
func (c *Context) betaRow(t int) []float64  { return c.Beta[t*c.L : (t+1)*c.L] }
func (c *Context) transRow(i int) []float64 { return c.Trans[i*c.L : (i+1)*c.L] }
func (c *Context) backRow(t int) []int32    { return c.Back[t*c.L : (t+1)*c.L] }

// StateAt returns the mutable state-score row for position t; callers
// fill it between resets.
func (c *Context) StateAt(t int) []float64 { return c.stateRow(t) }

// TransFrom returns the mutable transition-score row for source label i.
func (c *Context) TransFrom(i int) []float64 { return c.transRow(i) }

// ExpState applies the zero-preserving exp to every state score.
func (c *Context) ExpState() {
	numeric.ExpZeroPreserving(c.State[:c.T*c.L])
}

// ExpTransition applies the zero-preserving exp to every transition score.
func (c *Context) ExpTransition() {
	numeric.ExpZeroPreserving(c.Trans)
}

// AlphaPass runs the scaled forward pass. Requires State and Trans to
// already hold exponentiated (multiplicative) scores.
func (c *Context) AlphaPass() {
	L := c.L
	cur := c.alphaRow(0)
	state := c.stateRow(0)
	var sum float64
	for j := 0; j < L; j++ {
		cur[j] = state[j]
		sum += cur[j]
	}
	c.Scale[0] = scaleOf(sum)
	numeric.Scale(cur, c.Scale[0])

	for t := 1; t < c.T; t++ {
		prev := c.alphaRow(t - 1)
		cur := c.alphaRow(t)
		state := c.stateRow(t)
		sum = 0
		for j := 0; j < L; j++ {
			var score float64
			for i := 0; i < L; i++ {
				score += prev[i] * c.transRow(i)[j]
			}
			cur[j] = score * state[j]
			sum += cur[j]
		}
		c.Scale[t] = scaleOf(sum)
		numeric.Scale(cur, c.Scale[t])
	}

	var logNorm float64
	for t := 0; t < c.T; t++ {
		logNorm -= math.Log(c.Scale[t])
	}
	c.LogNorm = logNorm
}

func scaleOf(sum float64) float64 {
	if sum != 0 {
		return 1 / sum
	}
	return 1
}

// BetaPass runs the scaled backward pass. Requires AlphaPass to have run
// first (it consumes the scale factors AlphaPass computed).
func (c *Context) BetaPass() {
	L := c.L
	T := c.T
	cur := c.betaRow(T - 1)
	scale := c.Scale[T-1]
	for i := 0; i < L; i++ {
		cur[i] = scale
	}

	for t := T - 2; t >= 0; t-- {
		cur := c.betaRow(t)
		next := c.betaRow(t + 1)
		state := c.stateRow(t + 1)
		scale := c.Scale[t]
		for i := 0; i < L; i++ {
			trans := c.transRow(i)
			var score float64
			for j := 0; j < L; j++ {
				score += trans[j] * state[j] * next[j]
			}
			cur[i] = score * scale
		}
	}
}

// Marginals populates MExpState and MExpTrans from the already-run
// alpha/beta pass:
//
//	p(y_t = l | x)          = alpha[t][l] * beta[t][l] / scale[t]
//	p(y_t=i, y_{t+1}=j | x) = alpha[t][i] * trans[i][j] * state[t+1][j] * beta[t+1][j]
func (c *Context) Marginals() {
	L := c.L
	for t := 0; t < c.T; t++ {
		alpha := c.alphaRow(t)
		beta := c.betaRow(t)
		dst := c.MExpState[t*L : (t+1)*L]
		inv := 1 / c.Scale[t]
		for l := 0; l < L; l++ {
			dst[l] = alpha[l] * beta[l] * inv
		}
	}

	for i := range c.MExpTrans {
		c.MExpTrans[i] = 0
	}
	for t := 0; t < c.T-1; t++ {
		alpha := c.alphaRow(t)
		state := c.stateRow(t + 1)
		beta := c.betaRow(t + 1)
		for i := 0; i < L; i++ {
			trans := c.transRow(i)
			dst := c.MExpTrans[i*L : (i+1)*L]
			for j := 0; j < L; j++ {
				dst[j] += alpha[i] * trans[j] * state[j] * beta[j]
			}
		}
	}
}

// StateMarginal returns p(y_t = l | x) after Marginals has run.
func (c *Context) StateMarginal(t, l int) float64 { return c.MExpState[t*c.L+l] }

// TransMarginal returns p(y_t=i, y_{t+1}=j | x) after Marginals has run.
func (c *Context) TransMarginal(i, j int) float64 { return c.MExpTrans[i*c.L+j] }

// Score sums the State/Trans entries along `path` (length T). The result
// is the log-domain path score only while the tables hold additive
// log-space scores (the same tables Viterbi uses); on exponentiated
// tables the entries are still summed, not multiplied.
func (c *Context) Score(path []int32) float64 {
	var score float64
	score += c.stateRow(0)[path[0]]
	for t := 1; t < c.T; t++ {
		score += c.transRow(int(path[t-1]))[path[t]]
		score += c.stateRow(t)[path[t]]
	}
	return score
}

// LogProb returns log p(path | x) given State/Trans are exponentiated and
// AlphaPass has already set LogNorm. It recomputes the additive log score
// via explicit logs rather than reusing Score (which would need the
// additive tables instead).
func (c *Context) LogProb(path []int32) float64 {
	logScore := math.Log(c.stateRow(0)[path[0]])
	for t := 1; t < c.T; t++ {
		logScore += math.Log(c.transRow(int(path[t-1]))[path[t]])
		logScore += math.Log(c.stateRow(t)[path[t]])
	}
	return logScore - c.LogNorm
}

// Viterbi requires State and Trans to hold additive (log-space) scores.
// It fills Back and returns the path score together with the decoded path.
func (c *Context) Viterbi() (path []int32, score float64) {
	L, T := c.L, c.T
	if T == 0 {
		return nil, 0
	}

	cur := c.alphaRow(0)
	state := c.stateRow(0)
	copy(cur, state)

	for t := 1; t < T; t++ {
		prev := c.alphaRow(t - 1)
		cur := c.alphaRow(t)
		state := c.stateRow(t)
		back := c.backRow(t)
		for j := 0; j < L; j++ {
			maxScore := math.Inf(-1)
			var argmax int32
			for i := 0; i < L; i++ {
				s := prev[i] + c.transRow(i)[j]
				if s > maxScore {
					maxScore = s
					argmax = int32(i)
				}
			}
			back[j] = argmax
			cur[j] = maxScore + state[j]
		}
	}

	last := c.alphaRow(T - 1)
	maxScore := math.Inf(-1)
	var argmax int32
	for i := 0; i < L; i++ {
		if last[i] > maxScore {
			maxScore = last[i]
			argmax = int32(i)
		}
	}

	path = make([]int32, T)
	path[T-1] = argmax
	for t := T - 2; t >= 0; t-- {
		path[t] = c.backRow(t + 1)[path[t+1]]
	}
	return path, maxScore
}

// RequireLogSpace is a documentation-level guard callers in this package
// never need (Viterbi has no way to tell if State/Trans hold log or
// exponentiated scores -- that invariant lives one layer up, in
// encoder.Level). It exists so a caller reaching straight into infer
// without going through an Encoder gets an explicit error instead of
// silently wrong Viterbi output, by calling this before Viterbi if in
// doubt.
func (c *Context) RequireLogSpace(wasExponentiated bool) error {
	if wasExponentiated {
		return lcrferrors.New(lcrferrors.InternalLogic,
			"viterbi requires additive (log-space) state/trans tables, got exponentiated tables")
	}
	return nil
}
