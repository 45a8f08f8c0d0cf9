package passiveaggressive

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrf/lcrf/encoder"
	"github.com/gocrf/lcrf/feature"
	"github.com/gocrf/lcrf/model"
	"github.com/gocrf/lcrf/params"
)

func separableDataset(t *testing.T) *model.Dataset {
	t.Helper()
	ds := model.NewDataset(2, 2)
	for i := 0; i < 4; i++ {
		inst := model.NewInstance(0)
		a := model.NewItem(0)
		a.AddDefault(0)
		b := model.NewItem(1)
		b.AddDefault(1)
		inst.Append(a)
		inst.Append(b)
		require.NoError(t, ds.Append(inst))
	}
	return ds
}

func TestRegistryDefaults(t *testing.T) {
	r := Registry()
	assert.Equal(t, 1, r.GetInt("type"))
	assert.InDelta(t, 1.0, r.GetFloat("c"), 1e-12)
	assert.True(t, r.GetBool("error_sensitive"))
	assert.Equal(t, 100, r.GetInt("max_iterations"))
	assert.InDelta(t, 0.0, r.GetFloat("epsilon"), 1e-12)
}

// TestTauSelectionMatchesHandComputedValues is the spec's PA tau-selection
// scenario: loss=2.0, ||delta||^2=4.0, C=0.25 should give
// tau0=0.5, tau1=0.25, tau2≈0.333.
func TestTauSelectionMatchesHandComputedValues(t *testing.T) {
	const cost = 2.0
	const norm2 = 4.0
	const c = 0.25

	assert.InDelta(t, 0.5, tau0(cost, norm2, c), 1e-12)
	assert.InDelta(t, 0.25, tau1(cost, norm2, c), 1e-12)
	assert.InDelta(t, 1.0/3.0, tau2(cost, norm2, c), 1e-9)
}

func TestTau1ClampsToC(t *testing.T) {
	// When cost/norm2 exceeds c, PA-I clamps the step to c.
	got := tau1(100.0, 1.0, 0.25)
	assert.InDelta(t, 0.25, got, 1e-12)
}

func TestCostInsensitiveAndCostSensitive(t *testing.T) {
	assert.InDelta(t, 3.0, costInsensitive(2.0, 9.0), 1e-12)
	assert.InDelta(t, 5.0, costSensitive(2.0, 9.0), 1e-12)
}

func TestHammingDiff(t *testing.T) {
	assert.Equal(t, 0, hammingDiff([]int32{0, 1, 1}, []int32{0, 1, 1}))
	assert.Equal(t, 2, hammingDiff([]int32{0, 1, 1}, []int32{1, 0, 1}))
}

// TestAccumulateDedupedNorm2AndApplyDelta hand-verifies the dedup bitmap
// logic directly, independent of Train: a feature firing at two positions
// on the same path must only count once toward the squared norm and the
// weight update.
//
// With ConnectAllStates/ConnectAllTransitions, the 1-attribute/2-label
// table has ids: 0=State(attr0->0), 1=State(attr0->1), 2=Transition(0->0),
// 3=Transition(0->1), 4=Transition(1->0), 5=Transition(1->1).
func TestAccumulateDedupedNorm2AndApplyDelta(t *testing.T) {
	ds := model.NewDataset(2, 1)
	inst := model.NewInstance(0)
	a1 := model.NewItem(0)
	a1.AddDefault(0)
	a2 := model.NewItem(0)
	a2.AddDefault(0)
	inst.Append(a1)
	inst.Append(a2)
	require.NoError(t, ds.Append(inst))
	table := feature.Generate(ds, feature.GenerateOptions{ConnectAllStates: true, ConnectAllTransitions: true})
	require.Equal(t, 6, table.NumFeatures())

	enc := encoder.New(table)
	enc.SetWeights(make([]float64, table.NumFeatures()))
	require.NoError(t, enc.SetInstance(&ds.Instances[0]))

	// Gold path [0,0] fires State(attr0->0) (id 0) at both positions and
	// Transition(0->0) (id 2) once. Predicted path [1,1] fires
	// State(attr0->1) (id 1) at both positions and Transition(1->1)
	// (id 5) once. Each state id must be touched exactly once in the
	// dedup count, not twice, despite firing at two positions.
	delta := make([]float64, table.NumFeatures())
	used := make([]bool, table.NumFeatures())
	resetDelta(delta, used)
	require.NoError(t, accumulate(enc, delta, []int32{0, 0}, 1))
	require.NoError(t, accumulate(enc, delta, []int32{1, 1}, -1))

	want := map[int]float64{0: 2, 1: -2, 2: 1, 5: -1}
	for i, v := range delta {
		assert.InDelta(t, want[i], v, 1e-12, "delta[%d]", i)
	}

	norm2 := dedupedNorm2(delta, used)
	assert.InDelta(t, 10.0, norm2, 1e-12) // 2^2 + 2^2 + 1^2 + 1^2

	w := make([]float64, table.NumFeatures())
	applyDelta(w, delta, used, 0.5)
	for i, v := range delta {
		assert.InDelta(t, 0.5*v, w[i], 1e-12, "w[%d]", i)
	}
}

func TestTrainConvergesOnSeparableData(t *testing.T) {
	ds := separableDataset(t)
	table := feature.Generate(ds, feature.GenerateOptions{})

	reg := Registry()
	require.NoError(t, reg.Bind(params.NewFromConfigString("max_iterations=50,c=1.0")))

	enc := encoder.New(table)
	w, err := Train(enc, ds, nil, table.NumFeatures(), reg, nil, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	require.Len(t, w, table.NumFeatures())

	for _, wi := range w {
		assert.False(t, math.IsNaN(wi) || math.IsInf(wi, 0))
	}

	checker := encoder.New(table)
	checker.SetWeights(w)
	for i := range ds.Instances {
		inst := &ds.Instances[i]
		require.NoError(t, checker.SetInstance(inst))
		path, _, err := checker.Viterbi()
		require.NoError(t, err)
		assert.Equal(t, inst.Labels(), path, "instance %d should decode correctly after PA training on separable data", i)
	}
}

func TestTrainIsDeterministicGivenTheSameRandSource(t *testing.T) {
	ds := separableDataset(t)
	table := feature.Generate(ds, feature.GenerateOptions{})
	reg := Registry()
	require.NoError(t, reg.Bind(params.NewFromConfigString("max_iterations=5")))

	w1, err := Train(encoder.New(table), ds, nil, table.NumFeatures(), reg, nil, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	w2, err := Train(encoder.New(table), ds, nil, table.NumFeatures(), reg, nil, rand.New(rand.NewSource(9)))
	require.NoError(t, err)

	assert.InDeltaSlice(t, w1, w2, 1e-12)
}
