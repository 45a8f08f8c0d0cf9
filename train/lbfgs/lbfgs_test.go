package lbfgs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/optimize"

	"github.com/gocrf/lcrf/encoder"
	"github.com/gocrf/lcrf/feature"
	"github.com/gocrf/lcrf/model"
	"github.com/gocrf/lcrf/params"
)

// separableDataset builds a trivially linearly-separable 2-label dataset:
// three identical length-2 instances, attribute 0 always co-occurs with
// label A and attribute 1 always with label B, with an A->B transition
// every time. A convex, well-regularized optimizer has no excuse not to
// recover a weight vector that decodes every instance correctly.
func separableDataset(t *testing.T) *model.Dataset {
	t.Helper()
	ds := model.NewDataset(2, 2)
	for i := 0; i < 3; i++ {
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
	assert.Equal(t, "L2", r.GetString("regularization"))
	assert.InDelta(t, 10.0, r.GetFloat("regularization.sigma"), 1e-12)
	assert.Equal(t, 6, r.GetInt("lbfgs.num_memories"))
	assert.Equal(t, "MoreThuente", r.GetString("lbfgs.linesearch"))
	assert.Equal(t, 20, r.GetInt("lbfgs.linesearch.max_iterations"))
	assert.Equal(t, 10, r.GetInt("lbfgs.stop"))
	assert.InDelta(t, 1e-5, r.GetFloat("lbfgs.delta"), 1e-18)
}

func TestSelectLinesearcher(t *testing.T) {
	ls, err := selectLinesearcher("MoreThuente", false)
	require.NoError(t, err)
	assert.IsType(t, &optimize.MoreThuente{}, ls)

	ls, err = selectLinesearcher("Backtracking", false)
	require.NoError(t, err)
	assert.IsType(t, &optimize.Backtracking{}, ls)

	ls, err = selectLinesearcher("StrongBacktracking", false)
	require.NoError(t, err)
	assert.IsType(t, &optimize.Backtracking{}, ls)

	// L1 forces backtracking no matter what was configured.
	ls, err = selectLinesearcher("MoreThuente", true)
	require.NoError(t, err)
	assert.IsType(t, &optimize.Backtracking{}, ls)

	_, err = selectLinesearcher("bogus", false)
	assert.Error(t, err)
}

func TestTrainConvergesOnSeparableData(t *testing.T) {
	ds := separableDataset(t)
	table := feature.Generate(ds, feature.GenerateOptions{})

	reg := Registry()
	require.NoError(t, reg.Bind(params.NewFromConfigString("regularization.sigma=10,lbfgs.max_iterations=100")))

	enc := encoder.New(table)
	w, err := Train(enc, ds, nil, table.NumFeatures(), reg, nil)
	require.NoError(t, err)
	require.Len(t, w, table.NumFeatures())

	checker := encoder.New(table)
	checker.SetWeights(w)
	for i := range ds.Instances {
		inst := &ds.Instances[i]
		require.NoError(t, checker.SetInstance(inst))
		path, _, err := checker.Viterbi()
		require.NoError(t, err)
		assert.Equal(t, inst.Labels(), path, "instance %d should decode to its gold labels after training", i)
	}
}

func TestTrainRejectsUnknownRegularization(t *testing.T) {
	ds := separableDataset(t)
	table := feature.Generate(ds, feature.GenerateOptions{})
	reg := Registry()
	require.NoError(t, reg.Bind(params.NewFromConfigString("regularization=bogus")))

	enc := encoder.New(table)
	_, err := Train(enc, ds, nil, table.NumFeatures(), reg, nil)
	assert.Error(t, err)
}

func TestL1NormAndSoftSign(t *testing.T) {
	assert.InDelta(t, 6.0, l1Norm([]float64{2, -3, 1}), 1e-12)
	assert.Equal(t, 1.0, softSign(2.5))
	assert.Equal(t, -1.0, softSign(-0.1))
	assert.Equal(t, 0.0, softSign(0))
}

func TestCountActive(t *testing.T) {
	assert.Equal(t, 2, countActive([]float64{0, 1.5, 0, -2}))
}
