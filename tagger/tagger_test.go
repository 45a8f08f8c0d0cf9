package tagger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrf/lcrf/encoder"
	"github.com/gocrf/lcrf/feature"
	"github.com/gocrf/lcrf/model"
	"github.com/gocrf/lcrf/modelio"
)

// buildInstanceAndTable mirrors modelio_test.go's fixture: 2 labels, 2
// attributes, a length-3 instance. Weights are all non-zero so default
// (pruning-enabled) Write leaves every id unchanged.
func buildInstanceAndTable(t *testing.T) (*model.Dataset, *feature.Table, []float64) {
	t.Helper()
	ds := model.NewDataset(2, 2)
	inst := model.NewInstance(0)
	a := model.NewItem(0)
	a.AddDefault(0)
	b := model.NewItem(1)
	b.AddDefault(1)
	a2 := model.NewItem(0)
	a2.AddDefault(0)
	inst.Append(a)
	inst.Append(b)
	inst.Append(a2)
	require.NoError(t, ds.Append(inst))

	table := feature.Generate(ds, feature.GenerateOptions{})
	weights := []float64{0.7, 0.5, -0.4, 0.2}
	return ds, table, weights
}

func TestTagMatchesEncoderViterbiAcrossSaveLoad(t *testing.T) {
	ds, table, weights := buildInstanceAndTable(t)

	enc := encoder.New(table)
	enc.SetWeights(weights)
	require.NoError(t, enc.SetInstance(&ds.Instances[0]))
	wantPath, wantScore, err := enc.Viterbi()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, modelio.Write(path, table, weights, nil, nil))

	tg, err := Open(path)
	require.NoError(t, err)
	defer tg.Close()

	ctx := tg.NewContext()
	gotPath, gotScore := tg.Tag(&ds.Instances[0], ctx)

	assert.Equal(t, wantPath, gotPath)
	assert.InDelta(t, wantScore, gotScore, 1e-9)
}

func TestTagOnEmptyInstanceReturnsNil(t *testing.T) {
	ds, table, weights := buildInstanceAndTable(t)
	_ = ds

	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, modelio.Write(path, table, weights, nil, nil))
	tg, err := Open(path)
	require.NoError(t, err)
	defer tg.Close()

	ctx := tg.NewContext()
	empty := model.NewInstance(0)
	path1, score := tg.Tag(&empty, ctx)
	assert.Nil(t, path1)
	assert.Equal(t, 0.0, score)
}

func TestTagNBestDescendingAndMatchesBest(t *testing.T) {
	ds, table, weights := buildInstanceAndTable(t)

	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, modelio.Write(path, table, weights, nil, nil))
	tg, err := Open(path)
	require.NoError(t, err)
	defer tg.Close()

	ctx := tg.NewContext()
	bestPath, bestScore := tg.Tag(&ds.Instances[0], ctx)

	ctx2 := tg.NewContext()
	paths, scores := tg.TagNBest(&ds.Instances[0], ctx2, 3)
	require.Len(t, paths, 3)
	require.Len(t, scores, 3)

	for i := 1; i < len(scores); i++ {
		assert.GreaterOrEqual(t, scores[i-1], scores[i], "TagNBest must be descending")
	}
	assert.Equal(t, bestPath, paths[0])
	assert.InDelta(t, bestScore, scores[0], 1e-9)
}

func TestTagNBestZeroOrNegativeNReturnsNothing(t *testing.T) {
	ds, table, weights := buildInstanceAndTable(t)

	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, modelio.Write(path, table, weights, nil, nil))
	tg, err := Open(path)
	require.NoError(t, err)
	defer tg.Close()

	ctx := tg.NewContext()
	paths, scores := tg.TagNBest(&ds.Instances[0], ctx, 0)
	assert.Nil(t, paths)
	assert.Nil(t, scores)
}

// TestTagNBestKeepsPerLabelFrontier pins the k-best frontier to being
// per destination label: the best full path here starts at the label
// whose prefix scores lower at t=0, so a single global top-1 frontier
// per position would discard it and decode a path 100 points worse.
func TestTagNBestKeepsPerLabelFrontier(t *testing.T) {
	ds := model.NewDataset(2, 1)
	inst := model.NewInstance(0)
	first := model.NewItem(0)
	first.AddDefault(0)
	inst.Append(first)
	inst.Append(model.NewItem(0))
	inst.Append(model.NewItem(0))
	require.NoError(t, ds.Append(inst))

	table := feature.Generate(ds, feature.GenerateOptions{
		ConnectAllStates:      true,
		ConnectAllTransitions: true,
	})
	require.Equal(t, 6, table.NumFeatures())

	// State(attr0->A)=10, State(attr0->B)=9; every transition out of A
	// costs -100, B->A is free and B->B gains 0.5. The unique best path
	// [B,B,B] scores 10; any path starting at A scores below -89.
	weights := []float64{10, 9, -100, -100, 0, 0.5}

	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, modelio.Write(path, table, weights, nil, nil))
	tg, err := Open(path)
	require.NoError(t, err)
	defer tg.Close()

	ctx := tg.NewContext()
	paths, scores := tg.TagNBest(&inst, ctx, 1)
	require.Len(t, paths, 1)
	assert.Equal(t, []int32{1, 1, 1}, paths[0])
	assert.InDelta(t, 10.0, scores[0], 1e-9)

	bestPath, bestScore := tg.Tag(&inst, ctx)
	assert.Equal(t, paths[0], bestPath)
	assert.InDelta(t, bestScore, scores[0], 1e-9)
}
