package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrf/lcrf/lcrferrors"
)

func newItem(attr int32, label int32) Item {
	it := NewItem(label)
	it.AddDefault(attr)
	return it
}

func TestItemAddAndAddDefault(t *testing.T) {
	it := NewItem(2)
	it.Add(5, 0.5)
	it.AddDefault(6)
	require.Len(t, it.Contents, 2)
	assert.Equal(t, AttributeContent{AttributeID: 5, Scale: 0.5}, it.Contents[0])
	assert.Equal(t, AttributeContent{AttributeID: 6, Scale: 1.0}, it.Contents[1])
	assert.Equal(t, int32(2), it.LabelID)
}

func TestInstanceAppendAndLabels(t *testing.T) {
	inst := NewInstance(0)
	assert.Equal(t, 1.0, inst.Weight)
	inst.Append(newItem(0, 0))
	inst.Append(newItem(1, 1))
	assert.Equal(t, 2, inst.Len())
	assert.Equal(t, []int32{0, 1}, inst.Labels())
}

func TestDatasetAppendRangeChecks(t *testing.T) {
	ds := NewDataset(2, 3)

	good := NewInstance(0)
	good.Append(newItem(0, 0))
	good.Append(newItem(2, 1))
	require.NoError(t, ds.Append(good))
	assert.Len(t, ds.Instances, 1)

	badLabel := NewInstance(0)
	badLabel.Append(newItem(0, 5))
	err := ds.Append(badLabel)
	require.Error(t, err)
	assert.Equal(t, lcrferrors.InternalLogic, lcrferrors.KindOf(err))
	// A failed Append leaves the dataset untouched.
	assert.Len(t, ds.Instances, 1)

	badAttr := NewInstance(0)
	badAttr.Append(newItem(9, 0))
	err = ds.Append(badAttr)
	require.Error(t, err)
	assert.Len(t, ds.Instances, 1)
}

func TestDatasetAppendDefaultsZeroWeightToOne(t *testing.T) {
	ds := NewDataset(2, 2)
	inst := Instance{GroupID: 0} // Weight left at zero value
	inst.Append(newItem(0, 0))
	require.NoError(t, ds.Append(inst))
	assert.Equal(t, 1.0, ds.Instances[0].Weight)
}

func TestMaxLength(t *testing.T) {
	ds := NewDataset(2, 2)
	short := NewInstance(0)
	short.Append(newItem(0, 0))
	long := NewInstance(0)
	long.Append(newItem(0, 0))
	long.Append(newItem(1, 1))
	long.Append(newItem(0, 0))
	require.NoError(t, ds.Append(short))
	require.NoError(t, ds.Append(long))
	assert.Equal(t, 3, ds.MaxLength())
}

func TestTotalInstanceWeight(t *testing.T) {
	ds := NewDataset(2, 2)
	a := NewInstance(0)
	a.Append(newItem(0, 0))
	a.Weight = 2.0
	b := NewInstance(0)
	b.Append(newItem(0, 0))
	b.Weight = 0.5
	require.NoError(t, ds.Append(a))
	require.NoError(t, ds.Append(b))
	assert.InDelta(t, 2.5, ds.TotalInstanceWeight(), 1e-12)
}

func TestHoldout(t *testing.T) {
	ds := NewDataset(2, 2)
	for g := int32(0); g < 3; g++ {
		inst := NewInstance(g)
		inst.Append(newItem(0, 0))
		require.NoError(t, ds.Append(inst))
	}

	train, held := ds.Holdout(1)
	assert.Len(t, held, 1)
	assert.Len(t, train, 2)
	assert.Equal(t, int32(1), held[0].GroupID)

	allTrain, noHeld := ds.Holdout(-1)
	assert.Len(t, allTrain, 3)
	assert.Nil(t, noHeld)
}
