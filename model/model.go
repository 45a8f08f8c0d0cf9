// Package model holds the CRF data model: attributes, items, instances
// and datasets. The feature table and its reference indices live in
// package feature. These types are read-only once built -- an Instance is
// owned by its Dataset after Append.
package model

// AttributeContent is an (attribute, scale) pair attached to an Item.
// Scale multiplies the corresponding feature's weight; it defaults to 1.0
// when unspecified by the caller.
type AttributeContent struct {
	AttributeID int32
	Scale       float64
}

// Item is one position in a sequence: the attributes observed there plus
// the gold label for that position.
type Item struct {
	Contents []AttributeContent
	LabelID  int32
}

// NewItem returns an Item with the given gold label and no contents yet.
func NewItem(labelID int32) Item {
	return Item{LabelID: labelID}
}

// Add appends an attribute with the given scale to the item. Duplicate
// attribute ids are permitted; their effects sum during scoring.
func (it *Item) Add(attributeID int32, scale float64) {
	it.Contents = append(it.Contents, AttributeContent{AttributeID: attributeID, Scale: scale})
}

// AddDefault appends an attribute with the default scale of 1.0.
func (it *Item) AddDefault(attributeID int32) {
	it.Add(attributeID, 1.0)
}

// Instance is an ordered sequence of Items, plus a group id used for
// holdout partitioning and an instance weight that scales its contribution
// to the batch objective and gradient (carried over from the original
// CRFsuite source; the distilled spec.md does not mention it, but
// crf1d_encoder multiplies every instance's frequency/expectation
// contribution by it).
type Instance struct {
	Items   []Item
	GroupID int32
	Weight  float64
}

// NewInstance returns an empty instance in the given holdout group with
// the default weight of 1.0.
func NewInstance(groupID int32) Instance {
	return Instance{GroupID: groupID, Weight: 1.0}
}

// Append adds an item to the instance.
func (inst *Instance) Append(item Item) {
	inst.Items = append(inst.Items, item)
}

// Len returns the instance's length T.
func (inst *Instance) Len() int { return len(inst.Items) }

// Labels returns the gold label sequence of the instance.
func (inst *Instance) Labels() []int32 {
	labels := make([]int32, len(inst.Items))
	for i, it := range inst.Items {
		labels[i] = it.LabelID
	}
	return labels
}

// Dataset is an ordered collection of instances sharing one attribute
// vocabulary size and one label vocabulary size. The sizes are supplied by
// the caller (typically read from the external dictionaries) rather than
// derived, so that pruning configured with connect_all_states/transitions
// can see labels or attributes that happen not to appear in any instance.
type Dataset struct {
	Instances  []Instance
	NumLabels  int
	NumAttrs   int
}

// NewDataset returns an empty dataset sized for the given vocabularies.
func NewDataset(numLabels, numAttrs int) *Dataset {
	return &Dataset{NumLabels: numLabels, NumAttrs: numAttrs}
}

// Append adds inst to the dataset. If inst contains an attribute or label
// id out of range, the instance is discarded and an error returned --
// the dataset is left in the state it was in before the call.
func (d *Dataset) Append(inst Instance) error {
	if inst.Weight == 0 {
		inst.Weight = 1.0
	}
	for _, item := range inst.Items {
		if item.LabelID < 0 || int(item.LabelID) >= d.NumLabels {
			return errOutOfRange("label", int(item.LabelID), d.NumLabels)
		}
		for _, c := range item.Contents {
			if c.AttributeID < 0 || int(c.AttributeID) >= d.NumAttrs {
				return errOutOfRange("attribute", int(c.AttributeID), d.NumAttrs)
			}
		}
	}
	d.Instances = append(d.Instances, inst)
	return nil
}

// MaxLength returns the length of the longest instance, or 0 if empty.
func (d *Dataset) MaxLength() int {
	max := 0
	for _, inst := range d.Instances {
		if inst.Len() > max {
			max = inst.Len()
		}
	}
	return max
}

// TotalInstanceWeight sums Weight across all instances; used by SGD's
// normalization of the regularization term (N in lambda = 2C/N).
func (d *Dataset) TotalInstanceWeight() float64 {
	var total float64
	for _, inst := range d.Instances {
		total += inst.Weight
	}
	return total
}

// Holdout splits the dataset by group id: instances whose GroupID equals
// holdoutGroup go to held, everything else to train. A negative
// holdoutGroup means "no holdout" -- everything goes to train.
func (d *Dataset) Holdout(holdoutGroup int32) (train, held []Instance) {
	if holdoutGroup < 0 {
		return d.Instances, nil
	}
	for _, inst := range d.Instances {
		if inst.GroupID == holdoutGroup {
			held = append(held, inst)
		} else {
			train = append(train, inst)
		}
	}
	return train, held
}
