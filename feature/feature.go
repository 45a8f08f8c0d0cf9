// Package feature enumerates state and transition features from a
// Dataset, prunes them by frequency, and builds the attribute/label
// reference indices the inference loops use to avoid pointer chasing.
package feature

import (
	"sort"

	"github.com/gocrf/lcrf/model"
)

// Kind distinguishes a state feature (attribute -> label) from a
// transition feature (label -> label).
type Kind uint8

const (
	State Kind = iota
	Transition
)

// Feature is one row of the feature table: a (kind, src, dst) triple with
// its observed frequency (the observation expectation on training data).
type Feature struct {
	Kind      Kind
	Src, Dst  int32
	Frequency float64
}

// Table is the sorted, deduplicated array of surviving features. Feature
// id is the index into Features.
type Table struct {
	Features []Feature

	// AttrRefs[a] lists the feature ids of state features with Src == a.
	AttrRefs [][]int32
	// LabelRefs[i] lists the feature ids of transition features with
	// Src == i.
	LabelRefs [][]int32

	NumLabels int
	NumAttrs  int
}

// GenerateOptions controls feature enumeration, mirroring the
// feature.minfreq / feature.possible_states / feature.possible_transitions
// configuration keys.
type GenerateOptions struct {
	ConnectAllStates      bool
	ConnectAllTransitions bool
	MinFrequency          float64
}

type key struct {
	kind     Kind
	src, dst int32
}

// Generate enumerates features from ds per §4.2: a pass that counts
// frequencies and dedupes by (kind, src, dst), followed by pruning and a
// deterministic sort that becomes the feature id assignment.
func Generate(ds *model.Dataset, opts GenerateOptions) *Table {
	freq := make(map[key]float64)

	touch := func(k key, f float64) {
		freq[k] += f
	}

	for _, inst := range ds.Instances {
		var prevLabel int32 = -1
		for t, item := range inst.Items {
			for _, c := range item.Contents {
				touch(key{State, c.AttributeID, item.LabelID}, c.Scale*inst.Weight)
			}
			if opts.ConnectAllStates {
				for l := 0; l < ds.NumLabels; l++ {
					for _, c := range item.Contents {
						k := key{State, c.AttributeID, int32(l)}
						if _, ok := freq[k]; !ok {
							freq[k] = 0
						}
					}
				}
			}
			if t >= 1 {
				touch(key{Transition, prevLabel, item.LabelID}, inst.Weight)
			}
			prevLabel = item.LabelID
		}
	}

	if opts.ConnectAllTransitions {
		for i := 0; i < ds.NumLabels; i++ {
			for j := 0; j < ds.NumLabels; j++ {
				k := key{Transition, int32(i), int32(j)}
				if _, ok := freq[k]; !ok {
					freq[k] = 0
				}
			}
		}
	}

	features := make([]Feature, 0, len(freq))
	for k, f := range freq {
		if f < opts.MinFrequency {
			continue
		}
		features = append(features, Feature{Kind: k.kind, Src: k.src, Dst: k.dst, Frequency: f})
	}

	sort.Slice(features, func(i, j int) bool {
		a, b := features[i], features[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Src != b.Src {
			return a.Src < b.Src
		}
		return a.Dst < b.Dst
	})

	t := &Table{Features: features, NumLabels: ds.NumLabels, NumAttrs: ds.NumAttrs}
	t.buildRefs()
	return t
}

// buildRefs constructs AttrRefs and LabelRefs in two passes (count, then
// fill) so each id's list occupies a contiguous segment of one flat
// buffer, rather than being built as separate per-id heap allocations.
func (t *Table) buildRefs() {
	attrCounts := make([]int32, t.NumAttrs)
	labelCounts := make([]int32, t.NumLabels)
	for _, f := range t.Features {
		switch f.Kind {
		case State:
			attrCounts[f.Src]++
		case Transition:
			labelCounts[f.Src]++
		}
	}

	attrBuf := make([]int32, 0, sum(attrCounts))
	attrOffsets := make([]int, t.NumAttrs+1)
	for a, c := range attrCounts {
		attrOffsets[a+1] = attrOffsets[a] + int(c)
	}
	attrBuf = attrBuf[:cap(attrBuf)]
	attrFill := make([]int, t.NumAttrs)

	labelBuf := make([]int32, sum(labelCounts))
	labelOffsets := make([]int, t.NumLabels+1)
	for l, c := range labelCounts {
		labelOffsets[l+1] = labelOffsets[l] + int(c)
	}
	labelFill := make([]int, t.NumLabels)

	for fid, f := range t.Features {
		switch f.Kind {
		case State:
			pos := attrOffsets[f.Src] + attrFill[f.Src]
			attrBuf[pos] = int32(fid)
			attrFill[f.Src]++
		case Transition:
			pos := labelOffsets[f.Src] + labelFill[f.Src]
			labelBuf[pos] = int32(fid)
			labelFill[f.Src]++
		}
	}

	t.AttrRefs = make([][]int32, t.NumAttrs)
	for a := 0; a < t.NumAttrs; a++ {
		t.AttrRefs[a] = attrBuf[attrOffsets[a]:attrOffsets[a+1]]
	}
	t.LabelRefs = make([][]int32, t.NumLabels)
	for l := 0; l < t.NumLabels; l++ {
		t.LabelRefs[l] = labelBuf[labelOffsets[l]:labelOffsets[l+1]]
	}
}

func sum(xs []int32) int {
	var s int
	for _, x := range xs {
		s += int(x)
	}
	return s
}

// NumFeatures returns the number of surviving features, K.
func (t *Table) NumFeatures() int { return len(t.Features) }
