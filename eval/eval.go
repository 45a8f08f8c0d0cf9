// Package eval computes tagging accuracy and per-label/macro precision,
// recall and F1 over a held-out set, scoring folds concurrently with
// golang.org/x/sync/errgroup the way a batch evaluation pass would be
// split across CPUs in the teacher's concurrent pipelines.
package eval

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/gocrf/lcrf/model"
	"github.com/gocrf/lcrf/tagger"
)

// OnlineDecoder is the per-instance decode surface holdout scoring needs
// from an encoder mid-training, before any model file exists. An
// *encoder.Encoder satisfies it.
type OnlineDecoder interface {
	SetWeights(w []float64)
	SetInstance(inst *model.Instance) error
	Viterbi() ([]int32, float64, error)
}

// HoldoutAccuracy tags every instance with dec at weights w and returns
// the item-level accuracy plus the number of items scored. Used by the
// training drivers to report held-out performance after each epoch.
func HoldoutAccuracy(dec OnlineDecoder, w []float64, instances []model.Instance) (accuracy float64, items int, err error) {
	var correct int
	dec.SetWeights(w)
	for i := range instances {
		inst := &instances[i]
		if err := dec.SetInstance(inst); err != nil {
			return 0, 0, err
		}
		predicted, _, err := dec.Viterbi()
		if err != nil {
			return 0, 0, err
		}
		for t, g := range inst.Labels() {
			items++
			if predicted[t] == g {
				correct++
			}
		}
	}
	if items > 0 {
		accuracy = float64(correct) / float64(items)
	}
	return accuracy, items, nil
}

// LabelScore holds one label's confusion counts and derived metrics.
type LabelScore struct {
	Label              int32
	TruePositives      int
	FalsePositives     int
	FalseNegatives      int
	Precision, Recall, F1 float64
}

// Report is the full evaluation result: per-label scores plus accuracy
// and macro-averaged precision/recall/F1.
type Report struct {
	Labels   []LabelScore
	Accuracy float64
	MacroP   float64
	MacroR   float64
	MacroF1  float64

	TotalItems   int
	CorrectItems int
}

// Evaluate tags every instance in instances with t (using a fresh
// per-call Context so concurrent Evaluate calls on the same Tagger are
// safe) and aggregates confusion counts into a Report.
func Evaluate(t *tagger.Tagger, instances []model.Instance) Report {
	counts := make([]LabelScore, t.NumLabels())
	for l := range counts {
		counts[l].Label = int32(l)
	}

	ctx := t.NewContext()
	var totalItems, correctItems int

	for i := range instances {
		inst := &instances[i]
		predicted, _ := t.Tag(inst, ctx)
		gold := inst.Labels()
		for ti := range gold {
			totalItems++
			g, p := gold[ti], predicted[ti]
			if g == p {
				correctItems++
				counts[g].TruePositives++
			} else {
				counts[p].FalsePositives++
				counts[g].FalseNegatives++
			}
		}
	}

	return finishReport(counts, totalItems, correctItems)
}

// EvaluateSharded splits instances into numShards contiguous folds,
// tags and scores each fold concurrently (one tagger.Context per
// goroutine, per §5's concurrency contract), and merges the per-shard
// confusion counts into one Report.
func EvaluateSharded(t *tagger.Tagger, instances []model.Instance, numShards int) (Report, error) {
	if numShards <= 1 || len(instances) < numShards {
		return Evaluate(t, instances), nil
	}

	shardSize := (len(instances) + numShards - 1) / numShards
	numLabels := t.NumLabels()
	shardCounts := make([][]LabelScore, numShards)
	shardTotals := make([]int, numShards)
	shardCorrect := make([]int, numShards)

	g, _ := errgroup.WithContext(context.Background())
	for s := 0; s < numShards; s++ {
		s := s
		start := s * shardSize
		end := start + shardSize
		if end > len(instances) {
			end = len(instances)
		}
		if start >= end {
			continue
		}
		g.Go(func() error {
			counts := make([]LabelScore, numLabels)
			for l := range counts {
				counts[l].Label = int32(l)
			}
			ctx := t.NewContext()
			var total, correct int
			for i := start; i < end; i++ {
				inst := &instances[i]
				predicted, _ := t.Tag(inst, ctx)
				gold := inst.Labels()
				for ti := range gold {
					total++
					gl, pl := gold[ti], predicted[ti]
					if gl == pl {
						correct++
						counts[gl].TruePositives++
					} else {
						counts[pl].FalsePositives++
						counts[gl].FalseNegatives++
					}
				}
			}
			shardCounts[s] = counts
			shardTotals[s] = total
			shardCorrect[s] = correct
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	merged := make([]LabelScore, numLabels)
	for l := range merged {
		merged[l].Label = int32(l)
	}
	var totalItems, correctItems int
	for s := 0; s < numShards; s++ {
		if shardCounts[s] == nil {
			continue
		}
		for l, c := range shardCounts[s] {
			merged[l].TruePositives += c.TruePositives
			merged[l].FalsePositives += c.FalsePositives
			merged[l].FalseNegatives += c.FalseNegatives
		}
		totalItems += shardTotals[s]
		correctItems += shardCorrect[s]
	}

	return finishReport(merged, totalItems, correctItems), nil
}

func finishReport(counts []LabelScore, totalItems, correctItems int) Report {
	var sumP, sumR, sumF1 float64
	for i := range counts {
		c := &counts[i]
		if c.TruePositives+c.FalsePositives > 0 {
			c.Precision = float64(c.TruePositives) / float64(c.TruePositives+c.FalsePositives)
		}
		if c.TruePositives+c.FalseNegatives > 0 {
			c.Recall = float64(c.TruePositives) / float64(c.TruePositives+c.FalseNegatives)
		}
		if c.Precision+c.Recall > 0 {
			c.F1 = 2 * c.Precision * c.Recall / (c.Precision + c.Recall)
		}
		sumP += c.Precision
		sumR += c.Recall
		sumF1 += c.F1
	}

	n := float64(len(counts))
	var accuracy float64
	if totalItems > 0 {
		accuracy = float64(correctItems) / float64(totalItems)
	}

	report := Report{
		Labels:       counts,
		Accuracy:     accuracy,
		TotalItems:   totalItems,
		CorrectItems: correctItems,
	}
	if n > 0 {
		report.MacroP = sumP / n
		report.MacroR = sumR / n
		report.MacroF1 = sumF1 / n
	}
	return report
}
