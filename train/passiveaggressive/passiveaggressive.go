// Package passiveaggressive implements online Passive-Aggressive
// training (PA-0/PA-I/PA-II), following train_passive_agressive.c: on
// every instance whose Viterbi prediction differs from gold, build a
// difference vector delta = (gold path features) - (Viterbi path
// features), each contributing its feature's contribution (item-content
// scale for state features, 1.0 for transitions) and deduplicating
// repeated feature ids so ||delta||^2 and the weight update each count a
// feature once no matter how many positions it fires at, then move w by
// tau*delta where tau is one of three closed-form step sizes.
package passiveaggressive

import (
	"math"
	"math/rand"
	"time"

	"github.com/gocrf/lcrf/encoder"
	"github.com/gocrf/lcrf/eval"
	"github.com/gocrf/lcrf/lcrferrors"
	"github.com/gocrf/lcrf/model"
	"github.com/gocrf/lcrf/numeric"
	"github.com/gocrf/lcrf/params"
	"github.com/gocrf/lcrf/progress"
)

// Online is the per-instance surface PA needs.
type Online interface {
	SetWeights(w []float64)
	SetInstance(inst *model.Instance) error
	Viterbi() ([]int32, float64, error)
	Score(path []int32) (float64, error)
	FeaturesOnPath(path []int32) ([]encoder.FeatureHit, error)
}

// Registry returns the PA parameter registry with upstream's defaults.
func Registry() *params.Registry {
	return params.NewRegistry().Add(
		params.Int("type", 1, "The strategy for updating feature weights: 0 (PA), 1 (PA-I), or 2 (PA-II)."),
		params.Float("c", 1.0, "The aggressiveness parameter."),
		params.Bool("error_sensitive", true, "Cost is sensitive to the number of incorrect labels."),
		params.Int("max_iterations", 100, "The maximum number of iterations."),
		params.Float("epsilon", 0.0, "The stopping criterion (the average number of errors)."),
	)
}

type tauFunc func(cost, norm2, c float64) float64

func tau0(cost, norm2, c float64) float64 { return cost / norm2 }
func tau1(cost, norm2, c float64) float64 { return math.Min(c, cost/norm2) }
func tau2(cost, norm2, c float64) float64 { return cost / (norm2 + 0.5/c) }

func costInsensitive(margin, d float64) float64 { return margin + 1 }
func costSensitive(margin, d float64) float64   { return margin + math.Sqrt(d) }

// Train runs Passive-Aggressive training over ds and returns the final
// weight vector. A non-empty holdout set is scored after every epoch and
// reported through sink. A non-finite epoch loss aborts training with an
// Overflow error, returning the current weights, which include that
// epoch's updates.
func Train(online Online, ds *model.Dataset, holdout []model.Instance, numFeatures int, reg *params.Registry, sink progress.Sink, rng *rand.Rand) ([]float64, error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	typ := reg.GetInt("type")
	c := reg.GetFloat("c")
	errorSensitive := reg.GetBool("error_sensitive")
	maxIter := reg.GetInt("max_iterations")
	epsilon := reg.GetFloat("epsilon")

	var tau tauFunc
	switch typ {
	case 2:
		tau = tau2
	case 0:
		tau = tau0
	default:
		tau = tau1
	}

	var cost func(margin, d float64) float64
	if errorSensitive {
		cost = costSensitive
	} else {
		cost = costInsensitive
	}

	w := make([]float64, numFeatures)
	order := make([]int, len(ds.Instances))
	for i := range order {
		order[i] = i
	}

	delta := make([]float64, numFeatures)
	used := make([]bool, numFeatures)

	started := time.Now()
	iterationsRun := 0
	N := len(ds.Instances)

	for iter := 0; iter < maxIter; iter++ {
		iterStart := time.Now()
		var sumLoss float64
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for _, idx := range order {
			inst := &ds.Instances[idx]
			online.SetWeights(w)
			if err := online.SetInstance(inst); err != nil {
				return nil, err
			}

			viterbiPath, viterbiScore, err := online.Viterbi()
			if err != nil {
				return nil, err
			}
			gold := inst.Labels()
			d := hammingDiff(gold, viterbiPath)
			if d == 0 {
				continue
			}

			goldScore, err := online.Score(gold)
			if err != nil {
				return nil, err
			}
			marginCost := cost(viterbiScore-goldScore, float64(d))

			resetDelta(delta, used)
			if err := accumulate(online, delta, gold, 1); err != nil {
				return nil, err
			}
			if err := accumulate(online, delta, viterbiPath, -1); err != nil {
				return nil, err
			}

			norm2 := dedupedNorm2(delta, used)
			if norm2 == 0 {
				continue
			}
			t := tau(marginCost, norm2, c)
			applyDelta(w, delta, used, t)

			sumLoss += marginCost
		}
		iterationsRun = iter + 1

		if math.IsInf(sumLoss, 0) || math.IsNaN(sumLoss) {
			return w, lcrferrors.New(lcrferrors.Overflow, "passive-aggressive: loss diverged to inf/nan")
		}

		if sink != nil {
			rec := progress.Record{
				Iteration:   iterationsRun,
				Loss:        sumLoss,
				FeatureNorm: numeric.L2Norm(w),
				Time:        time.Since(iterStart).Seconds(),
			}
			if len(holdout) > 0 {
				if acc, items, err := eval.HoldoutAccuracy(online, w, holdout); err == nil {
					rec.HoldoutAccuracy, rec.HoldoutItems = acc, items
				}
			}
			sink.Report(rec)
		}

		if N > 0 && sumLoss/float64(N) < epsilon {
			break
		}
	}

	if sink != nil {
		sink.Done(iterationsRun, time.Since(started).Seconds())
	}
	return w, nil
}

// accumulate adds sign*contribution to delta[fid] for every feature on
// path. It does no dedup bookkeeping; that happens in
// dedupedNorm2/applyDelta.
func accumulate(online Online, delta []float64, path []int32, sign float64) error {
	hits, err := online.FeaturesOnPath(path)
	if err != nil {
		return lcrferrors.Wrapf(lcrferrors.InternalLogic, err, "features on path")
	}
	for _, h := range hits {
		delta[h.FeatureID] += sign * h.Contribution
	}
	return nil
}

func resetDelta(delta []float64, used []bool) {
	for i := range delta {
		delta[i] = 0
		used[i] = false
	}
}

// dedupedNorm2 sums delta[k]^2 over each distinct nonzero k exactly
// once, mirroring delta_norm2's used-bitmap guard against double-
// counting a feature that fires at multiple positions.
func dedupedNorm2(delta []float64, used []bool) float64 {
	var norm2 float64
	for k, v := range delta {
		if v != 0 && !used[k] {
			norm2 += v * v
			used[k] = true
		}
	}
	for i := range used {
		used[i] = false
	}
	return norm2
}

// applyDelta adds tau*delta[k] to w[k] exactly once per distinct nonzero
// k, mirroring delta_add.
func applyDelta(w, delta []float64, used []bool, tau float64) {
	for k, v := range delta {
		if v != 0 && !used[k] {
			w[k] += tau * v
			used[k] = true
		}
	}
	for i := range used {
		used[i] = false
	}
}

func hammingDiff(a, b []int32) int {
	d := 0
	for i := range a {
		if a[i] != b[i] {
			d++
		}
	}
	return d
}
