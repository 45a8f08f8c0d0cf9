// Package perceptron implements the averaged structured perceptron,
// following train_averaged_perceptron.c: on every instance whose Viterbi
// prediction differs from the gold path, add the gold path's firing
// features and subtract the predicted path's, while lazily accumulating
// a running sum (ws) that lets the final averaged weight vector be
// recovered in one O(K) pass (wa = w - ws/c) instead of re-summing every
// per-instance snapshot of w.
//
// Each update is scaled by the firing feature's contribution (the
// item-content scale for state features, 1.0 for transition features),
// matching enum_features(..., value)'s value parameter in the upstream
// source rather than assuming every feature fires with weight 1.
package perceptron

import (
	"time"

	"github.com/gocrf/lcrf/encoder"
	"github.com/gocrf/lcrf/eval"
	"github.com/gocrf/lcrf/model"
	"github.com/gocrf/lcrf/numeric"
	"github.com/gocrf/lcrf/params"
	"github.com/gocrf/lcrf/progress"
)

// Online is the per-instance surface the averaged perceptron needs.
type Online interface {
	SetWeights(w []float64)
	SetInstance(inst *model.Instance) error
	Viterbi() ([]int32, float64, error)
	FeaturesOnPath(path []int32) ([]encoder.FeatureHit, error)
}

// Registry returns the averaged-perceptron parameter registry with
// upstream's defaults.
func Registry() *params.Registry {
	return params.NewRegistry().Add(
		params.Float("ap.epsilon", 0.0, "The stopping criterion (the average number of errors)."),
		params.Int("ap.max_iterations", 10, "The maximum number of iterations."),
	)
}

// Train runs the averaged perceptron over ds and returns the averaged
// weight vector. A non-empty holdout set is scored with the averaged
// weights after every epoch and reported through sink.
func Train(online Online, ds *model.Dataset, holdout []model.Instance, numFeatures int, reg *params.Registry, sink progress.Sink) ([]float64, error) {
	epsilon := reg.GetFloat("ap.epsilon")
	maxIter := reg.GetInt("ap.max_iterations")

	w := make([]float64, numFeatures)
	ws := make([]float64, numFeatures)
	wa := make([]float64, numFeatures)

	c := 1.0
	N := len(ds.Instances)
	started := time.Now()
	iterationsRun := 0

	for iter := 0; iter < maxIter; iter++ {
		iterStart := time.Now()
		var loss float64

		for i := range ds.Instances {
			inst := &ds.Instances[i]
			online.SetWeights(w)
			if err := online.SetInstance(inst); err != nil {
				return nil, err
			}
			predicted, _, err := online.Viterbi()
			if err != nil {
				return nil, err
			}
			gold := inst.Labels()

			if !pathsEqual(gold, predicted) {
				goldHits, err := online.FeaturesOnPath(gold)
				if err != nil {
					return nil, err
				}
				for _, h := range goldHits {
					w[h.FeatureID] += h.Contribution
					ws[h.FeatureID] += c * h.Contribution
				}

				predHits, err := online.FeaturesOnPath(predicted)
				if err != nil {
					return nil, err
				}
				for _, h := range predHits {
					w[h.FeatureID] -= h.Contribution
					ws[h.FeatureID] -= c * h.Contribution
				}

				loss += float64(hammingDiff(gold, predicted)) / float64(len(gold))
			}

			c++
		}
		iterationsRun = iter + 1

		numeric.Copy(wa, w)
		numeric.AxpyScale(wa, -1.0/c, ws)

		if sink != nil {
			rec := progress.Record{
				Iteration:   iterationsRun,
				Loss:        loss,
				FeatureNorm: numeric.L2Norm(wa),
				Time:        time.Since(iterStart).Seconds(),
			}
			if len(holdout) > 0 {
				if acc, items, err := eval.HoldoutAccuracy(online, wa, holdout); err == nil {
					rec.HoldoutAccuracy, rec.HoldoutItems = acc, items
				}
			}
			sink.Report(rec)
		}

		if N > 0 && loss/float64(N) < epsilon {
			break
		}
	}

	if sink != nil {
		sink.Done(iterationsRun, time.Since(started).Seconds())
	}
	return wa, nil
}

func pathsEqual(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
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
