// Package lbfgs trains a CRF weight vector with batch L-BFGS, delegating
// the quasi-Newton search itself to gonum's optimize package rather than
// reimplementing the Nocedal two-loop recursion -- the line-search and
// memory bookkeeping have no CRF-specific content, so there is nothing to
// learn from reimplementing them, only risk.
//
// L1 regularization upstream uses liblbfgs's orthant-wise quasi-Newton
// extension (OWL-QN); gonum's optimize package has no OWL-QN variant, so
// L1 here is approximated by adding the plain L1 penalty to the objective
// and its sign subgradient to the gradient, with no orthant-wise
// projection. This is a deliberate divergence from exact upstream
// behavior, recorded because it means L1 runs here will not reproduce
// upstream's sparsity pattern exactly; L2 matches upstream exactly.
package lbfgs

import (
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/gocrf/lcrf/eval"
	"github.com/gocrf/lcrf/lcrferrors"
	"github.com/gocrf/lcrf/model"
	"github.com/gocrf/lcrf/numeric"
	"github.com/gocrf/lcrf/params"
	"github.com/gocrf/lcrf/progress"
)

// Batch is the objective-and-gradient surface the trainer needs; an
// *encoder.Encoder satisfies it via ObjectiveAndGradientsBatch.
type Batch interface {
	ObjectiveAndGradientsBatch(ds *model.Dataset, weights, gradient []float64) (float64, error)
}

// Registry returns the L-BFGS parameter registry with upstream's
// defaults, per crf_train_lbfgs's exchange_options.
func Registry() *params.Registry {
	return params.NewRegistry().Add(
		params.String("regularization", "L2", "Specify the regularization type (L1, L2, or none)."),
		params.Float("regularization.sigma", 10.0, "Specify the regularization constant."),
		params.Int("lbfgs.max_iterations", 0, "The maximum number of L-BFGS iterations (0 means unbounded)."),
		params.Int("lbfgs.num_memories", 6, "The number of corrections to approximate the inverse hessian matrix."),
		params.Float("lbfgs.epsilon", 1e-5, "Epsilon for testing the convergence of the objective."),
		params.Int("lbfgs.stop", 10, "The duration of iterations to test the stopping criterion."),
		params.Float("lbfgs.delta", 1e-5, "The threshold for the stopping criterion."),
		params.String("lbfgs.linesearch", "MoreThuente", "The line search algorithm (MoreThuente, Backtracking, or StrongBacktracking)."),
		params.Int("lbfgs.linesearch.max_iterations", 20, "The maximum number of trials for the line search."),
	)
}

// Train minimizes the regularized negative log-likelihood of ds under
// batch (a feature table already bound to an encoder) with L-BFGS,
// reporting progress to sink. It returns the weight vector of the last
// major iteration the recorder saw, copied unconditionally every
// iteration as upstream does, so an error exit after some progress still
// returns the last accepted point rather than the optimizer's final X.
// A non-empty holdout set is scored at every major iteration when batch
// also decodes instances (as *encoder.Encoder does) and the item
// accuracy reported through sink.
func Train(batch Batch, ds *model.Dataset, holdout []model.Instance, numFeatures int, reg *params.Registry, sink progress.Sink) ([]float64, error) {
	regType := reg.GetString("regularization")
	sigma := reg.GetFloat("regularization.sigma")
	maxIter := reg.GetInt("lbfgs.max_iterations")
	memory := reg.GetInt("lbfgs.num_memories")
	epsilon := reg.GetFloat("lbfgs.epsilon")
	stop := reg.GetInt("lbfgs.stop")
	delta := reg.GetFloat("lbfgs.delta")
	linesearchName := reg.GetString("lbfgs.linesearch")

	var l2Coeff float64
	var l1Coeff float64
	switch regType {
	case "L2":
		l2Coeff = 1.0 / (sigma * sigma)
	case "L1":
		l1Coeff = 1.0 / sigma
	case "none":
	default:
		return nil, lcrferrors.Newf(lcrferrors.NotSupported, "unknown regularization type %q", regType)
	}

	gradBuf := make([]float64, numFeatures)
	bestW := make([]float64, numFeatures)

	iteration := 0
	started := time.Now()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			f, err := batch.ObjectiveAndGradientsBatch(ds, x, gradBuf)
			if err != nil {
				return posInf
			}
			if l2Coeff != 0 {
				f += 0.5 * l2Coeff * numeric.L2Norm2(x)
			}
			if l1Coeff != 0 {
				f += l1Coeff * l1Norm(x)
			}
			return f
		},
		Grad: func(grad, x []float64) {
			_, err := batch.ObjectiveAndGradientsBatch(ds, x, gradBuf)
			copy(grad, gradBuf)
			if err != nil {
				return
			}
			if l2Coeff != 0 {
				numeric.AxpyScale(grad, l2Coeff, x)
			}
			if l1Coeff != 0 {
				for i, xi := range x {
					grad[i] += l1Coeff * softSign(xi)
				}
			}
		},
	}

	settings := &optimize.Settings{}
	if maxIter > 0 {
		settings.MajorIterations = maxIter
	}
	settings.GradientThreshold = epsilon
	settings.Converger = &optimize.FunctionConverge{
		Absolute:   delta,
		Relative:   delta,
		Iterations: stop,
	}
	settings.Recorder = recorderFunc(func(loc *optimize.Location) error {
		iteration++
		if loc.X != nil {
			copy(bestW, loc.X)
		}
		if sink != nil {
			rec := progress.Record{
				Iteration:     iteration,
				Loss:          -loc.F,
				FeatureNorm:   numeric.L2Norm(loc.X),
				ErrorNorm:     numeric.L2Norm(loc.Gradient),
				ActiveFeatures: countActive(loc.X),
				Time:          time.Since(started).Seconds(),
			}
			if dec, ok := batch.(eval.OnlineDecoder); ok && len(holdout) > 0 && loc.X != nil {
				if acc, items, err := eval.HoldoutAccuracy(dec, loc.X, holdout); err == nil {
					rec.HoldoutAccuracy, rec.HoldoutItems = acc, items
				}
			}
			sink.Report(rec)
		}
		return nil
	})

	linesearcher, err := selectLinesearcher(linesearchName, l1Coeff != 0)
	if err != nil {
		return nil, err
	}
	method := &optimize.LBFGS{Store: memory, Linesearcher: linesearcher}
	x0 := make([]float64, numFeatures)
	result, err := optimize.Minimize(problem, x0, settings, method)
	if err != nil && result == nil {
		return nil, lcrferrors.Wrapf(lcrferrors.InternalLogic, err, "lbfgs optimization failed")
	}

	if sink != nil {
		sink.Done(iteration, time.Since(started).Seconds())
	}
	return bestW, nil
}

// selectLinesearcher maps the lbfgs.linesearch parameter onto gonum's
// line search implementations. L1 forces backtracking regardless of the
// configured name, as upstream does for its orthant-wise mode. gonum has
// no separate strong-Wolfe backtracking variant, so StrongBacktracking
// maps to the same Backtracking implementation; it has no per-linesearch
// trial cap either, so lbfgs.linesearch.max_iterations is accepted for
// configuration compatibility but has no effect (see DESIGN.md).
func selectLinesearcher(name string, forceBacktracking bool) (optimize.Linesearcher, error) {
	if forceBacktracking {
		return &optimize.Backtracking{}, nil
	}
	switch name {
	case "MoreThuente":
		return &optimize.MoreThuente{}, nil
	case "Backtracking", "StrongBacktracking":
		return &optimize.Backtracking{}, nil
	default:
		return nil, lcrferrors.Newf(lcrferrors.NotSupported, "unknown line search %q", name)
	}
}

type recorderFunc func(loc *optimize.Location) error

func (f recorderFunc) Init() error { return nil }
func (f recorderFunc) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op&optimize.MajorIteration == 0 {
		return nil
	}
	return f(loc)
}

func countActive(x []float64) int {
	n := 0
	for _, v := range x {
		if v != 0 {
			n++
		}
	}
	return n
}

func l1Norm(x []float64) float64 {
	var s float64
	for _, v := range x {
		if v < 0 {
			s -= v
		} else {
			s += v
		}
	}
	return s
}

func softSign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

const posInf = 1e308
