// Package encoder binds a feature.Table to an infer.Context and exposes
// the two calling conventions the rest of the library needs: a batch
// surface for the L-BFGS objective-and-gradient loop, and an online
// surface (one instance at a time) for SGD, tagging, evaluation and the
// perceptron-family trainers.
//
// Both surfaces are built around the same invariant: the work done for
// one instance forms a strict ladder -- weights must be set before state
// scores can be built, state scores before alpha/beta, alpha/beta before
// marginals -- and skipping a rung produces stale results rather than a
// crash, because infer.Context has no way to tell what domain its buffers
// currently hold. Level enforces the ladder at run time: a call made out
// of order returns an InternalLogic error instead of reading stale buffers.
package encoder

import (
	"github.com/gocrf/lcrf/feature"
	"github.com/gocrf/lcrf/infer"
	"github.com/gocrf/lcrf/lcrferrors"
	"github.com/gocrf/lcrf/model"
	"github.com/gocrf/lcrf/numeric"
)

// Level is the monotonic ladder of work done against one instance.
// Every operation documents the minimum Level it requires and the Level
// it leaves the Encoder at.
type Level int

const (
	LevelNone Level = iota
	LevelWeights
	LevelInstance
	LevelAlphaBeta
	LevelMarginals
)

// Encoder binds a feature table and weight vector to one inference
// Context, reused across instances.
type Encoder struct {
	Table   *feature.Table
	Weights []float64

	ctx   *infer.Context
	level Level

	instance *model.Instance
}

// New returns an Encoder for the given feature table, with weights zeroed.
func New(table *feature.Table) *Encoder {
	return &Encoder{
		Table:   table,
		Weights: make([]float64, table.NumFeatures()),
		ctx:     infer.New(table.NumLabels, 0),
	}
}

// SetWeights installs w as the current weight vector (w is not copied;
// the caller must not mutate it concurrently with encoder calls) and
// resets the ladder to LevelWeights.
func (e *Encoder) SetWeights(w []float64) {
	e.Weights = w
	e.level = LevelWeights
}

func (e *Encoder) requireLevel(min Level, op string) error {
	if e.level < min {
		return lcrferrors.Newf(lcrferrors.InternalLogic,
			"%s requires level >= %d, encoder is at level %d", op, min, e.level)
	}
	return nil
}

// buildTables fills the Context's state and transition score rows from
// the current weights and inst's attributes, leaving them in additive
// (log) space.
func (e *Encoder) buildTables(inst *model.Instance) {
	L := e.Table.NumLabels
	e.ctx.SetNumItems(inst.Len())
	e.ctx.Reset(infer.ResetState | infer.ResetTrans)

	for i := 0; i < L; i++ {
		row := e.ctx.TransFrom(i)
		for _, fid := range e.Table.LabelRefs[i] {
			f := e.Table.Features[fid]
			row[f.Dst] += e.Weights[fid]
		}
	}

	for t, item := range inst.Items {
		row := e.ctx.StateAt(t)
		for _, c := range item.Contents {
			for _, fid := range e.Table.AttrRefs[c.AttributeID] {
				f := e.Table.Features[fid]
				row[f.Dst] += e.Weights[fid] * c.Scale
			}
		}
	}
}

// SetInstance sets the current instance and builds its log-space state
// and transition tables from the current weights. Requires LevelWeights;
// leaves the encoder at LevelInstance.
func (e *Encoder) SetInstance(inst *model.Instance) error {
	if err := e.requireLevel(LevelWeights, "SetInstance"); err != nil {
		return err
	}
	e.instance = inst
	e.buildTables(inst)
	e.level = LevelInstance
	return nil
}

// Score returns the log-space path score of path under the current
// instance's tables. Requires LevelInstance.
func (e *Encoder) Score(path []int32) (float64, error) {
	if err := e.requireLevel(LevelInstance, "Score"); err != nil {
		return 0, err
	}
	return e.ctx.Score(path), nil
}

// Viterbi decodes the highest-scoring label path for the current
// instance. Requires LevelInstance; does not advance the ladder (Viterbi
// runs on the log-space tables SetInstance already built).
func (e *Encoder) Viterbi() ([]int32, float64, error) {
	if err := e.requireLevel(LevelInstance, "Viterbi"); err != nil {
		return nil, 0, err
	}
	path, score := e.ctx.Viterbi()
	return path, score, nil
}

// runAlphaBeta exponentiates the current tables and runs the forward and
// backward passes. Requires LevelInstance; leaves the encoder at
// LevelAlphaBeta. Exponentiation is destructive (it overwrites the
// log-space tables in place), so Viterbi must be called, if at all,
// before this.
func (e *Encoder) runAlphaBeta() {
	e.ctx.ExpState()
	e.ctx.ExpTransition()
	e.ctx.AlphaPass()
	e.ctx.BetaPass()
	e.level = LevelAlphaBeta
}

// PartitionFactor returns the log partition function Z(x) for the current
// instance. Requires LevelInstance; runs alpha/beta if not already run,
// leaving the encoder at LevelAlphaBeta.
func (e *Encoder) PartitionFactor() (float64, error) {
	if err := e.requireLevel(LevelInstance, "PartitionFactor"); err != nil {
		return 0, err
	}
	if e.level < LevelAlphaBeta {
		e.runAlphaBeta()
	}
	return e.ctx.LogNorm, nil
}

// Marginals computes the per-label and per-transition marginal
// probabilities for the current instance. Requires LevelInstance; runs
// alpha/beta if needed, leaving the encoder at LevelMarginals.
func (e *Encoder) Marginals() error {
	if err := e.requireLevel(LevelInstance, "Marginals"); err != nil {
		return err
	}
	if e.level < LevelAlphaBeta {
		e.runAlphaBeta()
	}
	e.ctx.Marginals()
	e.level = LevelMarginals
	return nil
}

// StateMarginal returns p(y_t = l | x). Requires LevelMarginals.
func (e *Encoder) StateMarginal(t, l int) (float64, error) {
	if err := e.requireLevel(LevelMarginals, "StateMarginal"); err != nil {
		return 0, err
	}
	return e.ctx.StateMarginal(t, l), nil
}

// TransMarginal returns p(y_t=i, y_{t+1}=j | x). Requires LevelMarginals.
func (e *Encoder) TransMarginal(i, j int) (float64, error) {
	if err := e.requireLevel(LevelMarginals, "TransMarginal"); err != nil {
		return 0, err
	}
	return e.ctx.TransMarginal(i, j), nil
}

// ObjectiveAndGradients computes, for the current instance, the gold-path
// log-likelihood contribution and accumulates its gradient (observed
// minus expected feature counts, scaled by the instance weight) into
// gradient. Requires LevelInstance; leaves the encoder at LevelMarginals.
func (e *Encoder) ObjectiveAndGradients(gradient []float64) (logLikelihood float64, err error) {
	if err := e.requireLevel(LevelInstance, "ObjectiveAndGradients"); err != nil {
		return 0, err
	}
	inst := e.instance
	if e.level < LevelAlphaBeta {
		e.runAlphaBeta()
	}
	e.ctx.Marginals()
	e.level = LevelMarginals

	logLikelihood = e.goldPathLogScore(inst) - e.ctx.LogNorm
	w := inst.Weight

	for t, item := range inst.Items {
		for _, c := range item.Contents {
			for _, fid := range e.Table.AttrRefs[c.AttributeID] {
				f := e.Table.Features[fid]
				expected := e.ctx.StateMarginal(t, int(f.Dst))
				gradient[fid] -= w * expected * c.Scale
			}
		}
		for _, c := range item.Contents {
			for _, fid := range e.Table.AttrRefs[c.AttributeID] {
				f := e.Table.Features[fid]
				if f.Dst == item.LabelID {
					gradient[fid] += w * c.Scale
				}
			}
		}
	}

	for t := 0; t < inst.Len()-1; t++ {
		i := inst.Items[t].LabelID
		j := inst.Items[t+1].LabelID
		if fid, ok := e.findTransitionFeature(i, j); ok {
			gradient[fid] += w
		}
	}
	// TransMarginal is already summed over all positions, so each
	// transition feature's expected count is subtracted exactly once.
	for i := 0; i < e.Table.NumLabels; i++ {
		for _, fid := range e.Table.LabelRefs[i] {
			f := e.Table.Features[fid]
			gradient[fid] -= w * e.ctx.TransMarginal(i, int(f.Dst))
		}
	}

	return logLikelihood, nil
}

func (e *Encoder) findTransitionFeature(src, dst int32) (int32, bool) {
	for _, fid := range e.Table.LabelRefs[src] {
		f := e.Table.Features[fid]
		if f.Dst == dst {
			return fid, true
		}
	}
	return 0, false
}

// goldPathLogScore recomputes the gold path's log score directly from the
// weights, since by the time this is needed runAlphaBeta has already
// exponentiated Context's tables in place and the additive log scores are
// gone.
func (e *Encoder) goldPathLogScore(inst *model.Instance) float64 {
	var logScore float64
	for t, item := range inst.Items {
		for _, c := range item.Contents {
			for _, fid := range e.Table.AttrRefs[c.AttributeID] {
				f := e.Table.Features[fid]
				if f.Dst == item.LabelID {
					logScore += e.Weights[fid] * c.Scale
				}
			}
		}
		if t >= 1 {
			prevLabel := inst.Items[t-1].LabelID
			if fid, ok := e.findTransitionFeature(prevLabel, item.LabelID); ok {
				logScore += e.Weights[fid]
			}
		}
	}
	return logScore
}

// ObjectiveAndGradientsBatch evaluates the negative log-likelihood and
// its gradient over ds at the given weights, summed over instances
// without normalization -- the batch drivers add their regularization
// term on this same unnormalized scale. Gradient and the returned
// objective are both in "to minimize" sign convention.
func (e *Encoder) ObjectiveAndGradientsBatch(ds *model.Dataset, weights, gradient []float64) (objective float64, err error) {
	e.SetWeights(weights)
	for i := range gradient {
		gradient[i] = 0
	}

	var sumLL float64
	for i := range ds.Instances {
		inst := &ds.Instances[i]
		if err := e.SetInstance(inst); err != nil {
			return 0, err
		}
		ll, err := e.ObjectiveAndGradients(gradient)
		if err != nil {
			return 0, err
		}
		sumLL += inst.Weight * ll
	}

	numeric.Scale(gradient, -1)
	objective = -sumLL
	return objective, nil
}

// FeatureHit pairs a firing feature id with its contribution: the
// item-content scale for a state feature, 1.0 for a transition feature
// (which carries no scale of its own).
type FeatureHit struct {
	FeatureID    int32
	Contribution float64
}

// FeaturesOnPath returns every feature that fires along path for the
// current instance, paired with its contribution -- used by the
// perceptron-family updates, which add/subtract a contribution-scaled
// step directly on the firing features rather than going through the
// marginal-based gradient.
func (e *Encoder) FeaturesOnPath(path []int32) ([]FeatureHit, error) {
	if err := e.requireLevel(LevelInstance, "FeaturesOnPath"); err != nil {
		return nil, err
	}
	inst := e.instance
	var hits []FeatureHit
	for t, item := range inst.Items {
		for _, c := range item.Contents {
			for _, fid := range e.Table.AttrRefs[c.AttributeID] {
				f := e.Table.Features[fid]
				if f.Dst == path[t] {
					hits = append(hits, FeatureHit{FeatureID: fid, Contribution: c.Scale})
				}
			}
		}
		if t >= 1 {
			if fid, ok := e.findTransitionFeature(path[t-1], path[t]); ok {
				hits = append(hits, FeatureHit{FeatureID: fid, Contribution: 1.0})
			}
		}
	}
	return hits, nil
}
