// Package train provides Trainer, the façade that ties a Dataset and a
// feature.Table to one of the five training algorithms (L-BFGS, SGD,
// averaged perceptron, Passive-Aggressive, AROW) and writes the
// resulting model to disk.
package train

import (
	"math/rand"
	"strings"

	"github.com/gocrf/lcrf/dictionary"
	"github.com/gocrf/lcrf/encoder"
	"github.com/gocrf/lcrf/feature"
	"github.com/gocrf/lcrf/lcrferrors"
	"github.com/gocrf/lcrf/model"
	"github.com/gocrf/lcrf/modelio"
	"github.com/gocrf/lcrf/params"
	"github.com/gocrf/lcrf/progress"
	"github.com/gocrf/lcrf/train/arow"
	"github.com/gocrf/lcrf/train/lbfgs"
	"github.com/gocrf/lcrf/train/passiveaggressive"
	"github.com/gocrf/lcrf/train/perceptron"
	"github.com/gocrf/lcrf/train/sgd"
)

// Algorithm names a training driver.
type Algorithm string

const (
	LBFGS             Algorithm = "lbfgs"
	SGD               Algorithm = "l2sgd"
	AveragedPerceptron Algorithm = "averaged-perceptron"
	PassiveAggressive Algorithm = "passive-aggressive"
	AROW              Algorithm = "arow"
)

// Trainer accumulates training instances, generates the feature table on
// Train, and dispatches to the selected algorithm.
type Trainer struct {
	dataset    *model.Dataset
	algorithm  Algorithm
	genOpts    feature.GenerateOptions
	registry   *params.Registry
	featureReg *params.Registry
	sink       progress.Sink
	rng        *rand.Rand

	labels dictionary.Dictionary
	attrs  dictionary.Dictionary
}

// WithDictionaries attaches the label and attribute dictionaries used to
// resolve strings when writing the LABELS/ATTRS chunks of the saved
// model. Either may be nil, in which case the corresponding chunk is
// written with empty strings (the encoder/feature layer itself never
// needs strings, only dense ids, so this is purely for model-file
// readability).
func (t *Trainer) WithDictionaries(labels, attrs dictionary.Dictionary) *Trainer {
	t.labels = labels
	t.attrs = attrs
	return t
}

// New returns a Trainer over a dataset with the given label/attribute
// vocabulary sizes, selecting algorithm with its default parameters.
func New(numLabels, numAttrs int, algorithm Algorithm) (*Trainer, error) {
	reg, err := registryFor(algorithm)
	if err != nil {
		return nil, err
	}
	return &Trainer{
		dataset:    model.NewDataset(numLabels, numAttrs),
		algorithm:  algorithm,
		registry:   reg,
		featureReg: featureRegistry(),
		sink:       progress.Default(),
		rng:        rand.New(rand.NewSource(1)),
	}, nil
}

// featureRegistry declares the algorithm-independent feature generation
// keys every trainer accepts alongside its algorithm's own parameters.
func featureRegistry() *params.Registry {
	return params.NewRegistry().Add(
		params.Float("feature.minfreq", 0, "The minimum frequency of features."),
		params.Bool("feature.possible_states", false, "Force to generate possible state features."),
		params.Bool("feature.possible_transitions", false, "Force to generate possible transition features."),
	)
}

// unknownToBoth returns the keys of p that neither the algorithm
// registry nor the feature registry recognizes.
func (t *Trainer) unknownToBoth(p params.Params) []string {
	featUnknown := make(map[string]bool)
	for _, k := range t.featureReg.Unknown(p) {
		featUnknown[k] = true
	}
	var unknown []string
	for _, k := range t.registry.Unknown(p) {
		if featUnknown[k] {
			unknown = append(unknown, k)
		}
	}
	return unknown
}

func registryFor(algorithm Algorithm) (*params.Registry, error) {
	switch algorithm {
	case LBFGS:
		return lbfgs.Registry(), nil
	case SGD:
		return sgd.Registry(), nil
	case AveragedPerceptron:
		return perceptron.Registry(), nil
	case PassiveAggressive:
		return passiveaggressive.Registry(), nil
	case AROW:
		return arow.Registry(), nil
	default:
		return nil, lcrferrors.Newf(lcrferrors.NotSupported, "unknown training algorithm %q", algorithm)
	}
}

// WithParams binds p against the selected algorithm's parameter
// registry, returning an error if any value fails validation or if p
// names a parameter the registry does not recognize.
func (t *Trainer) WithParams(p params.Params) (*Trainer, error) {
	if unknown := t.unknownToBoth(p); len(unknown) > 0 {
		return t, lcrferrors.Newf(lcrferrors.NotSupported,
			"unknown parameter(s): %s", strings.Join(unknown, ", "))
	}
	if err := t.registry.Bind(p); err != nil {
		return t, err
	}
	if err := t.featureReg.Bind(p); err != nil {
		return t, err
	}
	return t, nil
}

// Set configures a single named parameter, matching the exposed
// `trainer.set(name, value)` library contract (spec.md §6): an
// unrecognized name fails rather than being silently ignored.
func (t *Trainer) Set(name, value string) error {
	p := params.Params{name: value}
	if unknown := t.unknownToBoth(p); len(unknown) > 0 {
		return lcrferrors.Newf(lcrferrors.NotSupported, "unknown parameter %q", name)
	}
	if err := t.registry.Bind(p); err != nil {
		return err
	}
	return t.featureReg.Bind(p)
}

// WithFeatureGeneration overrides feature enumeration options (connect-
// all-states, connect-all-transitions, minimum frequency). Defaults to
// the zero value (no forced connections, no pruning).
func (t *Trainer) WithFeatureGeneration(opts feature.GenerateOptions) *Trainer {
	t.genOpts = opts
	return t
}

// generateOptions merges the struct-level options with the feature.*
// configuration keys; whichever surface asked for more (a connection
// flag, a higher pruning threshold) wins, so the two never silently
// cancel each other.
func (t *Trainer) generateOptions() feature.GenerateOptions {
	opts := t.genOpts
	if f := t.featureReg.GetFloat("feature.minfreq"); f > opts.MinFrequency {
		opts.MinFrequency = f
	}
	opts.ConnectAllStates = opts.ConnectAllStates || t.featureReg.GetBool("feature.possible_states")
	opts.ConnectAllTransitions = opts.ConnectAllTransitions || t.featureReg.GetBool("feature.possible_transitions")
	return opts
}

// WithProgressSink overrides the default progress sink.
func (t *Trainer) WithProgressSink(sink progress.Sink) *Trainer {
	t.sink = sink
	return t
}

// WithRandSource overrides the random source used by the algorithms that
// shuffle instances (SGD, Passive-Aggressive, AROW); useful for
// reproducible tests.
func (t *Trainer) WithRandSource(rng *rand.Rand) *Trainer {
	t.rng = rng
	return t
}

// Append adds a training instance.
func (t *Trainer) Append(inst model.Instance) error {
	return t.dataset.Append(inst)
}

// Train splits off the holdout instances (those whose GroupID equals
// holdoutGroup, or none if holdoutGroup is negative), generates the
// feature table from the remaining training instances only -- held-out
// data must not influence the feature vocabulary or the frequency
// pruning -- trains weights with the selected algorithm, and writes the
// resulting model to path. Held-out instances are scored by the driver
// after each iteration, with the accuracy carried on the progress
// records.
func (t *Trainer) Train(path string, holdoutGroup int32) error {
	trainInstances, held := t.dataset.Holdout(holdoutGroup)
	trainSet := &model.Dataset{
		Instances: trainInstances,
		NumLabels: t.dataset.NumLabels,
		NumAttrs:  t.dataset.NumAttrs,
	}

	table := feature.Generate(trainSet, t.generateOptions())
	numFeatures := table.NumFeatures()

	enc := encoder.New(table)

	var weights []float64
	var err error
	switch t.algorithm {
	case LBFGS:
		weights, err = lbfgs.Train(enc, trainSet, held, numFeatures, t.registry, t.sink)
	case SGD:
		weights, err = sgd.Train(enc, trainSet, held, numFeatures, t.registry, t.sink, t.rng)
	case AveragedPerceptron:
		weights, err = perceptron.Train(enc, trainSet, held, numFeatures, t.registry, t.sink)
	case PassiveAggressive:
		weights, err = passiveaggressive.Train(enc, trainSet, held, numFeatures, t.registry, t.sink, t.rng)
	case AROW:
		weights, err = arow.Train(enc, trainSet, held, numFeatures, t.registry, t.sink, t.rng)
	default:
		return lcrferrors.Newf(lcrferrors.NotSupported, "unknown training algorithm %q", t.algorithm)
	}
	if err != nil {
		return err
	}

	return modelio.Write(path, table, weights, t.labels, t.attrs)
}
