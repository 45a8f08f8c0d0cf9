// Package tagger implements §4.6's label decoder: a Tagger binds a
// loaded modelio.Model once (precomputing its transition score matrix
// from label_refs), and tags instances by rebuilding only the state
// table per call and running log-space Viterbi.
package tagger

import (
	"container/heap"

	"github.com/gocrf/lcrf/model"
	"github.com/gocrf/lcrf/modelio"
)

// Tagger decodes label sequences against a loaded model. A Tagger's
// transition matrix and the underlying model are read-only after
// construction, so multiple goroutines may call Tag concurrently as long
// as each uses its own Context (see NewContext) -- matching §5's
// memory-mapped-model concurrency contract.
type Tagger struct {
	model *modelio.Model
	trans []float64 // [L][L], built once from label_refs
}

// Open loads the model at path and precomputes its transition matrix.
func Open(path string) (*Tagger, error) {
	m, err := modelio.Open(path)
	if err != nil {
		return nil, err
	}
	return newTagger(m), nil
}

func newTagger(m *modelio.Model) *Tagger {
	L := m.NumLabels()
	trans := make([]float64, L*L)
	for i := 0; i < L; i++ {
		for _, fid := range m.LabelRefs(i) {
			_, _, dst, weight := m.Feature(int(fid))
			trans[i*L+int(dst)] += weight
		}
	}
	return &Tagger{model: m, trans: trans}
}

// Close releases the underlying model's memory mapping.
func (t *Tagger) Close() error { return t.model.Close() }

// NumLabels returns the number of labels in the model.
func (t *Tagger) NumLabels() int { return t.model.NumLabels() }

// LabelString returns the string for a label id.
func (t *Tagger) LabelString(id int) string { return t.model.LabelString(id) }

// Labels returns every label string in id order.
func (t *Tagger) Labels() []string {
	out := make([]string, t.model.NumLabels())
	for id := range out {
		out[id] = t.model.LabelString(id)
	}
	return out
}

// Context holds the per-call scratch buffers (state table, Viterbi
// backpointers) a single goroutine needs to call Tag repeatedly without
// reallocating. Use one Context per goroutine.
type Context struct {
	L     int
	state []float64 // [T][L]
	back  []int32   // [T][L]
}

// NewContext returns a Context sized for this tagger's label count.
func (t *Tagger) NewContext() *Context {
	return &Context{L: t.model.NumLabels()}
}

func (c *Context) grow(T int) {
	need := T * c.L
	if cap(c.state) < need {
		c.state = make([]float64, need)
		c.back = make([]int32, need)
	} else {
		c.state = c.state[:need]
		c.back = c.back[:need]
	}
	for i := range c.state {
		c.state[i] = 0
	}
}

// Tag decodes the highest-scoring label path for inst, using ctx's
// scratch buffers. Returns the path and its log-space score.
func (t *Tagger) Tag(inst *model.Instance, ctx *Context) (path []int32, score float64) {
	L := t.model.NumLabels()
	T := inst.Len()
	if T == 0 {
		return nil, 0
	}
	ctx.grow(T)

	for ti, item := range inst.Items {
		row := ctx.state[ti*L : (ti+1)*L]
		for _, c := range item.Contents {
			for _, fid := range t.model.AttrRefs(int(c.AttributeID)) {
				_, _, dst, weight := t.model.Feature(int(fid))
				row[dst] += weight * c.Scale
			}
		}
	}

	return viterbi(ctx, t.trans, L, T)
}

func viterbi(ctx *Context, trans []float64, L, T int) ([]int32, float64) {
	score := make([]float64, L)
	copy(score, ctx.state[:L])

	for ti := 1; ti < T; ti++ {
		prev := score
		next := make([]float64, L)
		state := ctx.state[ti*L : (ti+1)*L]
		back := ctx.back[ti*L : (ti+1)*L]
		for j := 0; j < L; j++ {
			best := negInf
			var arg int32
			for i := 0; i < L; i++ {
				s := prev[i] + trans[i*L+j]
				if s > best {
					best = s
					arg = int32(i)
				}
			}
			back[j] = arg
			next[j] = best + state[j]
		}
		score = next
	}

	best := negInf
	var arg int32
	for i, s := range score {
		if s > best {
			best = s
			arg = int32(i)
		}
	}

	path := make([]int32, T)
	path[T-1] = arg
	for ti := T - 2; ti >= 0; ti-- {
		path[ti] = ctx.back[(ti+1)*L+int(path[ti+1])]
	}
	return path, best
}

const negInf = -1e308

// nbestItem is one candidate on the N-best priority queue: a partial
// path score paired with the label chosen at the current position and a
// back-link to the predecessor candidate it extends.
type nbestItem struct {
	score float64
	label int32
	prev  *nbestItem
	pos   int
}

type nbestHeap []*nbestItem

func (h nbestHeap) Len() int            { return len(h) }
func (h nbestHeap) Less(i, j int) bool  { return h[i].score > h[j].score } // max-heap
func (h nbestHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nbestHeap) Push(x any)         { *h = append(*h, x.(*nbestItem)) }
func (h *nbestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TagNBest decodes the n highest-scoring label paths for inst, in
// descending score order. This is not present in the original CRFsuite
// tagger API (single-best Viterbi only); it is a supplemental decoder
// built with container/heap over the same per-position state/transition
// tables Tag uses, generalizing Viterbi's single backpointer per (t,
// label) into up to n ranked candidates per (t, label) in the
// List-Viterbi style.
func (t *Tagger) TagNBest(inst *model.Instance, ctx *Context, n int) (paths [][]int32, scores []float64) {
	L := t.model.NumLabels()
	T := inst.Len()
	if T == 0 || n <= 0 {
		return nil, nil
	}
	ctx.grow(T)

	for ti, item := range inst.Items {
		row := ctx.state[ti*L : (ti+1)*L]
		for _, c := range item.Contents {
			for _, fid := range t.model.AttrRefs(int(c.AttributeID)) {
				_, _, dst, weight := t.model.Feature(int(fid))
				row[dst] += weight * c.Scale
			}
		}
	}

	// frontier[l] holds up to n best partial candidates ending at label l
	// for the current position. The top-n sets must be kept per
	// destination label, not globally per position: a label whose best
	// prefix scores below another label's can still lead the best full
	// path, so pruning it away here would discard provably optimal
	// continuations.
	frontier := make([][]*nbestItem, L)
	state0 := ctx.state[:L]
	for l := 0; l < L; l++ {
		frontier[l] = []*nbestItem{{score: state0[l], label: int32(l), pos: 0}}
	}

	for ti := 1; ti < T; ti++ {
		state := ctx.state[ti*L : (ti+1)*L]
		next := make([][]*nbestItem, L)
		for j := 0; j < L; j++ {
			var h nbestHeap
			for i := 0; i < L; i++ {
				for _, prev := range frontier[i] {
					s := prev.score + t.trans[i*L+j] + state[j]
					heap.Push(&h, &nbestItem{score: s, label: int32(j), prev: prev, pos: ti})
				}
			}
			next[j] = topNHeap(&h, n)
		}
		frontier = next
	}

	var final nbestHeap
	for l := 0; l < L; l++ {
		for _, cand := range frontier[l] {
			heap.Push(&final, cand)
		}
	}
	best := topNHeap(&final, n)
	for _, cand := range best {
		path := make([]int32, T)
		node := cand
		for node != nil {
			path[node.pos] = node.label
			node = node.prev
		}
		paths = append(paths, path)
		scores = append(scores, cand.score)
	}
	return paths, scores
}

// topNHeap pops the n highest-scoring items off h, sorted descending.
func topNHeap(h *nbestHeap, n int) []*nbestItem {
	out := make([]*nbestItem, 0, n)
	for h.Len() > 0 && len(out) < n {
		out = append(out, heap.Pop(h).(*nbestItem))
	}
	return out
}
