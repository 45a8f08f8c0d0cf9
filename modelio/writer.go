package modelio

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/gocrf/lcrf/dictionary"
	"github.com/gocrf/lcrf/feature"
	"github.com/gocrf/lcrf/lcrferrors"
)

// WriteOptions controls pruning at save time.
type WriteOptions struct {
	// Prune removes zero-weight features (and, transitively, attributes
	// left with no surviving state feature) before writing. Defaults to
	// true via Write; set false through WriteWithOptions to keep every
	// enumerated feature regardless of its trained weight.
	Prune bool
}

// Write saves table and weights to path using the default options
// (pruning enabled), with label and attribute dictionaries providing the
// string forms written to the LABELS/ATTRS chunks. Either dictionary may
// be nil, in which case empty strings are written for every id.
func Write(path string, table *feature.Table, weights []float64, labels, attrs dictionary.Dictionary) error {
	return WriteWithOptions(path, table, weights, labels, attrs, WriteOptions{Prune: true})
}

// WriteWithOptions is Write with explicit control over pruning.
func WriteWithOptions(path string, table *feature.Table, weights []float64, labels, attrs dictionary.Dictionary, opts WriteOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return lcrferrors.Wrapf(lcrferrors.IO, err, "creating model file %s", path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeModel(w, table, weights, labels, attrs, opts); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return lcrferrors.Wrapf(lcrferrors.IO, err, "flushing model file %s", path)
	}
	return nil
}

// remap describes the dense feature/attribute id renumbering applied at
// save time when pruning is enabled.
type remap struct {
	keptFeatures []int32 // old fid -> new fid, or -1 if pruned
	featureOrder []int32 // new fid -> old fid, in increasing new-fid order
	keptAttrs    []int32 // old attr id -> new attr id, or -1 if dropped
	attrOrder    []int32 // new attr id -> old attr id
}

func buildRemap(table *feature.Table, weights []float64, prune bool) remap {
	K := len(table.Features)
	r := remap{keptFeatures: make([]int32, K)}
	for fid := range table.Features {
		if prune && weights[fid] == 0 {
			r.keptFeatures[fid] = -1
			continue
		}
		r.keptFeatures[fid] = int32(len(r.featureOrder))
		r.featureOrder = append(r.featureOrder, int32(fid))
	}

	attrHasSurvivor := make([]bool, table.NumAttrs)
	for _, oldFid := range r.featureOrder {
		f := table.Features[oldFid]
		if f.Kind == feature.State {
			attrHasSurvivor[f.Src] = true
		}
	}
	r.keptAttrs = make([]int32, table.NumAttrs)
	for a := 0; a < table.NumAttrs; a++ {
		if !attrHasSurvivor[a] {
			r.keptAttrs[a] = -1
			continue
		}
		r.keptAttrs[a] = int32(len(r.attrOrder))
		r.attrOrder = append(r.attrOrder, int32(a))
	}
	return r
}

func writeModel(w *bufio.Writer, table *feature.Table, weights []float64, labels, attrs dictionary.Dictionary, opts WriteOptions) error {
	rm := buildRemap(table, weights, opts.Prune)

	featuresChunk := encodeFeaturesChunk(table, weights, rm)
	labelsChunk := encodeStringsChunk(labels, table.NumLabels, identity)
	attrsChunk := encodeStringsChunk(attrs, len(rm.attrOrder), func(i int) int32 { return rm.attrOrder[i] })
	labelRefsChunk := encodeRefsChunk(table.NumLabels, table.LabelRefs, rm.keptFeatures)
	attrRefsChunk := encodeAttrRefsChunk(table, rm)

	sections := []struct {
		id   uint32
		data []byte
	}{
		{chunkFeatures, featuresChunk},
		{chunkLabels, labelsChunk},
		{chunkAttrs, attrsChunk},
		{chunkLabelRefs, labelRefsChunk},
		{chunkAttrRefs, attrRefsChunk},
	}

	offset := uint64(headerSize + sectionTableSize)
	table2 := make([]section, len(sections))
	for i, s := range sections {
		table2[i] = section{chunkID: s.id, offset: offset, length: uint64(len(s.data))}
		offset += uint64(len(s.data))
	}

	if err := writeHeader(w); err != nil {
		return err
	}
	for _, s := range table2 {
		if err := writeU32(w, s.chunkID); err != nil {
			return err
		}
		if err := writeU64(w, s.offset); err != nil {
			return err
		}
		if err := writeU64(w, s.length); err != nil {
			return err
		}
	}
	for _, s := range sections {
		if _, err := w.Write(s.data); err != nil {
			return lcrferrors.Wrapf(lcrferrors.IO, err, "writing %d-byte chunk %d", len(s.data), s.id)
		}
	}
	return nil
}

func identity(i int) int32 { return int32(i) }

func writeHeader(w io.Writer) error {
	if _, err := w.Write([]byte(magic)); err != nil {
		return lcrferrors.Wrapf(lcrferrors.IO, err, "writing magic")
	}
	if err := writeU32(w, formatVersion); err != nil {
		return err
	}
	return writeU32(w, featureTypeTag)
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	if err != nil {
		return lcrferrors.Wrapf(lcrferrors.IO, err, "writing u32")
	}
	return nil
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	if err != nil {
		return lcrferrors.Wrapf(lcrferrors.IO, err, "writing u64")
	}
	return nil
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendI32(buf []byte, v int32) []byte { return appendU32(buf, uint32(v)) }

func appendF64(buf []byte, v float64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	return append(buf, tmp[:]...)
}

func encodeFeaturesChunk(table *feature.Table, weights []float64, rm remap) []byte {
	buf := appendU32(nil, uint32(len(rm.featureOrder)))
	for _, oldFid := range rm.featureOrder {
		f := table.Features[oldFid]
		buf = append(buf, featureKindByte(f.Kind))
		if f.Kind == feature.State {
			buf = appendI32(buf, rm.keptAttrs[f.Src])
		} else {
			buf = appendI32(buf, f.Src)
		}
		buf = appendI32(buf, f.Dst)
		buf = appendF64(buf, weights[oldFid])
	}
	return buf
}

func encodeStringsChunk(dict dictionary.Dictionary, count int, originalID func(newID int) int32) []byte {
	buf := appendU32(nil, uint32(count))
	for i := 0; i < count; i++ {
		s := ""
		if dict != nil {
			if str, ok := dict.Reverse(originalID(i)); ok {
				s = str
			}
		}
		sb := []byte(s)
		buf = appendU32(buf, uint32(len(sb)))
		buf = append(buf, sb...)
	}
	return buf
}

// encodeRefsChunk writes a side-index (one i32 offset per original id,
// -1 if the id has no surviving refs) followed by one (count, fid...)
// record per id that does have refs, in original-id order. refs[i] lists
// old feature ids; fmap remaps them to new ids (-1 entries are dropped).
func encodeRefsChunk(numIDs int, refs [][]int32, fmap []int32) []byte {
	sideIndex := make([]int32, numIDs)
	var entries []byte
	for id := 0; id < numIDs; id++ {
		var kept []int32
		for _, oldFid := range refs[id] {
			if newFid := fmap[oldFid]; newFid >= 0 {
				kept = append(kept, newFid)
			}
		}
		if len(kept) == 0 {
			sideIndex[id] = -1
			continue
		}
		sideIndex[id] = int32(len(entries))
		entries = appendU32(entries, uint32(len(kept)))
		for _, fid := range kept {
			entries = appendI32(entries, fid)
		}
	}

	buf := appendU32(nil, uint32(numIDs))
	for _, off := range sideIndex {
		buf = appendI32(buf, off)
	}
	buf = append(buf, entries...)
	return buf
}

func encodeAttrRefsChunk(table *feature.Table, rm remap) []byte {
	// Re-key AttrRefs by new attribute id before delegating to the
	// shared refs encoder, since the chunk is keyed by the *new*,
	// post-remap attribute id rather than the original one.
	newRefs := make([][]int32, len(rm.attrOrder))
	for newA, oldA := range rm.attrOrder {
		newRefs[newA] = table.AttrRefs[oldA]
	}
	return encodeRefsChunk(len(rm.attrOrder), newRefs, rm.keptFeatures)
}
