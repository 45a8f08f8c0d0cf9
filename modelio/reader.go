package modelio

import (
	"encoding/binary"
	"math"
	"os"

	"golang.org/x/sys/unix"

	"github.com/gocrf/lcrf/feature"
	"github.com/gocrf/lcrf/lcrferrors"
)

// Model is a read-only, memory-mapped view of a saved model. Accessors
// decode from the mapped region on each call: reference lists are
// decoded into a newly allocated []int32 and strings are copied out of
// the mapping.
type Model struct {
	data []byte // the full mmap'd file

	numLabels int
	numAttrs  int

	featuresOff, featuresLen       int
	labelsOff, labelsLen           int
	attrsOff, attrsLen             int
	labelRefsOff, labelRefsLen     int
	attrRefsOff, attrRefsLen       int

	numFeatures int

	labelIDs map[string]int32
	attrIDs  map[string]int32
}

// Open memory-maps path and validates its header and section table.
func Open(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, lcrferrors.Wrapf(lcrferrors.IO, err, "opening model file %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, lcrferrors.Wrapf(lcrferrors.IO, err, "stat model file %s", path)
	}
	size := int(info.Size())
	if size < headerSize+sectionTableSize {
		return nil, lcrferrors.Newf(lcrferrors.Incompatible, "model file %s too small (%d bytes)", path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		// Fall back to an ordinary read for filesystems that refuse mmap
		// (tmpfs overlays, some CI sandboxes); the reader's contract is
		// read-only either way, so a plain byte slice is observably
		// identical to callers.
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, lcrferrors.Wrapf(lcrferrors.IO, err, "reading model file %s", path)
		}
	}

	m := &Model{data: data}
	if err := m.parseHeader(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// Close unmaps the model's backing memory.
func (m *Model) Close() error {
	if m.data == nil {
		return nil
	}
	// unix.Munmap returns an error if data was never mmap'd (the
	// os.ReadFile fallback path); guard by length-matching against the
	// page size is unreliable, so Close simply best-efforts the unmap and
	// ignores that error from a plain-read-backed Model.
	_ = unix.Munmap(m.data)
	m.data = nil
	return nil
}

func (m *Model) parseHeader() error {
	if len(m.data) < 4 || string(m.data[:4]) != magic {
		return lcrferrors.New(lcrferrors.Incompatible, "model file: bad magic")
	}
	version := binary.LittleEndian.Uint32(m.data[4:8])
	if version != formatVersion {
		return lcrferrors.Newf(lcrferrors.Incompatible, "model file: unsupported version %d", version)
	}
	tag := binary.LittleEndian.Uint32(m.data[8:12])
	if tag != featureTypeTag {
		return lcrferrors.Newf(lcrferrors.Incompatible, "model file: unsupported feature type tag %d", tag)
	}

	pos := headerSize
	sections := make(map[uint32]section, numSections)
	for i := 0; i < numSections; i++ {
		id := binary.LittleEndian.Uint32(m.data[pos:])
		if id != uint32(i+1) {
			return lcrferrors.Newf(lcrferrors.Incompatible,
				"model file: section %d holds chunk %d, want %d", i, id, i+1)
		}
		off := binary.LittleEndian.Uint64(m.data[pos+4:])
		length := binary.LittleEndian.Uint64(m.data[pos+12:])
		sections[id] = section{chunkID: id, offset: off, length: length}
		pos += sectionSize
	}

	assign := func(id uint32, off, ln *int) error {
		s, ok := sections[id]
		if !ok {
			return lcrferrors.Newf(lcrferrors.Incompatible, "model file: missing chunk %d", id)
		}
		if s.offset+s.length > uint64(len(m.data)) {
			return lcrferrors.Newf(lcrferrors.Incompatible, "model file: chunk %d out of bounds", id)
		}
		*off, *ln = int(s.offset), int(s.length)
		return nil
	}
	if err := assign(chunkFeatures, &m.featuresOff, &m.featuresLen); err != nil {
		return err
	}
	if err := assign(chunkLabels, &m.labelsOff, &m.labelsLen); err != nil {
		return err
	}
	if err := assign(chunkAttrs, &m.attrsOff, &m.attrsLen); err != nil {
		return err
	}
	if err := assign(chunkLabelRefs, &m.labelRefsOff, &m.labelRefsLen); err != nil {
		return err
	}
	if err := assign(chunkAttrRefs, &m.attrRefsOff, &m.attrRefsLen); err != nil {
		return err
	}

	m.numFeatures = int(binary.LittleEndian.Uint32(m.data[m.featuresOff:]))
	m.numLabels = int(binary.LittleEndian.Uint32(m.data[m.labelsOff:]))
	m.numAttrs = int(binary.LittleEndian.Uint32(m.data[m.attrsOff:]))

	m.labelIDs = m.buildStringIndex(m.labelsOff, m.numLabels)
	m.attrIDs = m.buildStringIndex(m.attrsOff, m.numAttrs)
	return nil
}

// buildStringIndex reads every string out of the LABELS/ATTRS chunk at
// chunkOff and returns the reverse string->id map label_to_id/attr_to_id
// need; built once at Open time since the chunk is otherwise only
// indexable by a linear scan per lookup.
func (m *Model) buildStringIndex(chunkOff, num int) map[string]int32 {
	idx := make(map[string]int32, num)
	for i := 0; i < num; i++ {
		idx[m.readString(chunkOff, i)] = int32(i)
	}
	return idx
}

// NumLabels returns the number of labels in the model.
func (m *Model) NumLabels() int { return m.numLabels }

// NumAttrs returns the number of surviving (post-pruning) attributes.
func (m *Model) NumAttrs() int { return m.numAttrs }

// NumFeatures returns the number of surviving features.
func (m *Model) NumFeatures() int { return m.numFeatures }

// Feature returns the kind, source, destination and weight of feature
// id fid.
func (m *Model) Feature(fid int) (kind feature.Kind, src, dst int32, weight float64) {
	base := m.featuresOff + 4 + fid*(1+4+4+8)
	d := m.data
	kind = featureKindFromByte(d[base])
	src = int32(binary.LittleEndian.Uint32(d[base+1:]))
	dst = int32(binary.LittleEndian.Uint32(d[base+5:]))
	weight = math.Float64frombits(binary.LittleEndian.Uint64(d[base+9:]))
	return
}

func (m *Model) readString(chunkOff int, id int) string {
	pos := chunkOff + 4
	d := m.data
	for i := 0; i < id; i++ {
		l := int(binary.LittleEndian.Uint32(d[pos:]))
		pos += 4 + l
	}
	l := int(binary.LittleEndian.Uint32(d[pos:]))
	return string(d[pos+4 : pos+4+l])
}

// LabelString returns the string for label id.
func (m *Model) LabelString(id int) string { return m.readString(m.labelsOff, id) }

// AttrString returns the string for the (post-remap) attribute id.
func (m *Model) AttrString(id int) string { return m.readString(m.attrsOff, id) }

// LabelToID returns the id for label string s, or ok=false if s was
// never interned into the saved model.
func (m *Model) LabelToID(s string) (int32, bool) {
	id, ok := m.labelIDs[s]
	return id, ok
}

// AttrToID returns the (post-remap) id for attribute string s, or
// ok=false if s was never interned into the saved model.
func (m *Model) AttrToID(s string) (int32, bool) {
	id, ok := m.attrIDs[s]
	return id, ok
}

// refs reads the (count, fid...) record located via chunkOff's side
// index at original id, returning nil if id has no recorded refs.
func (m *Model) refs(chunkOff, numIDs, id int) []int32 {
	d := m.data
	sideBase := chunkOff + 4
	offVal := int32(binary.LittleEndian.Uint32(d[sideBase+4*id:]))
	if offVal < 0 {
		return nil
	}
	entriesBase := sideBase + 4*numIDs
	pos := entriesBase + int(offVal)
	count := int(binary.LittleEndian.Uint32(d[pos:]))
	pos += 4
	out := make([]int32, count)
	for i := 0; i < count; i++ {
		out[i] = int32(binary.LittleEndian.Uint32(d[pos:]))
		pos += 4
	}
	return out
}

// LabelRefs returns the feature ids of transition features whose source
// label is lid.
func (m *Model) LabelRefs(lid int) []int32 {
	return m.refs(m.labelRefsOff, m.numLabels, lid)
}

// AttrRefs returns the feature ids of state features whose (post-remap)
// source attribute is aid.
func (m *Model) AttrRefs(aid int) []int32 {
	return m.refs(m.attrRefsOff, m.numAttrs, aid)
}
