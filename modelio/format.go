// Package modelio implements the on-disk binary model format: a short
// header, a fixed section table, and five typed chunks (FEATURES,
// LABELS, ATTRS, LABEL_REFS, ATTR_REFS), each internally little-endian
// with length-prefixed UTF-8 strings. The layout has no precedent in the
// teacher repo (hiveGo persists models with encoding/gob); it is
// deliberately NOT gob because the wire format must be bit-exact and
// portable to readers outside this module (mmap-friendly, no Go-specific
// framing) -- a requirement encoding/gob cannot satisfy since its wire
// format is neither specified nor stable across encoder/decoder
// versions other than "the same Go program wrote and read it".
package modelio

import "github.com/gocrf/lcrf/feature"

const (
	magic          = "lCRF"
	formatVersion  = uint32(1)
	featureTypeTag = uint32(1) // CRF1D: state + first-order transition features

	chunkFeatures  = uint32(1)
	chunkLabels    = uint32(2)
	chunkAttrs     = uint32(3)
	chunkLabelRefs = uint32(4)
	chunkAttrRefs  = uint32(5)

	numSections = 5

	headerSize  = 4 + 4 + 4                 // magic + version + feature type tag
	sectionSize = 4 + 8 + 8                 // chunk id (u32) + offset (u64) + length (u64)
	sectionTableSize = numSections * sectionSize
)

// section is one row of the on-disk section table.
type section struct {
	chunkID uint32
	offset  uint64
	length  uint64
}

// featureKind mirrors feature.Kind on disk as a single byte.
func featureKindByte(k feature.Kind) byte {
	switch k {
	case feature.Transition:
		return 1
	default:
		return 0
	}
}

func featureKindFromByte(b byte) feature.Kind {
	if b == 1 {
		return feature.Transition
	}
	return feature.State
}
