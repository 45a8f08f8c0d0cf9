// Package dictionary defines the string<->id mapping contract the CRF
// core consumes, per spec: intern, lookup, reverse, size. The balanced-
// tree backed production implementation is an external collaborator and
// out of scope here; Memory below is a reference implementation used only
// by this module's own tests.
package dictionary

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/gocrf/lcrf/lcrferrors"
)

// Dictionary maps strings to dense non-negative integer ids and back.
type Dictionary interface {
	// Intern returns the id for s, allocating a new one if s is unseen.
	// Returns NotSupported if the dictionary has been sealed read-only.
	Intern(s string) (int32, error)
	// Lookup returns the id for s if already interned, or ok=false.
	Lookup(s string) (id int32, ok bool)
	// Reverse returns the string for id, or ok=false if id is out of range.
	Reverse(id int32) (s string, ok bool)
	// Size returns the number of interned strings.
	Size() int
}

// Memory is a minimal in-memory Dictionary: a map plus a reverse slice.
// It stands in for the out-of-scope balanced-tree dictionary in this
// module's own tests -- it is not the production string<->id store the
// spec describes, which is an external dependency.
type Memory struct {
	ids     map[string]int32
	strings []string
	sealed  bool
}

// NewMemory creates an empty, writable Memory dictionary.
func NewMemory() *Memory {
	return &Memory{ids: make(map[string]int32)}
}

// Seal makes the dictionary read-only; subsequent Intern calls fail.
func (m *Memory) Seal() { m.sealed = true }

// Sealed reports whether Seal has been called.
func (m *Memory) Sealed() bool { return m.sealed }

func (m *Memory) Intern(s string) (int32, error) {
	if id, ok := m.ids[s]; ok {
		return id, nil
	}
	if m.sealed {
		return 0, lcrferrors.Wrapf(lcrferrors.NotSupported, errors.New("dictionary sealed"),
			"intern(%q) on a sealed dictionary", s)
	}
	id := int32(len(m.strings))
	m.ids[s] = id
	m.strings = append(m.strings, s)
	return id, nil
}

func (m *Memory) Lookup(s string) (int32, bool) {
	id, ok := m.ids[s]
	return id, ok
}

func (m *Memory) Reverse(id int32) (string, bool) {
	if id < 0 || int(id) >= len(m.strings) {
		return "", false
	}
	return m.strings[id], true
}

func (m *Memory) Size() int { return len(m.strings) }

// Strings returns every interned string in id order.
func (m *Memory) Strings() []string {
	return append([]string(nil), m.strings...)
}

// Keys returns the interned strings in map iteration order, which is
// unspecified and may differ between calls; used by diagnostics that want
// to enumerate the vocabulary without caring about id order.
func (m *Memory) Keys() []string {
	return maps.Keys(m.ids)
}

var _ Dictionary = (*Memory)(nil)
