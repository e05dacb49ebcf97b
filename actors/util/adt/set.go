package adt

import (
	"fmt"
	"io"

	cid "github.com/ipfs/go-cid"

	vmr "github.com/vestfi/vesting-actors/actors/runtime"
)

type EmptyValue struct{}

var _ vmr.CBORMarshaler = (*EmptyValue)(nil)
var _ vmr.CBORUnmarshaler = (*EmptyValue)(nil)

// 0x80 is empty list (major type 4 with zero length)
// 0xa0 is empty map (major type 5 with zero length)
// This is encoded with empty-list since we use tuple-encoding for everything.
const emptyListEncoded = 0x80

func (EmptyValue) MarshalCBOR(w io.Writer) error {
	_, err := w.Write([]byte{emptyListEncoded})
	return err
}

func (*EmptyValue) UnmarshalCBOR(r io.Reader) error {
	buf := make([]byte, 1)
	_, err := r.Read(buf)
	if err != nil {
		return err
	}
	if buf[0] != emptyListEncoded {
		return fmt.Errorf("invalid empty value %x", buf[0])
	}
	return nil
}

// Set stores keys in a HAMT, with empty values.
type Set struct {
	m *Map
}

// AsSet interprets a store as a HAMT-based set with root `r`.
func AsSet(s Store, r cid.Cid) *Set {
	return &Set{
		m: AsMap(s, r),
	}
}

// MakeEmptySet creates a new set backed by an empty HAMT and flushes it to the store.
func MakeEmptySet(s Store) (*Set, error) {
	m, err := MakeEmptyMap(s)
	if err != nil {
		return nil, err
	}
	return &Set{m}, nil
}

// Root returns the root cid of the underlying HAMT.
func (h *Set) Root() cid.Cid {
	return h.m.Root()
}

// Put adds `k` to the set.
func (h *Set) Put(k Keyer) error {
	return h.m.Put(k, EmptyValue{})
}

// Has returns true iff `k` is in the set.
func (h *Set) Has(k Keyer) (bool, error) {
	return h.m.Get(k, nil)
}

// Delete removes `k` from the set.
func (h *Set) Delete(k Keyer) error {
	return h.m.Delete(k)
}

// CollectKeys collects all keys from the set into a slice of strings.
func (h *Set) CollectKeys() ([]string, error) {
	return h.m.CollectKeys()
}
