package adt

import (
	"bytes"

	cid "github.com/ipfs/go-cid"
	hamt "github.com/ipfs/go-hamt-ipld"
	errors "github.com/pkg/errors"
	cbg "github.com/whyrusleeping/cbor-gen"

	vmr "github.com/vestfi/vesting-actors/actors/runtime"
)

// Map stores key-value pairs in a HAMT.
type Map struct {
	root  cid.Cid
	store Store
}

// AsMap interprets a store as a HAMT-based map with root `r`.
func AsMap(s Store, r cid.Cid) *Map {
	return &Map{
		root:  r,
		store: s,
	}
}

// MakeEmptyMap creates a new map backed by an empty HAMT and flushes it to the store.
func MakeEmptyMap(s Store) (*Map, error) {
	nd := hamt.NewNode(s)
	m := AsMap(s, cid.Undef)
	err := m.write(nd)
	return m, err
}

// Root returns the root cid of the underlying HAMT.
func (m *Map) Root() cid.Cid {
	return m.root
}

// Put adds value `v` with key `k` to the map.
func (m *Map) Put(k Keyer, v vmr.CBORMarshaler) error {
	root, err := hamt.LoadNode(m.store.Context(), m.store, m.root)
	if err != nil {
		return errors.Wrapf(err, "map put failed to load node %v", m.root)
	}
	if err = root.Set(m.store.Context(), k.Key(), v); err != nil {
		return errors.Wrapf(err, "map put failed to set key %v", k.Key())
	}
	if err = root.Flush(m.store.Context()); err != nil {
		return errors.Wrapf(err, "map put failed to flush node %v", m.root)
	}
	return m.write(root)
}

// Get puts the value at `k` into `out`, if found. A nil `out` checks presence only.
func (m *Map) Get(k Keyer, out vmr.CBORUnmarshaler) (bool, error) {
	root, err := hamt.LoadNode(m.store.Context(), m.store, m.root)
	if err != nil {
		return false, errors.Wrapf(err, "map get failed to load node %v", m.root)
	}
	if err := root.Find(m.store.Context(), k.Key(), out); err != nil {
		if err == hamt.ErrNotFound {
			return false, nil
		}
		return false, errors.Wrapf(err, "map get failed to find key %v", k.Key())
	}
	return true, nil
}

// Delete removes the value at `k` from the map.
func (m *Map) Delete(k Keyer) error {
	root, err := hamt.LoadNode(m.store.Context(), m.store, m.root)
	if err != nil {
		return errors.Wrapf(err, "map delete failed to load node %v", m.root)
	}
	if err = root.Delete(m.store.Context(), k.Key()); err != nil {
		return errors.Wrapf(err, "map delete failed for key %v", k.Key())
	}
	if err = root.Flush(m.store.Context()); err != nil {
		return errors.Wrapf(err, "map delete failed to flush node %v", m.root)
	}
	return m.write(root)
}

// ForEach iterates all entries in the map, deserializing each value in turn
// into `out` and then calling a function with the corresponding key.
// If `out` is nil, deserialization is skipped.
func (m *Map) ForEach(out vmr.CBORUnmarshaler, fn func(key string) error) error {
	root, err := hamt.LoadNode(m.store.Context(), m.store, m.root)
	if err != nil {
		return errors.Wrapf(err, "map iteration failed to load node %v", m.root)
	}
	return root.ForEach(m.store.Context(), func(k string, val interface{}) error {
		if out != nil {
			if err := out.UnmarshalCBOR(bytes.NewReader(val.(*cbg.Deferred).Raw)); err != nil {
				return err
			}
		}
		return fn(k)
	})
}

// CollectKeys collects all the keys from the map into a slice of strings.
func (m *Map) CollectKeys() (out []string, err error) {
	err = m.ForEach(nil, func(key string) error {
		out = append(out, key)
		return nil
	})
	return
}

// Writes the root node to storage and sets the new root CID.
func (m *Map) write(root *hamt.Node) error {
	newCid, err := m.store.Put(m.store.Context(), root)
	if err != nil {
		return errors.Wrapf(err, "map failed to write node %v", m.root)
	}
	m.root = newCid
	return nil
}
