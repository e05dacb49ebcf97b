package adt

import (
	"context"

	"github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"
	cbornode "github.com/ipfs/go-ipld-cbor"

	vmr "github.com/vestfi/vesting-actors/actors/runtime"
)

// Store defines an interface required to back the collections in this package.
type Store interface {
	Context() context.Context
	cbornode.IpldStore
}

// Keyer defines an interface required to put values in a Map.
type Keyer interface {
	Key() string
}

// WrapStore adapts a Go context and a cbor store to the Store interface.
func WrapStore(ctx context.Context, store cbornode.IpldStore) Store {
	return &wstore{
		ctx:       ctx,
		IpldStore: store,
	}
}

type wstore struct {
	ctx context.Context
	cbornode.IpldStore
}

var _ Store = &wstore{}

func (s *wstore) Context() context.Context {
	return s.ctx
}

// AsStore allows a Runtime to satisfy the adt.Store interface.
func AsStore(rt vmr.Runtime) Store {
	return rtStore{rt}
}

var _ Store = &rtStore{}

type rtStore struct {
	vmr.Runtime
}

func (r rtStore) Context() context.Context {
	return r.Runtime.Context()
}

func (r rtStore) Get(_ context.Context, c cid.Cid, out interface{}) error {
	if !r.Runtime.Store().Get(c, out.(vmr.CBORUnmarshaler)) {
		r.Abortf(exitcode.ErrIllegalState, "object %v not found in store", c)
	}
	return nil
}

func (r rtStore) Put(_ context.Context, v interface{}) (cid.Cid, error) {
	return r.Runtime.Store().Put(v.(vmr.CBORMarshaler)), nil
}
