package adt_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vestfi/vesting-actors/actors/util/adt"
	"github.com/vestfi/vesting-actors/support/ipld"
	tutil "github.com/vestfi/vesting-actors/support/testing"
)

func TestMapPutGetDelete(t *testing.T) {
	store := ipld.NewADTStore(context.Background())
	m, err := adt.MakeEmptyMap(store)
	require.NoError(t, err)

	k1 := tutil.NewIDAddr(t, 101)
	k2 := tutil.NewIDAddr(t, 102)
	v1 := abi.NewTokenAmount(11)
	v2 := abi.NewTokenAmount(22)

	var out abi.TokenAmount
	found, err := m.Get(abi.AddrKey(k1), &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Put(abi.AddrKey(k1), &v1))
	require.NoError(t, m.Put(abi.AddrKey(k2), &v2))

	found, err = m.Get(abi.AddrKey(k1), &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v1, out)

	// Presence check with nil out.
	found, err = m.Get(abi.AddrKey(k2), nil)
	require.NoError(t, err)
	assert.True(t, found)

	// Overwrite.
	require.NoError(t, m.Put(abi.AddrKey(k1), &v2))
	found, err = m.Get(abi.AddrKey(k1), &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v2, out)

	require.NoError(t, m.Delete(abi.AddrKey(k1)))
	found, err = m.Get(abi.AddrKey(k1), &out)
	require.NoError(t, err)
	assert.False(t, found)

	keys, err := m.CollectKeys()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestMapRootRoundtrip(t *testing.T) {
	store := ipld.NewADTStore(context.Background())
	m, err := adt.MakeEmptyMap(store)
	require.NoError(t, err)

	k := tutil.NewIDAddr(t, 101)
	v := abi.NewTokenAmount(42)
	require.NoError(t, m.Put(abi.AddrKey(k), &v))

	// Reload from the root and observe the same contents.
	reloaded := adt.AsMap(store, m.Root())
	var out abi.TokenAmount
	found, err := reloaded.Get(abi.AddrKey(k), &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v, out)
}

func TestSet(t *testing.T) {
	store := ipld.NewADTStore(context.Background())
	s, err := adt.MakeEmptySet(store)
	require.NoError(t, err)

	k := tutil.NewIDAddr(t, 101)
	found, err := s.Has(abi.AddrKey(k))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Put(abi.AddrKey(k)))
	found, err = s.Has(abi.AddrKey(k))
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, s.Delete(abi.AddrKey(k)))
	found, err = s.Has(abi.AddrKey(k))
	require.NoError(t, err)
	assert.False(t, found)

	// Entries survive a reload from the root.
	require.NoError(t, s.Put(abi.AddrKey(k)))
	reloaded := adt.AsSet(store, s.Root())
	found, err = reloaded.Has(abi.AddrKey(k))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSetEmptyValueEncoding(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, adt.EmptyValue{}.MarshalCBOR(&b))
	assert.Equal(t, []byte{0x80}, b.Bytes())

	var out adt.EmptyValue
	require.NoError(t, out.UnmarshalCBOR(&b))

	err := out.UnmarshalCBOR(bytes.NewReader([]byte{0xa0}))
	require.Error(t, err)
}

func TestBalanceTable(t *testing.T) {
	store := ipld.NewADTStore(context.Background())
	table, err := adt.MakeEmptyBalanceTable(store)
	require.NoError(t, err)

	k := tutil.NewIDAddr(t, 101)

	// Absent keys read as zero.
	balance, err := table.Get(k)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	require.NoError(t, table.Add(k, abi.NewTokenAmount(100)))
	require.NoError(t, table.Add(k, abi.NewTokenAmount(20)))
	balance, err = table.Get(k)
	require.NoError(t, err)
	assert.Equal(t, abi.NewTokenAmount(120), balance)

	// Going negative is rejected and leaves the balance unchanged.
	err = table.MustSubtract(k, abi.NewTokenAmount(121))
	require.Error(t, err)
	balance, err = table.Get(k)
	require.NoError(t, err)
	assert.Equal(t, abi.NewTokenAmount(120), balance)

	require.NoError(t, table.MustSubtract(k, abi.NewTokenAmount(70)))
	balance, err = table.Get(k)
	require.NoError(t, err)
	assert.Equal(t, abi.NewTokenAmount(50), balance)

	k2 := tutil.NewIDAddr(t, 102)
	require.NoError(t, table.Add(k2, abi.NewTokenAmount(7)))
	total, err := table.Total()
	require.NoError(t, err)
	assert.True(t, total.Equals(big.NewInt(57)))
}
