package access_test

import (
	"context"
	"testing"

	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vestfi/vesting-actors/actors/builtin/access"
	"github.com/vestfi/vesting-actors/support/ipld"
	tutil "github.com/vestfi/vesting-actors/support/testing"
)

func TestRegistryMembership(t *testing.T) {
	store := ipld.NewADTStore(context.Background())
	rootKey := tutil.NewIDAddr(t, 100)
	recipient := tutil.NewIDAddr(t, 101)
	stranger := tutil.NewIDAddr(t, 102)

	r, err := access.NewRegistry(store, rootKey)
	require.NoError(t, err)
	assert.Equal(t, rootKey, r.RootKey())
	assert.False(t, r.IsEligible(recipient))

	require.NoError(t, r.AddRecipient(rootKey, recipient))
	assert.True(t, r.IsEligible(recipient))
	assert.False(t, r.IsEligible(stranger))

	require.NoError(t, r.RemoveRecipient(rootKey, recipient))
	assert.False(t, r.IsEligible(recipient))

	// Removing a non-member fails.
	err = r.RemoveRecipient(rootKey, recipient)
	require.Error(t, err)
	assert.Equal(t, exitcode.ErrNotFound, exitcode.Unwrap(err, exitcode.Ok))
}

func TestRegistryAuthorization(t *testing.T) {
	store := ipld.NewADTStore(context.Background())
	rootKey := tutil.NewIDAddr(t, 100)
	recipient := tutil.NewIDAddr(t, 101)
	stranger := tutil.NewIDAddr(t, 102)

	r, err := access.NewRegistry(store, rootKey)
	require.NoError(t, err)

	err = r.AddRecipient(stranger, recipient)
	require.Error(t, err)
	assert.Equal(t, exitcode.ErrForbidden, exitcode.Unwrap(err, exitcode.Ok))
	assert.False(t, r.IsEligible(recipient))

	require.NoError(t, r.AddRecipient(rootKey, recipient))
	err = r.RemoveRecipient(stranger, recipient)
	require.Error(t, err)
	assert.Equal(t, exitcode.ErrForbidden, exitcode.Unwrap(err, exitcode.Ok))
	assert.True(t, r.IsEligible(recipient))

	err = r.SetHalted(stranger, true)
	require.Error(t, err)
	assert.False(t, r.IsHalted())
}

func TestRegistryHaltGate(t *testing.T) {
	store := ipld.NewADTStore(context.Background())
	rootKey := tutil.NewIDAddr(t, 100)

	r, err := access.NewRegistry(store, rootKey)
	require.NoError(t, err)
	assert.False(t, r.IsHalted())

	require.NoError(t, r.SetHalted(rootKey, true))
	assert.True(t, r.IsHalted())

	require.NoError(t, r.SetHalted(rootKey, false))
	assert.False(t, r.IsHalted())
}

func TestRegistryReload(t *testing.T) {
	store := ipld.NewADTStore(context.Background())
	rootKey := tutil.NewIDAddr(t, 100)
	recipient := tutil.NewIDAddr(t, 101)

	r, err := access.NewRegistry(store, rootKey)
	require.NoError(t, err)
	require.NoError(t, r.AddRecipient(rootKey, recipient))

	// A registry reopened over the persisted root sees the same members.
	reloaded := access.LoadRegistry(store, rootKey, r.Members())
	assert.True(t, reloaded.IsEligible(recipient))
}
