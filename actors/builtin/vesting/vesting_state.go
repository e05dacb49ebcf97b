package vesting

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	cid "github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	adt "github.com/vestfi/vesting-actors/actors/util/adt"
)

// State holds the actor's accounting: the administrator identity, one
// schedule per recipient, and the custody balance per asset.
type State struct {
	// Admin may create and revoke schedules.
	Admin addr.Address

	// Schedules is a HAMT[addr.Address]VestingSchedule keyed by recipient.
	// Entries are never deleted; presence of the key is the existence marker
	// for a schedule, including one revoked before anything vested.
	Schedules cid.Cid

	// Custody is a balance table of asset address to the amount currently
	// held by the actor pending distribution or reclamation.
	Custody cid.Cid
}

// VestingSchedule describes the release of a single recipient's entitlement.
// A recipient holds at most one schedule, ever.
type VestingSchedule struct {
	Recipient addr.Address
	Asset     addr.Address

	// TotalAmount is the entitlement currently tracked as ultimately payable.
	// Revocation freezes it at the amount earned to date.
	TotalAmount abi.TokenAmount

	// ClaimedAmount is the cumulative amount already paid out.
	// Invariant: 0 <= ClaimedAmount <= TotalAmount.
	ClaimedAmount abi.TokenAmount

	StartEpoch      abi.ChainEpoch
	CliffDuration   abi.ChainEpoch
	VestingDuration abi.ChainEpoch

	Revoked bool
}

func ConstructState(store adt.Store, admin addr.Address) (*State, error) {
	emptySchedules, err := adt.MakeEmptyMap(store)
	if err != nil {
		return nil, xerrors.Errorf("failed to create empty schedules map: %w", err)
	}
	emptyCustody, err := adt.MakeEmptyBalanceTable(store)
	if err != nil {
		return nil, xerrors.Errorf("failed to create empty custody table: %w", err)
	}
	return &State{
		Admin:     admin,
		Schedules: emptySchedules.Root(),
		Custody:   emptyCustody.Root(),
	}, nil
}

// AmountVested returns the cumulative amount unlocked at epoch `at`, gross of
// claims: zero before the cliff, the full entitlement at or past the vest
// end, and a linear ramp in between. The ramp is measured from StartEpoch,
// not from the cliff boundary; the cliff gates availability only.
// A revoked schedule's entitlement was frozen at the amount earned at
// revocation, all of which counts as vested.
func (s *VestingSchedule) AmountVested(at abi.ChainEpoch) abi.TokenAmount {
	if s.Revoked {
		return s.TotalAmount
	}
	if at < s.StartEpoch+s.CliffDuration {
		return big.Zero()
	}
	if at >= s.StartEpoch+s.VestingDuration {
		return s.TotalAmount
	}
	elapsed := at - s.StartEpoch
	// Division last to avoid precision loss; big arithmetic cannot overflow.
	return big.Div(big.Mul(s.TotalAmount, big.NewInt(int64(elapsed))), big.NewInt(int64(s.VestingDuration)))
}

// ClaimableAmount returns the amount available for withdrawal at epoch `at`,
// net of prior claims.
func (s *VestingSchedule) ClaimableAmount(at abi.ChainEpoch) abi.TokenAmount {
	return big.Max(big.Sub(s.AmountVested(at), s.ClaimedAmount), big.Zero())
}

//
// State accessors
//

func (st *State) GetSchedule(store adt.Store, recipient addr.Address) (*VestingSchedule, bool, error) {
	schedules := adt.AsMap(store, st.Schedules)
	var out VestingSchedule
	found, err := schedules.Get(abi.AddrKey(recipient), &out)
	if err != nil {
		return nil, false, xerrors.Errorf("failed to load schedule for %v: %w", recipient, err)
	}
	if !found {
		return nil, false, nil
	}
	return &out, true, nil
}

func (st *State) PutSchedule(store adt.Store, sched *VestingSchedule) error {
	schedules := adt.AsMap(store, st.Schedules)
	if err := schedules.Put(abi.AddrKey(sched.Recipient), sched); err != nil {
		return xerrors.Errorf("failed to store schedule for %v: %w", sched.Recipient, err)
	}
	st.Schedules = schedules.Root()
	return nil
}

func (st *State) AddCustody(store adt.Store, asset addr.Address, amount abi.TokenAmount) error {
	custody := adt.AsBalanceTable(store, st.Custody)
	if err := custody.Add(asset, amount); err != nil {
		return xerrors.Errorf("failed to add %v of %v to custody: %w", amount, asset, err)
	}
	st.Custody = custody.Root()
	return nil
}

func (st *State) SubtractCustody(store adt.Store, asset addr.Address, amount abi.TokenAmount) error {
	custody := adt.AsBalanceTable(store, st.Custody)
	if err := custody.MustSubtract(asset, amount); err != nil {
		return xerrors.Errorf("failed to release %v of %v from custody: %w", amount, asset, err)
	}
	st.Custody = custody.Root()
	return nil
}

func (st *State) GetCustody(store adt.Store, asset addr.Address) (abi.TokenAmount, error) {
	custody := adt.AsBalanceTable(store, st.Custody)
	return custody.Get(asset)
}
