package vesting

import (
	"sync"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"

	"github.com/vestfi/vesting-actors/actors/builtin"
	vmr "github.com/vestfi/vesting-actors/actors/runtime"
	"github.com/vestfi/vesting-actors/actors/util/adt"
)

// Actor administers vesting schedules for escrowed assets. The admin creates
// one schedule per recipient, funding it up front; recipients claim as their
// entitlement unlocks; the admin may revoke the unvested remainder.
//
// Methods that touch a schedule hold a per-recipient guard for the duration
// of the invocation, so a collaborator called mid-operation cannot re-enter
// for the same schedule.
type Actor struct {
	lk       sync.Mutex
	inFlight map[addr.Address]struct{}
}

func NewActor() *Actor {
	return &Actor{
		inFlight: make(map[addr.Address]struct{}),
	}
}

func (a *Actor) Exports() []interface{} {
	return []interface{}{
		builtin.MethodConstructor: a.Constructor,
		2:                         a.CreateSchedule,
		3:                         a.Claim,
		4:                         a.Revoke,
		5:                         a.VestedAmount,
	}
}

var _ vmr.Invokee = (*Actor)(nil)

// Marks the recipient's schedule as having an operation in flight, aborting
// if one already is. Returns the release function, to be deferred.
// Acquisition precedes all other checks so that a re-entrant call fails fast
// without consuming the outer call's collaborators.
func (a *Actor) acquire(rt vmr.Runtime, recipient addr.Address) func() {
	a.lk.Lock()
	_, busy := a.inFlight[recipient]
	if !busy {
		a.inFlight[recipient] = struct{}{}
	}
	a.lk.Unlock()

	if busy {
		rt.Abortf(ErrReentrantCall, "operation already in flight for schedule of %v", recipient)
	}
	return func() {
		a.lk.Lock()
		delete(a.inFlight, recipient)
		a.lk.Unlock()
	}
}

func (a *Actor) checkNotHalted(rt vmr.Runtime) {
	if rt.IsHalted() {
		rt.Abortf(ErrHalted, "system is halted")
	}
}

//
// Methods
//

func (a *Actor) Constructor(rt vmr.Runtime, rootAdmin *addr.Address) *abi.EmptyValue {
	rt.ValidateImmediateCallerAcceptAny()
	builtin.RequireParam(rt, rootAdmin != nil && *rootAdmin != addr.Undef, "admin address is required")

	st, err := ConstructState(adt.AsStore(rt), *rootAdmin)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to construct state")
	rt.State().Create(st)
	return nil
}

type CreateScheduleParams struct {
	Recipient       addr.Address
	Asset           addr.Address
	TotalAmount     abi.TokenAmount
	StartEpoch      abi.ChainEpoch
	CliffDuration   abi.ChainEpoch
	VestingDuration abi.ChainEpoch
}

// CreateSchedule escrows params.TotalAmount of the asset from the admin's
// account and records a new schedule for the recipient. The transfer precedes
// the state change; if it fails, no schedule is recorded.
func (a *Actor) CreateSchedule(rt vmr.Runtime, params *CreateScheduleParams) *abi.EmptyValue {
	release := a.acquire(rt, params.Recipient)
	defer release()

	var st State
	rt.State().Readonly(&st)
	rt.ValidateImmediateCallerIs(st.Admin)

	if !rt.IsEligible(params.Recipient) {
		rt.Abortf(ErrNotEligible, "recipient %v is not eligible for vesting", params.Recipient)
	}
	a.checkNotHalted(rt)

	now := rt.CurrEpoch()
	builtin.RequireParam(rt, params.TotalAmount.GreaterThan(big.Zero()),
		"vesting amount %v must be positive", params.TotalAmount)
	builtin.RequireParam(rt, params.VestingDuration > 0,
		"vesting duration %d must be positive", params.VestingDuration)
	builtin.RequireParam(rt, params.CliffDuration >= 0 && params.CliffDuration <= params.VestingDuration,
		"cliff duration %d must lie within vesting duration %d", params.CliffDuration, params.VestingDuration)
	builtin.RequireParam(rt, params.StartEpoch >= now,
		"start epoch %d is in the past (current epoch %d)", params.StartEpoch, now)

	_, found, err := st.GetSchedule(adt.AsStore(rt), params.Recipient)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to check for existing schedule")
	if found {
		rt.Abortf(ErrDuplicateSchedule, "recipient %v already holds a schedule", params.Recipient)
	}

	if rt.BalanceOf(params.Asset, st.Admin).LessThan(params.TotalAmount) {
		rt.Abortf(exitcode.ErrInsufficientFunds, "admin balance of %v is below %v", params.Asset, params.TotalAmount)
	}

	code := rt.TransferIn(params.Asset, st.Admin, params.TotalAmount)
	builtin.RequireSuccess(rt, code, "failed to escrow %v of %v", params.TotalAmount, params.Asset)

	rt.State().Transaction(&st, func() interface{} {
		sched := &VestingSchedule{
			Recipient:       params.Recipient,
			Asset:           params.Asset,
			TotalAmount:     params.TotalAmount,
			ClaimedAmount:   big.Zero(),
			StartEpoch:      params.StartEpoch,
			CliffDuration:   params.CliffDuration,
			VestingDuration: params.VestingDuration,
			Revoked:         false,
		}
		err := st.PutSchedule(adt.AsStore(rt), sched)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to store schedule for %v", params.Recipient)
		err = st.AddCustody(adt.AsStore(rt), params.Asset, params.TotalAmount)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to record custody of %v", params.Asset)
		return nil
	})

	rt.EmitEvent(vmr.Event{Name: EventScheduleCreated, Recipient: params.Recipient, Amount: params.TotalAmount})
	return nil
}

// Claim pays the caller everything currently unlocked and not yet claimed on
// their schedule. A revoked schedule remains claimable up to the frozen
// entitlement. Returns the amount paid.
func (a *Actor) Claim(rt vmr.Runtime, _ *abi.EmptyValue) *abi.TokenAmount {
	claimant := rt.Message().Caller()
	release := a.acquire(rt, claimant)
	defer release()

	rt.ValidateImmediateCallerAcceptAny()
	a.checkNotHalted(rt)
	now := rt.CurrEpoch()

	var st State
	var asset addr.Address
	var claimable abi.TokenAmount
	rt.State().Transaction(&st, func() interface{} {
		sched, found, err := st.GetSchedule(adt.AsStore(rt), claimant)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load schedule for %v", claimant)
		if !found {
			rt.Abortf(ErrScheduleNotFound, "no schedule for %v", claimant)
		}

		claimable = sched.ClaimableAmount(now)
		if claimable.LessThanEqual(big.Zero()) {
			rt.Abortf(ErrNothingVested, "nothing vested for %v at epoch %d", claimant, now)
		}

		sched.ClaimedAmount = big.Add(sched.ClaimedAmount, claimable)
		err = st.PutSchedule(adt.AsStore(rt), sched)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to update schedule for %v", claimant)
		err = st.SubtractCustody(adt.AsStore(rt), sched.Asset, claimable)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to release custody of %v", sched.Asset)
		asset = sched.Asset
		return nil
	})

	code := rt.TransferOut(asset, claimant, claimable)
	builtin.RequireSuccess(rt, code, "failed to pay out %v of %v to %v", claimable, asset, claimant)

	rt.EmitEvent(vmr.Event{Name: EventTokensClaimed, Recipient: claimant, Amount: claimable})
	return &claimable
}

// Revoke freezes the recipient's entitlement at the amount earned so far and
// returns the unvested remainder to the admin. The recipient keeps claiming
// rights over the earned amount. Returns the amount reclaimed.
func (a *Actor) Revoke(rt vmr.Runtime, recipient *addr.Address) *abi.TokenAmount {
	builtin.RequireParam(rt, recipient != nil && *recipient != addr.Undef, "recipient address is required")
	release := a.acquire(rt, *recipient)
	defer release()

	var st State
	rt.State().Readonly(&st)
	rt.ValidateImmediateCallerIs(st.Admin)
	a.checkNotHalted(rt)
	now := rt.CurrEpoch()

	var asset addr.Address
	var unvested abi.TokenAmount
	rt.State().Transaction(&st, func() interface{} {
		sched, found, err := st.GetSchedule(adt.AsStore(rt), *recipient)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load schedule for %v", recipient)
		if !found {
			rt.Abortf(ErrScheduleNotFound, "no schedule for %v", recipient)
		}
		if sched.Revoked {
			rt.Abortf(ErrAlreadyRevoked, "schedule for %v already revoked", recipient)
		}

		// Earned includes what was already claimed; the remainder goes back.
		earned := sched.AmountVested(now)
		unvested = big.Sub(sched.TotalAmount, earned)
		sched.Revoked = true
		sched.TotalAmount = earned
		err = st.PutSchedule(adt.AsStore(rt), sched)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to update schedule for %v", recipient)
		if unvested.GreaterThan(big.Zero()) {
			err = st.SubtractCustody(adt.AsStore(rt), sched.Asset, unvested)
			builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to release custody of %v", sched.Asset)
		}
		asset = sched.Asset
		return nil
	})

	if unvested.GreaterThan(big.Zero()) {
		code := rt.TransferOut(asset, st.Admin, unvested)
		builtin.RequireSuccess(rt, code, "failed to return %v of %v to admin", unvested, asset)
	}

	rt.EmitEvent(vmr.Event{Name: EventScheduleRevoked, Recipient: *recipient, Amount: unvested})
	return &unvested
}

// VestedAmount reports the amount unlocked for a recipient at the current
// epoch and not yet claimed. Zero if the recipient holds no schedule.
func (a *Actor) VestedAmount(rt vmr.Runtime, recipient *addr.Address) *abi.TokenAmount {
	rt.ValidateImmediateCallerAcceptAny()
	builtin.RequireParam(rt, recipient != nil && *recipient != addr.Undef, "recipient address is required")
	now := rt.CurrEpoch()

	var st State
	rt.State().Readonly(&st)
	sched, found, err := st.GetSchedule(adt.AsStore(rt), *recipient)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load schedule for %v", recipient)

	vested := big.Zero()
	if found {
		vested = sched.ClaimableAmount(now)
	}
	return &vested
}
