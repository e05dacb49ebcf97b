package vesting_test

import (
	"context"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vestfi/vesting-actors/actors/builtin/vesting"
	vmr "github.com/vestfi/vesting-actors/actors/runtime"
	"github.com/vestfi/vesting-actors/actors/util/adt"
	"github.com/vestfi/vesting-actors/support/mock"
	tutil "github.com/vestfi/vesting-actors/support/testing"
)

func TestConstruction(t *testing.T) {
	receiver := tutil.NewIDAddr(t, 100)
	admin := tutil.NewIDAddr(t, 101)

	t.Run("construct with admin", func(t *testing.T) {
		rt := mock.NewBuilder(context.Background(), receiver).WithCaller(admin).Build(t)
		actor := vesting.NewActor()

		rt.ExpectValidateCallerAny()
		ret := rt.Call(actor.Constructor, &admin)
		assert.Nil(t, ret)
		rt.Verify()

		var st vesting.State
		rt.GetState(&st)
		assert.Equal(t, admin, st.Admin)

		_, acc := vesting.CheckStateInvariants(&st, adt.AsStore(rt))
		assert.True(t, acc.IsEmpty(), "%v", acc.Messages())
	})

	t.Run("rejects undefined admin", func(t *testing.T) {
		rt := mock.NewBuilder(context.Background(), receiver).WithCaller(admin).Build(t)
		actor := vesting.NewActor()

		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
			rt.Call(actor.Constructor, &addr.Undef)
		})
		rt.Verify()
	})
}

type actorHarness struct {
	*vesting.Actor
	t     testing.TB
	admin addr.Address
	asset addr.Address
}

func newHarness(t testing.TB) *actorHarness {
	return &actorHarness{
		Actor: vesting.NewActor(),
		t:     t,
		admin: tutil.NewIDAddr(t, 101),
		asset: tutil.NewIDAddr(t, 999),
	}
}

func (h *actorHarness) newRuntime(t *testing.T) *mock.Runtime {
	receiver := tutil.NewIDAddr(t, 100)
	rt := mock.NewBuilder(context.Background(), receiver).WithCaller(h.admin).Build(t)
	h.constructAndVerify(rt)
	return rt
}

func (h *actorHarness) constructAndVerify(rt *mock.Runtime) {
	rt.ExpectValidateCallerAny()
	ret := rt.Call(h.Constructor, &h.admin)
	assert.Nil(h.t, ret)
	rt.Verify()
}

func (h *actorHarness) scheduleParams(recipient addr.Address, total int64, start, cliff, duration abi.ChainEpoch) *vesting.CreateScheduleParams {
	return &vesting.CreateScheduleParams{
		Recipient:       recipient,
		Asset:           h.asset,
		TotalAmount:     abi.NewTokenAmount(total),
		StartEpoch:      start,
		CliffDuration:   cliff,
		VestingDuration: duration,
	}
}

// Establishes a funded, eligible recipient and creates their schedule.
func (h *actorHarness) createSchedule(rt *mock.Runtime, params *vesting.CreateScheduleParams) {
	rt.SetCaller(h.admin)
	rt.SetEligible(params.Recipient, true)
	rt.SetBalance(params.Asset, h.admin, params.TotalAmount)
	rt.ExpectValidateCallerAddr(h.admin)
	rt.ExpectTransferIn(params.Asset, h.admin, params.TotalAmount, exitcode.Ok)
	rt.ExpectEvent(vmr.Event{Name: vesting.EventScheduleCreated, Recipient: params.Recipient, Amount: params.TotalAmount})
	rt.Call(h.CreateSchedule, params)
	rt.Verify()
}

func (h *actorHarness) claim(rt *mock.Runtime, claimant addr.Address, expectAmount abi.TokenAmount) {
	rt.SetCaller(claimant)
	rt.ExpectValidateCallerAny()
	rt.ExpectTransferOut(h.asset, claimant, expectAmount, exitcode.Ok)
	rt.ExpectEvent(vmr.Event{Name: vesting.EventTokensClaimed, Recipient: claimant, Amount: expectAmount})
	ret := rt.Call(h.Claim, nil)
	assert.Equal(h.t, &expectAmount, ret)
	rt.Verify()
}

func (h *actorHarness) revoke(rt *mock.Runtime, recipient addr.Address, expectReclaimed abi.TokenAmount) {
	rt.SetCaller(h.admin)
	rt.ExpectValidateCallerAddr(h.admin)
	if expectReclaimed.GreaterThan(big.Zero()) {
		rt.ExpectTransferOut(h.asset, h.admin, expectReclaimed, exitcode.Ok)
	}
	rt.ExpectEvent(vmr.Event{Name: vesting.EventScheduleRevoked, Recipient: recipient, Amount: expectReclaimed})
	ret := rt.Call(h.Revoke, &recipient)
	assert.True(h.t, expectReclaimed.Equals(*ret.(*abi.TokenAmount)))
	rt.Verify()
}

func (h *actorHarness) getSchedule(rt *mock.Runtime, recipient addr.Address) *vesting.VestingSchedule {
	var st vesting.State
	rt.GetState(&st)
	sched, found, err := st.GetSchedule(adt.AsStore(rt), recipient)
	require.NoError(h.t, err)
	require.True(h.t, found)
	return sched
}

func (h *actorHarness) checkState(rt *mock.Runtime) {
	var st vesting.State
	rt.GetState(&st)
	_, acc := vesting.CheckStateInvariants(&st, adt.AsStore(rt))
	assert.True(h.t, acc.IsEmpty(), "%v", acc.Messages())
}

func TestCreateSchedule(t *testing.T) {
	recipient := tutil.NewIDAddr(t, 102)

	t.Run("creates a schedule and escrows funds", func(t *testing.T) {
		h := newHarness(t)
		rt := h.newRuntime(t)
		rt.SetEpoch(50)

		h.createSchedule(rt, h.scheduleParams(recipient, 1200, 60, 30, 120))

		sched := h.getSchedule(rt, recipient)
		assert.Equal(t, abi.NewTokenAmount(1200), sched.TotalAmount)
		assert.Equal(t, big.Zero(), sched.ClaimedAmount)
		assert.Equal(t, abi.ChainEpoch(60), sched.StartEpoch)
		assert.False(t, sched.Revoked)

		// Escrow debited the admin's external balance.
		assert.True(t, rt.GetBalance(h.asset, h.admin).Equals(big.Zero()))

		var st vesting.State
		rt.GetState(&st)
		held, err := st.GetCustody(adt.AsStore(rt), h.asset)
		require.NoError(t, err)
		assert.Equal(t, abi.NewTokenAmount(1200), held)
		h.checkState(rt)
	})

	t.Run("rejects caller that is not the admin", func(t *testing.T) {
		h := newHarness(t)
		rt := h.newRuntime(t)
		stranger := tutil.NewIDAddr(t, 103)

		rt.SetCaller(stranger)
		rt.ExpectValidateCallerAddr(h.admin)
		rt.ExpectAbort(exitcode.ErrForbidden, func() {
			rt.Call(h.CreateSchedule, h.scheduleParams(recipient, 1200, 60, 30, 120))
		})
		rt.Verify()
	})

	t.Run("rejects ineligible recipient", func(t *testing.T) {
		h := newHarness(t)
		rt := h.newRuntime(t)

		rt.ExpectValidateCallerAddr(h.admin)
		rt.ExpectAbort(vesting.ErrNotEligible, func() {
			rt.Call(h.CreateSchedule, h.scheduleParams(recipient, 1200, 60, 30, 120))
		})
		rt.Verify()
	})

	t.Run("rejects while halted", func(t *testing.T) {
		h := newHarness(t)
		rt := h.newRuntime(t)
		rt.SetEligible(recipient, true)
		rt.SetHalted(true)

		rt.ExpectValidateCallerAddr(h.admin)
		rt.ExpectAbort(vesting.ErrHalted, func() {
			rt.Call(h.CreateSchedule, h.scheduleParams(recipient, 1200, 60, 30, 120))
		})
		rt.Verify()
	})

	t.Run("rejects bad parameters", func(t *testing.T) {
		h := newHarness(t)
		rt := h.newRuntime(t)
		rt.SetEligible(recipient, true)
		rt.SetEpoch(50)

		badParams := []*vesting.CreateScheduleParams{
			h.scheduleParams(recipient, 0, 60, 30, 120),     // zero amount
			h.scheduleParams(recipient, -5, 60, 30, 120),    // negative amount
			h.scheduleParams(recipient, 1200, 60, 30, 0),    // zero duration
			h.scheduleParams(recipient, 1200, 60, -1, 120),  // negative cliff
			h.scheduleParams(recipient, 1200, 60, 121, 120), // cliff beyond vest end
			h.scheduleParams(recipient, 1200, 49, 30, 120),  // start in the past
		}
		for _, params := range badParams {
			rt.ExpectValidateCallerAddr(h.admin)
			rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
				rt.Call(h.CreateSchedule, params)
			})
			rt.Verify()
		}
	})

	t.Run("rejects duplicate schedule", func(t *testing.T) {
		h := newHarness(t)
		rt := h.newRuntime(t)
		h.createSchedule(rt, h.scheduleParams(recipient, 1200, 60, 30, 120))

		rt.SetBalance(h.asset, h.admin, abi.NewTokenAmount(500))
		rt.ExpectValidateCallerAddr(h.admin)
		rt.ExpectAbort(vesting.ErrDuplicateSchedule, func() {
			rt.Call(h.CreateSchedule, h.scheduleParams(recipient, 500, 60, 0, 60))
		})
		rt.Verify()
		h.checkState(rt)
	})

	t.Run("a revoked schedule still blocks re-creation", func(t *testing.T) {
		h := newHarness(t)
		rt := h.newRuntime(t)
		h.createSchedule(rt, h.scheduleParams(recipient, 1200, 60, 30, 120))
		h.revoke(rt, recipient, abi.NewTokenAmount(1200))

		rt.SetBalance(h.asset, h.admin, abi.NewTokenAmount(500))
		rt.ExpectValidateCallerAddr(h.admin)
		rt.ExpectAbort(vesting.ErrDuplicateSchedule, func() {
			rt.Call(h.CreateSchedule, h.scheduleParams(recipient, 500, 60, 0, 60))
		})
		rt.Verify()
	})

	t.Run("rejects when admin balance is insufficient", func(t *testing.T) {
		h := newHarness(t)
		rt := h.newRuntime(t)
		rt.SetEligible(recipient, true)
		rt.SetBalance(h.asset, h.admin, abi.NewTokenAmount(1199))

		rt.ExpectValidateCallerAddr(h.admin)
		rt.ExpectAbort(exitcode.ErrInsufficientFunds, func() {
			rt.Call(h.CreateSchedule, h.scheduleParams(recipient, 1200, 60, 30, 120))
		})
		rt.Verify()
	})

	t.Run("records nothing when the escrow transfer fails", func(t *testing.T) {
		h := newHarness(t)
		rt := h.newRuntime(t)
		rt.SetEligible(recipient, true)
		rt.SetBalance(h.asset, h.admin, abi.NewTokenAmount(1200))

		rt.ExpectValidateCallerAddr(h.admin)
		rt.ExpectTransferIn(h.asset, h.admin, abi.NewTokenAmount(1200), exitcode.ErrInsufficientFunds)
		rt.ExpectAbort(exitcode.ErrInsufficientFunds, func() {
			rt.Call(h.CreateSchedule, h.scheduleParams(recipient, 1200, 60, 30, 120))
		})
		rt.Verify()

		var st vesting.State
		rt.GetState(&st)
		_, found, err := st.GetSchedule(adt.AsStore(rt), recipient)
		require.NoError(t, err)
		assert.False(t, found)
		h.checkState(rt)
	})
}

func TestClaim(t *testing.T) {
	recipient := tutil.NewIDAddr(t, 102)

	setup := func(t *testing.T) (*actorHarness, *mock.Runtime) {
		h := newHarness(t)
		rt := h.newRuntime(t)
		h.createSchedule(rt, h.scheduleParams(recipient, 1200, 0, 30, 120))
		return h, rt
	}

	t.Run("nothing vested before the cliff", func(t *testing.T) {
		h, rt := setup(t)
		rt.SetEpoch(29)
		rt.SetCaller(recipient)
		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(vesting.ErrNothingVested, func() {
			rt.Call(h.Claim, nil)
		})
		rt.Verify()
		h.checkState(rt)
	})

	t.Run("pays the unlocked amount after the cliff", func(t *testing.T) {
		h, rt := setup(t)
		rt.SetEpoch(45)
		h.claim(rt, recipient, abi.NewTokenAmount(450))

		sched := h.getSchedule(rt, recipient)
		assert.Equal(t, abi.NewTokenAmount(450), sched.ClaimedAmount)
		assert.Equal(t, abi.NewTokenAmount(450), rt.GetBalance(h.asset, recipient))
		h.checkState(rt)
	})

	t.Run("repeat claim at the same epoch pays nothing", func(t *testing.T) {
		h, rt := setup(t)
		rt.SetEpoch(45)
		h.claim(rt, recipient, abi.NewTokenAmount(450))

		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(vesting.ErrNothingVested, func() {
			rt.Call(h.Claim, nil)
		})
		rt.Verify()
	})

	t.Run("claims accumulate to exactly the total", func(t *testing.T) {
		h, rt := setup(t)
		rt.SetEpoch(45)
		h.claim(rt, recipient, abi.NewTokenAmount(450))
		rt.SetEpoch(90)
		h.claim(rt, recipient, abi.NewTokenAmount(450))
		rt.SetEpoch(500)
		h.claim(rt, recipient, abi.NewTokenAmount(300))

		sched := h.getSchedule(rt, recipient)
		assert.Equal(t, sched.TotalAmount, sched.ClaimedAmount)
		assert.Equal(t, abi.NewTokenAmount(1200), rt.GetBalance(h.asset, recipient))

		// Exhausted; nothing further ever.
		rt.SetEpoch(1000)
		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(vesting.ErrNothingVested, func() {
			rt.Call(h.Claim, nil)
		})
		rt.Verify()
		h.checkState(rt)
	})

	t.Run("caller without a schedule is rejected", func(t *testing.T) {
		h, rt := setup(t)
		stranger := tutil.NewIDAddr(t, 103)
		rt.SetEpoch(45)
		rt.SetCaller(stranger)
		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(vesting.ErrScheduleNotFound, func() {
			rt.Call(h.Claim, nil)
		})
		rt.Verify()
	})

	t.Run("rejected while halted", func(t *testing.T) {
		h, rt := setup(t)
		rt.SetEpoch(45)
		rt.SetHalted(true)
		rt.SetCaller(recipient)
		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(vesting.ErrHalted, func() {
			rt.Call(h.Claim, nil)
		})
		rt.Verify()
	})

	t.Run("failed payout leaves the schedule unchanged", func(t *testing.T) {
		h, rt := setup(t)
		rt.SetEpoch(45)
		rt.SetCaller(recipient)
		rt.ExpectValidateCallerAny()
		rt.ExpectTransferOut(h.asset, recipient, abi.NewTokenAmount(450), exitcode.ErrIllegalState)
		rt.ExpectAbort(exitcode.ErrIllegalState, func() {
			rt.Call(h.Claim, nil)
		})
		rt.Verify()

		sched := h.getSchedule(rt, recipient)
		assert.True(t, sched.ClaimedAmount.IsZero())
		h.checkState(rt)
	})
}

func TestRevoke(t *testing.T) {
	recipient := tutil.NewIDAddr(t, 102)

	setup := func(t *testing.T) (*actorHarness, *mock.Runtime) {
		h := newHarness(t)
		rt := h.newRuntime(t)
		h.createSchedule(rt, h.scheduleParams(recipient, 1200, 0, 30, 120))
		return h, rt
	}

	t.Run("reclaims the unvested remainder mid-vest", func(t *testing.T) {
		h, rt := setup(t)
		rt.SetEpoch(45)
		h.revoke(rt, recipient, abi.NewTokenAmount(750))

		sched := h.getSchedule(rt, recipient)
		assert.True(t, sched.Revoked)
		assert.Equal(t, abi.NewTokenAmount(450), sched.TotalAmount)
		assert.Equal(t, abi.NewTokenAmount(750), rt.GetBalance(h.asset, h.admin))
		h.checkState(rt)
	})

	t.Run("earned remainder stays claimable after revocation", func(t *testing.T) {
		h, rt := setup(t)
		rt.SetEpoch(45)
		h.claim(rt, recipient, abi.NewTokenAmount(450))
		rt.SetEpoch(60)
		// Vested 600, claimed 450; revoking returns 600 of the original 1200.
		h.revoke(rt, recipient, abi.NewTokenAmount(600))

		// The outstanding 150 remains claimable regardless of further time.
		rt.SetEpoch(61)
		h.claim(rt, recipient, abi.NewTokenAmount(150))

		rt.SetEpoch(5000)
		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(vesting.ErrNothingVested, func() {
			rt.Call(h.Claim, nil)
		})
		rt.Verify()
		h.checkState(rt)
	})

	t.Run("revocation before the cliff reclaims everything", func(t *testing.T) {
		h, rt := setup(t)
		rt.SetEpoch(10)
		h.revoke(rt, recipient, abi.NewTokenAmount(1200))

		sched := h.getSchedule(rt, recipient)
		assert.True(t, sched.Revoked)
		assert.True(t, sched.TotalAmount.IsZero())

		rt.SetEpoch(500)
		rt.SetCaller(recipient)
		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(vesting.ErrNothingVested, func() {
			rt.Call(h.Claim, nil)
		})
		rt.Verify()
		h.checkState(rt)
	})

	t.Run("revocation after full vesting reclaims nothing", func(t *testing.T) {
		h, rt := setup(t)
		rt.SetEpoch(120)
		h.revoke(rt, recipient, big.Zero())

		sched := h.getSchedule(rt, recipient)
		assert.True(t, sched.Revoked)
		assert.Equal(t, abi.NewTokenAmount(1200), sched.TotalAmount)
		h.checkState(rt)
	})

	t.Run("second revocation is rejected", func(t *testing.T) {
		h, rt := setup(t)
		rt.SetEpoch(45)
		h.revoke(rt, recipient, abi.NewTokenAmount(750))

		rt.ExpectValidateCallerAddr(h.admin)
		rt.ExpectAbort(vesting.ErrAlreadyRevoked, func() {
			rt.Call(h.Revoke, &recipient)
		})
		rt.Verify()
	})

	t.Run("unknown recipient is rejected", func(t *testing.T) {
		h, rt := setup(t)
		stranger := tutil.NewIDAddr(t, 103)
		rt.ExpectValidateCallerAddr(h.admin)
		rt.ExpectAbort(vesting.ErrScheduleNotFound, func() {
			rt.Call(h.Revoke, &stranger)
		})
		rt.Verify()
	})

	t.Run("caller that is not the admin is rejected", func(t *testing.T) {
		h, rt := setup(t)
		stranger := tutil.NewIDAddr(t, 103)
		rt.SetCaller(stranger)
		rt.ExpectValidateCallerAddr(h.admin)
		rt.ExpectAbort(exitcode.ErrForbidden, func() {
			rt.Call(h.Revoke, &recipient)
		})
		rt.Verify()
	})
}

func TestVestedAmount(t *testing.T) {
	recipient := tutil.NewIDAddr(t, 102)

	h := newHarness(t)
	rt := h.newRuntime(t)
	h.createSchedule(rt, h.scheduleParams(recipient, 1200, 0, 30, 120))

	query := func(at abi.ChainEpoch, who addr.Address) abi.TokenAmount {
		rt.SetEpoch(at)
		rt.ExpectValidateCallerAny()
		ret := rt.Call(h.VestedAmount, &who)
		rt.Verify()
		return *ret.(*abi.TokenAmount)
	}

	assert.Equal(t, big.Zero(), query(29, recipient))
	assert.Equal(t, abi.NewTokenAmount(450), query(45, recipient))
	assert.Equal(t, abi.NewTokenAmount(1200), query(120, recipient))

	// Unknown recipients report zero rather than aborting.
	stranger := tutil.NewIDAddr(t, 103)
	assert.Equal(t, big.Zero(), query(45, stranger))

	// The query is net of claims: draining the unlocked balance zeroes it
	// until more of the schedule unlocks.
	rt.SetEpoch(45)
	h.claim(rt, recipient, abi.NewTokenAmount(450))
	assert.True(t, query(45, recipient).Equals(big.Zero()))
	assert.Equal(t, abi.NewTokenAmount(150), query(60, recipient))
	assert.Equal(t, abi.NewTokenAmount(750), query(120, recipient))
}

func TestReentrancy(t *testing.T) {
	recipient := tutil.NewIDAddr(t, 102)

	t.Run("claim cannot re-enter its own schedule", func(t *testing.T) {
		h := newHarness(t)
		rt := h.newRuntime(t)
		h.createSchedule(rt, h.scheduleParams(recipient, 1200, 0, 30, 120))
		rt.SetEpoch(45)

		rt.SetCaller(recipient)
		rt.ExpectValidateCallerAny()
		rt.ExpectTransferOutWithHook(h.asset, recipient, abi.NewTokenAmount(450), exitcode.Ok, func() {
			// The asset collaborator calls back into the actor mid-payout.
			rt.ExpectAbort(vesting.ErrReentrantCall, func() {
				rt.Call(h.Claim, nil)
			})
		})
		rt.ExpectEvent(vmr.Event{Name: vesting.EventTokensClaimed, Recipient: recipient, Amount: abi.NewTokenAmount(450)})
		rt.Call(h.Claim, nil)
		rt.Verify()

		// Only the outer claim took effect.
		sched := h.getSchedule(rt, recipient)
		assert.Equal(t, abi.NewTokenAmount(450), sched.ClaimedAmount)
		h.checkState(rt)
	})

	t.Run("revoke cannot re-enter the schedule being revoked", func(t *testing.T) {
		h := newHarness(t)
		rt := h.newRuntime(t)
		h.createSchedule(rt, h.scheduleParams(recipient, 1200, 0, 30, 120))
		rt.SetEpoch(45)

		rt.SetCaller(h.admin)
		rt.ExpectValidateCallerAddr(h.admin)
		rt.ExpectTransferOutWithHook(h.asset, h.admin, abi.NewTokenAmount(750), exitcode.Ok, func() {
			rt.ExpectAbort(vesting.ErrReentrantCall, func() {
				rt.Call(h.Revoke, &recipient)
			})
		})
		rt.ExpectEvent(vmr.Event{Name: vesting.EventScheduleRevoked, Recipient: recipient, Amount: abi.NewTokenAmount(750)})
		rt.Call(h.Revoke, &recipient)
		rt.Verify()
		h.checkState(rt)
	})

	t.Run("operations on distinct schedules are independent", func(t *testing.T) {
		h := newHarness(t)
		rt := h.newRuntime(t)
		other := tutil.NewIDAddr(t, 104)
		h.createSchedule(rt, h.scheduleParams(recipient, 1200, 0, 30, 120))
		h.createSchedule(rt, h.scheduleParams(other, 600, 0, 0, 60))
		rt.SetEpoch(45)

		// A callback touching a different schedule goes through.
		rt.SetCaller(recipient)
		rt.ExpectValidateCallerAny()
		rt.ExpectTransferOutWithHook(h.asset, recipient, abi.NewTokenAmount(450), exitcode.Ok, func() {
			rt.SetCaller(other)
			rt.ExpectValidateCallerAny()
			rt.ExpectTransferOut(h.asset, other, abi.NewTokenAmount(450), exitcode.Ok)
			rt.ExpectEvent(vmr.Event{Name: vesting.EventTokensClaimed, Recipient: other, Amount: abi.NewTokenAmount(450)})
			rt.Call(h.Claim, nil)
			rt.SetCaller(recipient)
			// The outer claim's event lands after the inner one.
			rt.ExpectEvent(vmr.Event{Name: vesting.EventTokensClaimed, Recipient: recipient, Amount: abi.NewTokenAmount(450)})
		})
		rt.Call(h.Claim, nil)
		rt.Verify()
		h.checkState(rt)
	})
}
