package vesting

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"

	"github.com/vestfi/vesting-actors/actors/builtin"
	"github.com/vestfi/vesting-actors/actors/util/adt"
)

type StateSummary struct {
	ScheduleCount  int
	PendingByAsset map[addr.Address]abi.TokenAmount
	CustodyByAsset map[addr.Address]abi.TokenAmount
}

// Checks internal invariants of vesting state. In particular, for every asset
// the custody balance must equal the sum over schedules of the amount still
// owed (total minus claimed).
func CheckStateInvariants(st *State, store adt.Store) (*StateSummary, *builtin.MessageAccumulator) {
	acc := &builtin.MessageAccumulator{}

	acc.Require(st.Admin != addr.Undef, "admin address is undefined")

	pending := make(map[addr.Address]abi.TokenAmount)
	count := 0

	schedules := adt.AsMap(store, st.Schedules)
	var sched VestingSchedule
	err := schedules.ForEach(&sched, func(key string) error {
		count++
		recipient, err := addr.NewFromBytes([]byte(key))
		acc.RequireNoError(err, "schedule key is not an address")
		if err == nil {
			acc.Require(recipient == sched.Recipient, "schedule for %v keyed under %v", sched.Recipient, recipient)
		}

		acc.Require(sched.TotalAmount.GreaterThanEqual(big.Zero()), "schedule for %v has negative total %v", sched.Recipient, sched.TotalAmount)
		acc.Require(sched.ClaimedAmount.GreaterThanEqual(big.Zero()), "schedule for %v has negative claimed %v", sched.Recipient, sched.ClaimedAmount)
		acc.Require(sched.ClaimedAmount.LessThanEqual(sched.TotalAmount), "schedule for %v claimed %v exceeds total %v", sched.Recipient, sched.ClaimedAmount, sched.TotalAmount)
		acc.Require(sched.VestingDuration > 0 || sched.Revoked, "schedule for %v has non-positive vesting duration %d", sched.Recipient, sched.VestingDuration)
		acc.Require(sched.CliffDuration >= 0, "schedule for %v has negative cliff duration %d", sched.Recipient, sched.CliffDuration)

		owed := big.Sub(sched.TotalAmount, sched.ClaimedAmount)
		prev, ok := pending[sched.Asset]
		if !ok {
			prev = big.Zero()
		}
		pending[sched.Asset] = big.Add(prev, owed)
		return nil
	})
	acc.RequireNoError(err, "error iterating schedules")

	custodyByAsset := make(map[addr.Address]abi.TokenAmount)
	custody := adt.AsBalanceTable(store, st.Custody)
	var balance abi.TokenAmount
	err = (*adt.Map)(custody).ForEach(&balance, func(key string) error {
		asset, err := addr.NewFromBytes([]byte(key))
		acc.RequireNoError(err, "custody key is not an address")
		acc.Require(balance.GreaterThanEqual(big.Zero()), "custody of %v is negative: %v", asset, balance)
		custodyByAsset[asset] = balance
		return nil
	})
	acc.RequireNoError(err, "error iterating custody table")

	for asset, owed := range pending {
		held, ok := custodyByAsset[asset]
		if !ok {
			held = big.Zero()
		}
		acc.Require(held.Equals(owed), "custody of %v is %v but schedules are owed %v", asset, held, owed)
	}
	for asset, held := range custodyByAsset {
		if _, ok := pending[asset]; !ok {
			acc.Require(held.IsZero(), "custody holds %v of %v with no schedule owed it", held, asset)
		}
	}

	return &StateSummary{
		ScheduleCount:  count,
		PendingByAsset: pending,
		CustodyByAsset: custodyByAsset,
	}, acc
}
