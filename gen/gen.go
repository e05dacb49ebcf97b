package main

import (
	gen "github.com/whyrusleeping/cbor-gen"

	vesting "github.com/vestfi/vesting-actors/actors/builtin/vesting"
)

func main() {
	if err := gen.WriteTupleEncodersToFile("./actors/builtin/vesting/cbor_gen.go", "vesting",
		// actor state
		vesting.State{},
		vesting.VestingSchedule{},
		// method params
		vesting.CreateScheduleParams{},
	); err != nil {
		panic(err)
	}
}
