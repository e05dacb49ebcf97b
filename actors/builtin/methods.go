package builtin

import (
	"github.com/filecoin-project/go-state-types/abi"
)

const (
	MethodConstructor = abi.MethodNum(1)
)

var MethodsVesting = struct {
	Constructor    abi.MethodNum
	CreateSchedule abi.MethodNum
	Claim          abi.MethodNum
	Revoke         abi.MethodNum
	VestedAmount   abi.MethodNum
}{MethodConstructor, 2, 3, 4, 5}
