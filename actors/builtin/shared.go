package builtin

import (
	"github.com/filecoin-project/go-state-types/exitcode"

	"github.com/vestfi/vesting-actors/actors/runtime"
)

///// Code shared by the built-in actors. /////

// Propagates a failed collaborator call by aborting the current method with
// the same exit code.
func RequireSuccess(rt runtime.Runtime, e exitcode.ExitCode, msg string, args ...interface{}) {
	if !e.IsSuccess() {
		rt.Abortf(e, msg, args...)
	}
}

// Aborts with a formatted message if err is non-nil, using the error's exit
// code if it carries one and defaultExitCode otherwise.
func RequireNoErr(rt runtime.Runtime, err error, defaultExitCode exitcode.ExitCode, msg string, args ...interface{}) {
	if err != nil {
		code := exitcode.Unwrap(err, defaultExitCode)
		rt.Abortf(code, msg+": %s", append(args, err)...)
	}
}

func RequireParam(rt runtime.Runtime, predicate bool, msg string, args ...interface{}) {
	if !predicate {
		rt.Abortf(exitcode.ErrIllegalArgument, msg, args...)
	}
}
