package vesting

import (
	"github.com/filecoin-project/go-state-types/exitcode"
)

// Exit codes specific to the vesting actor.
const (
	// A mutating operation was attempted while the pause gate is engaged.
	ErrHalted = exitcode.FirstActorSpecificExitCode + iota
	// The recipient is not on the allow-list.
	ErrNotEligible
	// The recipient already holds a schedule (recipients are single-use).
	ErrDuplicateSchedule
	// No schedule exists for the addressed recipient.
	ErrScheduleNotFound
	// The schedule has already been revoked.
	ErrAlreadyRevoked
	// A claim was attempted with nothing currently unlocked.
	ErrNothingVested
	// A collaborator re-entered the actor for a schedule with an operation
	// already in flight.
	ErrReentrantCall
)

// Event names signalled to external listeners.
const (
	EventScheduleCreated = "schedule-created"
	EventTokensClaimed   = "tokens-claimed"
	EventScheduleRevoked = "schedule-revoked"
)
