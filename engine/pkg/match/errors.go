package match

import "github.com/malbeclabs/gameledger/engine/pkg/faults"

var (
	ErrInvalidAFKTimeout   = faults.New(faults.KindInvalidParameter, "InvalidAFKTimeout", "afk timeout must be positive")
	ErrInvalidCoefficient  = faults.New(faults.KindInvalidParameter, "InvalidCoefficient", "coefficient must be non-zero")
	ErrInvalidGameResult   = faults.New(faults.KindInvalidParameter, "InvalidGameResult", "unknown game result")
	ErrInvalidActionsLog   = faults.New(faults.KindInvalidParameter, "InvalidActionsLog", "actions log length out of range")
	ErrInvalidValidator    = faults.New(faults.KindAccessDenied, "InvalidValidator", "signer is not the validator")
	ErrStillInSession      = faults.New(faults.KindStateConflict, "StillInSession", "a session is already in progress")
	ErrUserNotInSession    = faults.New(faults.KindStateConflict, "UserNotInSession", "no session in progress")
	ErrZeroCreditBalance   = faults.New(faults.KindStateConflict, "ZeroGpassBalance", "no credits to pay for a session")
	ErrGameAlreadyFinished = faults.New(faults.KindStateConflict, "GameAlreadyFinished", "game id already recorded")
)
