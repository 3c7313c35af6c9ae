package stakevault

import "github.com/malbeclabs/gameledger/engine/pkg/faults"

var (
	ErrInvalidEpochPeriodDays    = faults.New(faults.KindInvalidParameter, "InvalidEpochPeriodDays", "epoch length must be non-zero")
	ErrInvalidMinStakeAmount     = faults.New(faults.KindInvalidParameter, "InvalidMinStakeAmount", "minimum stake must be non-zero")
	ErrInvalidHoldPeriodDays     = faults.New(faults.KindInvalidParameter, "InvalidHoldPeriodDays", "hold period must be non-zero")
	ErrInvalidAPR                = faults.New(faults.KindInvalidParameter, "InvalidAPR", "apr schedule is invalid")
	ErrMinStakeAmountExceeded    = faults.New(faults.KindStateConflict, "MinStakeAmountExceeded", "stake is below the minimum")
	ErrAdditionalStakeNotAllowed = faults.New(faults.KindStateConflict, "AdditionalStakeNotAllowed", "position is already staked")
	ErrNothingToWithdraw         = faults.New(faults.KindStateConflict, "NothingToWithdraw", "no active position")
)
