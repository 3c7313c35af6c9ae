package lockvault

import "github.com/malbeclabs/gameledger/engine/pkg/faults"

var (
	ErrZeroLockAmount          = faults.New(faults.KindInvalidParameter, "ZeroLockAmount", "lock amount must be non-zero")
	ErrZeroPeriod              = faults.New(faults.KindInvalidParameter, "ZeroPeriod", "period must be non-zero")
	ErrAdditionalLockForbidden = faults.New(faults.KindStateConflict, "AdditionalLockNotAvailable", "position is already locked")
	ErrZeroAmount              = faults.New(faults.KindStateConflict, "ZeroAmount", "no active position")
	ErrZeroEarned              = faults.New(faults.KindNotYetDue, "ZeroEarned", "no accrual period has elapsed")
)
