package ledger

import "github.com/malbeclabs/gameledger/engine/pkg/faults"

var (
	ErrZeroMintAmount       = faults.New(faults.KindInvalidParameter, "ZeroMintAmount", "mint amount must be non-zero")
	ErrZeroBurnAmount       = faults.New(faults.KindInvalidParameter, "ZeroBurnAmount", "burn amount must be non-zero")
	ErrInvalidBurnPeriod    = faults.New(faults.KindInvalidParameter, "InvalidBurnPeriodValue", "burn period must be non-zero")
	ErrMaxMintersExceeded   = faults.New(faults.KindInvalidParameter, "MaxMintersSizeExceeded", "too many minters")
	ErrMaxBurnersExceeded   = faults.New(faults.KindInvalidParameter, "MaxBurnersSizeExceeded", "too many burners")
	ErrInvalidMintAuthority = faults.New(faults.KindAccessDenied, "InvalidMintAuthority", "signer is not an allowed minter")
	ErrInvalidBurnAuthority = faults.New(faults.KindAccessDenied, "InvalidBurnAuthority", "signer is not an allowed burner")
	ErrInsufficientBalance  = faults.New(faults.KindOverflow, "InsufficientBalance", "wallet balance is lower than the burn amount")
	ErrBurnPeriodNotPassed  = faults.New(faults.KindNotYetDue, "BurnPeriodNotPassed", "burn period has not elapsed")
)
