// Package calc holds the reward and interest formulas shared by the vaults and the match
// session. All percentage math is exact and rounds down.
package calc

import (
	"math/big"
	"math/bits"

	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/shopspring/decimal"
)

const SecondsPerDay int64 = 24 * 60 * 60

var hundred = decimal.NewFromInt(100)

func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, faults.ErrOverflow
	}
	return sum, nil
}

func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, faults.ErrOverflow
	}
	return diff, nil
}

func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, faults.ErrOverflow
	}
	return lo, nil
}

// Royalty returns floor(amount * pct / 100).
func Royalty(pct uint8, amount uint64) (uint64, error) {
	if pct > 100 {
		return 0, faults.ErrInvalidPercent
	}
	d := fromUint64(amount).Mul(decimal.NewFromInt(int64(pct))).Div(hundred)
	return toUint64(d.Floor())
}

// ValidatePercent rejects values above 100.
func ValidatePercent(pct uint8) error {
	if pct > 100 {
		return faults.ErrInvalidPercent.WithDetail("got %d", pct)
	}
	return nil
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// toUint64 truncates d and fails if it does not fit in a uint64.
func toUint64(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() {
		return 0, faults.ErrOverflow
	}
	b := d.Truncate(0).BigInt()
	if !b.IsUint64() {
		return 0, faults.ErrOverflow
	}
	return b.Uint64(), nil
}
