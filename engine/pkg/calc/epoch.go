package calc

import (
	"github.com/malbeclabs/gameledger/engine/pkg/faults"
	"github.com/shopspring/decimal"
)

const daysPerYear = 365

// compoundPrecision is the number of decimal places kept between daily compounding steps.
const compoundPrecision = 24

func EpochLength(days uint32) int64 {
	return int64(days) * SecondsPerDay
}

// EpochAt returns the 1-based epoch containing t for a schedule that began at start.
func EpochAt(start, t int64, days uint32) uint64 {
	length := EpochLength(days)
	if length == 0 || t < start {
		return 1
	}
	return uint64((t-start)/length) + 1
}

// CrossedEpochs returns the inclusive range of epochs that fully elapsed between stakedAt and
// now. The epoch containing stakedAt only counts when stakedAt is exactly its first second.
// ok is false when no epoch was crossed.
func CrossedEpochs(start, stakedAt, now int64, days uint32) (first, last uint64, ok bool) {
	length := EpochLength(days)
	if length == 0 || now < start || stakedAt < start {
		return 0, 0, false
	}
	first = EpochAt(start, stakedAt, days)
	if (stakedAt-start)%length != 0 {
		first++
	}
	last = uint64((now - start) / length)
	if last < first {
		return 0, 0, false
	}
	return first, last, true
}

// APR returns max(start - step*(epoch-1), floor). Epoch 0 is treated as epoch 1.
func APR(epoch uint64, start, step, floor uint8) uint8 {
	if epoch < 1 {
		epoch = 1
	}
	current := int64(start)
	if step > 0 {
		decrements := epoch - 1
		if decrements > uint64(start) {
			return floor
		}
		current -= int64(step) * int64(decrements)
	}
	if current < int64(floor) {
		return floor
	}
	return uint8(current)
}

// Compound grows amount by (1 + apr/100/365)^days for each apr in order and returns the
// result rounded down.
func Compound(amount uint64, days uint32, aprs []uint8) (uint64, error) {
	running := fromUint64(amount)
	yearPct := decimal.NewFromInt(100 * daysPerYear)
	for _, apr := range aprs {
		daily := decimal.NewFromInt(1).Add(decimal.NewFromInt(int64(apr)).DivRound(yearPct, compoundPrecision))
		for range days {
			running = running.Mul(daily).Truncate(compoundPrecision)
		}
	}
	out, err := toUint64(running.Floor())
	if err != nil {
		return 0, faults.ErrOverflow.WithDetail("compounded amount does not fit")
	}
	return out, nil
}
