package calc

import "github.com/malbeclabs/gameledger/engine/pkg/faults"

const MaxRewardTableRows = 5

// RewardRow grants Reward credits to any amount at or above Threshold.
type RewardRow struct {
	Threshold uint64 `json:"threshold"`
	Reward    uint64 `json:"reward"`
}

type RewardTable []RewardRow

// Validate checks the table is non-empty, bounded, zero-free and strictly increasing in both
// columns.
func (t RewardTable) Validate() error {
	if len(t) == 0 {
		return faults.ErrInvalidRewardTable.WithDetail("table is empty")
	}
	if len(t) > MaxRewardTableRows {
		return faults.ErrInvalidRewardTable.WithDetail("table has %d rows, max %d", len(t), MaxRewardTableRows)
	}
	for i, row := range t {
		if row.Threshold == 0 || row.Reward == 0 {
			return faults.ErrInvalidRewardTable.WithDetail("row %d has a zero entry", i)
		}
		if i == 0 {
			continue
		}
		prev := t[i-1]
		if row.Threshold <= prev.Threshold || row.Reward <= prev.Reward {
			return faults.ErrInvalidRewardTable.WithDetail("row %d is not strictly increasing", i)
		}
	}
	return nil
}

// Lookup returns the reward of the highest threshold not above amount, or 0 below the first row.
func (t RewardTable) Lookup(amount uint64) uint64 {
	var reward uint64
	for _, row := range t {
		if amount < row.Threshold {
			break
		}
		reward = row.Reward
	}
	return reward
}
