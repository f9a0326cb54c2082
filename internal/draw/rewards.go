package draw

import (
	"github.com/shopspring/decimal"

	"prizevault/internal/storage"
)

// Reward tiers: fixed percentages for ranks 1-4, ranks 5 and up split the
// tail pool evenly.
var tierPercentages = []int64{40, 25, 15, 10}

const tailPercentage = 10

var hundred = decimal.NewFromInt(100)

// distributeRewardPool assigns exact integer reward amounts to the winners.
// Whatever the tier table does not hand out — unused tier percentages when
// there are fewer winners than tiers, the unused tail pool, and integer
// division dust — goes to rank 1, so the distributed sum always equals the
// pool exactly.
func distributeRewardPool(pool decimal.Decimal, winners []storage.DrawWinner) []storage.DrawWinner {
	if len(winners) == 0 {
		return winners
	}

	tailWinners := int64(len(winners) - len(tierPercentages))
	assigned := decimal.Zero

	for i := range winners {
		var amount decimal.Decimal

		if rank := winners[i].Rank; rank <= len(tierPercentages) {
			amount, _ = pool.Mul(decimal.NewFromInt(tierPercentages[rank-1])).QuoRem(hundred, 0)
		} else {
			tailPool, _ := pool.Mul(decimal.NewFromInt(tailPercentage)).QuoRem(hundred, 0)
			amount, _ = tailPool.QuoRem(decimal.NewFromInt(tailWinners), 0)
		}

		winners[i].RewardAmount = amount
		assigned = assigned.Add(amount)
	}

	if remainder := pool.Sub(assigned); remainder.IsPositive() {
		winners[0].RewardAmount = winners[0].RewardAmount.Add(remainder)
	}

	return winners
}
