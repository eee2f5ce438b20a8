package valuation

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Calculations is a reward checkpoint: the full valuation snapshot
// taken when rewards were last converted. It is created at fund
// inception with a share price of one base unit, replaced wholesale on
// every conversion and never partially mutated.
type Calculations struct {
	gorm.Model        `json:"-"`
	Gav               decimal.Decimal `json:"gav"`
	ManagementReward  decimal.Decimal `json:"management_reward"`
	PerformanceReward decimal.Decimal `json:"performance_reward"`
	UnclaimedRewards  decimal.Decimal `json:"unclaimed_rewards"`
	Nav               decimal.Decimal `json:"nav"`
	SharePrice        decimal.Decimal `json:"share_price"`
	TotalSupply       decimal.Decimal `json:"total_supply"`
	Timestamp         time.Time       `json:"timestamp"`
}
