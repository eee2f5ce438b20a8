package compliance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParticipationOpenByDefault(t *testing.T) {
	p := NewParticipationPolicy()
	assert.True(t, p.IsSubscriptionPermitted("anyone", decimal.NewFromInt(100), decimal.NewFromInt(100)))
	assert.True(t, p.IsRedemptionPermitted("anyone", decimal.NewFromInt(100), decimal.NewFromInt(100)))
}

func TestParticipationAllowlist(t *testing.T) {
	p := NewParticipationPolicy()
	p.Allow("alice")

	assert.True(t, p.IsSubscriptionPermitted("alice", decimal.NewFromInt(1), decimal.NewFromInt(1)))
	assert.False(t, p.IsSubscriptionPermitted("bob", decimal.NewFromInt(1), decimal.NewFromInt(1)))

	// Holders can always exit
	assert.True(t, p.IsRedemptionPermitted("bob", decimal.NewFromInt(1), decimal.NewFromInt(1)))
}

func TestParticipationCaps(t *testing.T) {
	p := NewParticipationPolicy()
	p.MaxSubscriptionValue = decimal.NewFromInt(1000)
	p.MaxRedemptionShares = decimal.NewFromInt(500)

	assert.True(t, p.IsSubscriptionPermitted("alice", decimal.NewFromInt(1), decimal.NewFromInt(1000)))
	assert.False(t, p.IsSubscriptionPermitted("alice", decimal.NewFromInt(1), decimal.NewFromInt(1001)))
	assert.True(t, p.IsRedemptionPermitted("alice", decimal.NewFromInt(500), decimal.Zero))
	assert.False(t, p.IsRedemptionPermitted("alice", decimal.NewFromInt(501), decimal.Zero))
}

func TestPriceToleranceBand(t *testing.T) {
	risk := NewPriceTolerancePolicy(500) // 5%

	reference := decimal.New(2, 18)
	within := decimal.New(21, 17)  // +5%
	outside := decimal.New(22, 17) // +10%

	assert.True(t, risk.IsMakePermitted(within, reference, "WETH", "MLN", decimal.NewFromInt(1), decimal.NewFromInt(2)))
	assert.False(t, risk.IsMakePermitted(outside, reference, "WETH", "MLN", decimal.NewFromInt(1), decimal.NewFromInt(2)))

	// Zero band disables the check
	open := NewPriceTolerancePolicy(0)
	assert.True(t, open.IsTakePermitted(outside, reference, "WETH", "MLN", decimal.NewFromInt(1), decimal.NewFromInt(2)))
}
