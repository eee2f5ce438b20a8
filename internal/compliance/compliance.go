// Package compliance provides the participation and risk-management
// collaborator implementations: rule-based permission checks consumed
// read-only by the fund.
package compliance

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ParticipationPolicy is a threshold-based compliance module. Zero
// thresholds mean unrestricted; a non-empty allowlist restricts
// participation to listed investors.
type ParticipationPolicy struct {
	MaxSubscriptionValue decimal.Decimal
	MaxRedemptionShares  decimal.Decimal
	allowlist            map[string]bool
}

// NewParticipationPolicy returns an unrestricted policy.
func NewParticipationPolicy() *ParticipationPolicy {
	return &ParticipationPolicy{}
}

// Allow adds investors to the allowlist, switching the policy from
// open to allowlist-only on first use.
func (p *ParticipationPolicy) Allow(investors ...string) {
	if p.allowlist == nil {
		p.allowlist = make(map[string]bool)
	}
	for _, inv := range investors {
		p.allowlist[inv] = true
	}
}

// IsSubscriptionPermitted checks the investor against the allowlist
// and the offered value against the subscription cap.
func (p *ParticipationPolicy) IsSubscriptionPermitted(investor string, shareQuantity, offeredValue decimal.Decimal) bool {
	if p.allowlist != nil && !p.allowlist[investor] {
		log.Debug().Str("investor", investor).Msg("subscription rejected: not allowlisted")
		return false
	}
	if p.MaxSubscriptionValue.IsPositive() && offeredValue.GreaterThan(p.MaxSubscriptionValue) {
		log.Debug().Str("investor", investor).Str("offered", offeredValue.String()).Msg("subscription rejected: over cap")
		return false
	}
	return shareQuantity.IsPositive()
}

// IsRedemptionPermitted checks the share quantity against the
// redemption cap. Redemptions are never blocked by the allowlist;
// existing holders must always be able to exit.
func (p *ParticipationPolicy) IsRedemptionPermitted(investor string, shareQuantity, requestedValue decimal.Decimal) bool {
	if p.MaxRedemptionShares.IsPositive() && shareQuantity.GreaterThan(p.MaxRedemptionShares) {
		log.Debug().Str("investor", investor).Str("shares", shareQuantity.String()).Msg("redemption rejected: over cap")
		return false
	}
	return shareQuantity.IsPositive()
}

// PriceTolerancePolicy is a risk module permitting orders whose
// implied price stays within a basis-point band around the feed's
// reference price.
type PriceTolerancePolicy struct {
	// MaxDeviationBps is the permitted deviation in basis points.
	// Zero disables the check.
	MaxDeviationBps int64
}

// NewPriceTolerancePolicy returns a risk policy with the given band.
func NewPriceTolerancePolicy(maxDeviationBps int64) *PriceTolerancePolicy {
	return &PriceTolerancePolicy{MaxDeviationBps: maxDeviationBps}
}

// IsMakePermitted permits a make order whose price is within band.
func (p *PriceTolerancePolicy) IsMakePermitted(orderPrice, referencePrice decimal.Decimal, sellAsset, buyAsset string, sellQuantity, buyQuantity decimal.Decimal) bool {
	return p.withinBand(orderPrice, referencePrice)
}

// IsTakePermitted permits a take order whose price is within band.
func (p *PriceTolerancePolicy) IsTakePermitted(orderPrice, referencePrice decimal.Decimal, sellAsset, buyAsset string, sellQuantity, buyQuantity decimal.Decimal) bool {
	return p.withinBand(orderPrice, referencePrice)
}

func (p *PriceTolerancePolicy) withinBand(orderPrice, referencePrice decimal.Decimal) bool {
	if p.MaxDeviationBps == 0 {
		return true
	}
	if referencePrice.IsZero() {
		return false
	}
	deviation := orderPrice.Sub(referencePrice).Abs().Mul(decimal.NewFromInt(10_000))
	limit := referencePrice.Mul(decimal.NewFromInt(p.MaxDeviationBps))
	return deviation.LessThanOrEqual(limit)
}
