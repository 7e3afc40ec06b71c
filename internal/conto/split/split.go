// Package split computes the three-way commission split of a base amount.
package split

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// HouseRatio is the share of every base amount retained by the house.
var HouseRatio = decimal.RequireFromString("0.8")

var hundred = decimal.NewFromInt(100)

// ErrNonPositiveBase is returned for base amounts <= 0.
var ErrNonPositiveBase = errors.New("split: base amount must be positive")

// Shares is the outcome of one split. Every share is computed on Base
// independently and rounded to cents, half-up.
type Shares struct {
	Base       decimal.Decimal `json:"base"`
	House      decimal.Decimal `json:"house"`
	Manager    decimal.Decimal `json:"manager"`
	Center     decimal.Decimal `json:"center"`
	ManagerPct float64         `json:"managerPercentage"`
	CenterPct  float64         `json:"centerPercentage"`
}

// Compute splits base between house, territorial manager and job center.
// Missing or non-finite percentages count as 0; others are clamped to [0,100].
func Compute(base decimal.Decimal, managerPct, centerPct *float64) (Shares, error) {
	if !base.IsPositive() {
		return Shares{}, ErrNonPositiveBase
	}
	pm := ClampPercentage(managerPct)
	ps := ClampPercentage(centerPct)
	return Shares{
		Base:       Round2(base),
		House:      Round2(base.Mul(HouseRatio)),
		Manager:    Share(base, pm),
		Center:     Share(base, ps),
		ManagerPct: pm,
		CenterPct:  ps,
	}, nil
}

// Share returns round2(base * pct / 100).
func Share(base decimal.Decimal, pct float64) decimal.Decimal {
	return Round2(base.Mul(decimal.NewFromFloat(pct)).Div(hundred))
}

// ClampPercentage applies the default-and-clamp rule to a stored percentage.
func ClampPercentage(p *float64) float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return 0
	}
	switch {
	case *p < 0:
		return 0
	case *p > 100:
		return 100
	default:
		return *p
	}
}

// Round2 rounds to cents. decimal.Round rounds half away from zero, which is
// half-up for the positive amounts handled here.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
