// Package settlement holds the game economics: where a round explodes and how
// stakes move between a player and the house. Everything here is pure.
package settlement

import (
	"math"

	"github.com/shopspring/decimal"
)

// MaxStake is the largest accepted bet. With the default parameters and a
// full table, the payout at the explosion point stays far inside what a
// frame can carry.
var MaxStake = decimal.New(1, 9)

// ValidStake reports whether stake is positive and at most MaxStake.
func ValidStake(stake decimal.Decimal) bool {
	return stake.IsPositive() && stake.LessThanOrEqual(MaxStake)
}

// Params are the tunable constants of the explosion formula
//
//	explosion = max(Floor, round2((1 + players + totalStake*StakeFactor) ^ Exponent))
//
// More players and more stake always push the explosion point up, with no
// upper bound.
type Params struct {
	StakeFactor decimal.Decimal
	Exponent    float64
	Floor       decimal.Decimal
}

func DefaultParams() Params {
	return Params{
		StakeFactor: decimal.RequireFromString("0.01"),
		Exponent:    0.5,
		Floor:       decimal.NewFromInt(1),
	}
}

// ExplosionPlaces is the precision of an explosion point. It matches the
// 0.01 multiplier step so the flight loop lands on the point exactly.
const ExplosionPlaces = 2

type Engine struct {
	params Params
}

func NewEngine(params Params) *Engine {
	if params.Floor.IsZero() {
		params.Floor = decimal.NewFromInt(1)
	}
	return &Engine{params: params}
}

func (e *Engine) Params() Params {
	return e.params
}

// DrawExplosionPoint computes the round's explosion point from the number of
// players holding a bet and the sum of their stakes.
func (e *Engine) DrawExplosionPoint(activePlayers int, totalStake decimal.Decimal) decimal.Decimal {
	if activePlayers < 0 {
		activePlayers = 0
	}
	if totalStake.IsNegative() {
		totalStake = decimal.Zero
	}
	base := decimal.NewFromInt(int64(1 + activePlayers)).Add(totalStake.Mul(e.params.StakeFactor))
	raw := math.Pow(base.InexactFloat64(), e.params.Exponent)

	point := decimal.NewFromFloat(raw).Round(ExplosionPlaces)
	if point.LessThan(e.params.Floor) {
		return e.params.Floor
	}
	return point
}

var defaultEngine = NewEngine(DefaultParams())

// DrawExplosionPoint uses the default parameters (k = 0.01, gamma = 0.5).
func DrawExplosionPoint(activePlayers int, totalStake decimal.Decimal) decimal.Decimal {
	return defaultEngine.DrawExplosionPoint(activePlayers, totalStake)
}

// CashoutPayout returns what a player receives for cashing out stake at
// multiplier, and the player's net gain (the house loses the same amount).
func CashoutPayout(stake, multiplier decimal.Decimal) (payout, profitDelta decimal.Decimal) {
	payout = stake.Mul(multiplier)
	return payout, payout.Sub(stake)
}

// ForfeitDelta is the house gain when a bettor never cashes out.
func ForfeitDelta(stake decimal.Decimal) decimal.Decimal {
	return stake
}
