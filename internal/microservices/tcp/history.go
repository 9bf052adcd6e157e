package tcp

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PlayerOutcome is one bettor's result for a round. ProfitDelta is from the
// player's side: positive on a cashout, minus the stake on a forfeit.
type PlayerOutcome struct {
	PlayerID          int             `json:"player_id"`
	Stake             decimal.Decimal `json:"stake"`
	CashedOut         bool            `json:"cashed_out"`
	CashoutMultiplier decimal.Decimal `json:"cashout_multiplier"`
	Payout            decimal.Decimal `json:"payout"`
	ProfitDelta       decimal.Decimal `json:"profit_delta"`
}

// RoundRecord is the audit entry written after settlement. HouseDelta is the
// negated sum of the outcomes' ProfitDelta.
type RoundRecord struct {
	RoundID        string          `json:"round_id"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        time.Time       `json:"ended_at"`
	ExplosionPoint decimal.Decimal `json:"explosion_point"`
	Bettors        int             `json:"bettors"`
	TotalStake     decimal.Decimal `json:"total_stake"`
	HouseDelta     decimal.Decimal `json:"house_delta"`
	HouseProfit    decimal.Decimal `json:"house_profit"`
	Outcomes       []PlayerOutcome `json:"outcomes"`
}

// RoundRecorder stores finished rounds. The game never reads them back.
type RoundRecorder interface {
	RecordRound(ctx context.Context, rec *RoundRecord) error
	RecentRounds(ctx context.Context, limit int) ([]*RoundRecord, error)
	Close() error
}

// NopRecorder drops every record.
type NopRecorder struct{}

func (NopRecorder) RecordRound(context.Context, *RoundRecord) error { return nil }

func (NopRecorder) RecentRounds(context.Context, int) ([]*RoundRecord, error) {
	return []*RoundRecord{}, nil
}

func (NopRecorder) Close() error { return nil }
