package tcp

import (
	"time"

	"github.com/shopspring/decimal"

	"aviatorhub/internal/protocol"
	"aviatorhub/internal/settlement"
)

type Phase uint8

const (
	PhaseWaiting Phase = iota
	PhaseBetting
	PhaseFlight
)

func (p Phase) String() string {
	switch p {
	case PhaseBetting:
		return "betting"
	case PhaseFlight:
		return "flight"
	default:
		return "waiting"
	}
}

// roundState is owned by the registry lock. Only the round controller moves
// it between phases.
type roundState struct {
	ID             string
	Phase          Phase
	Multiplier     decimal.Decimal
	ExplosionPoint decimal.Decimal
	Countdown      int
	StartedAt      time.Time
	Bettors        int
	TotalStake     decimal.Decimal
	HouseDelta     decimal.Decimal
	Outcomes       []PlayerOutcome

	settled     chan struct{}
	settledDone bool
}

func newRoundState(id string) roundState {
	return roundState{
		ID:         id,
		Phase:      PhaseWaiting,
		Multiplier: decimal.NewFromInt(1),
		settled:    make(chan struct{}),
	}
}

func (s *roundState) markSettled() {
	if !s.settledDone {
		s.settledDone = true
		close(s.settled)
	}
}

// Stats is a point-in-time view of the round and the registry.
type Stats struct {
	RoundID       string          `json:"round_id"`
	Phase         string          `json:"phase"`
	Countdown     int             `json:"countdown"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	ActivePlayers int             `json:"active_players"`
	Capacity      int             `json:"capacity"`
	Bettors       int             `json:"bettors"`
	TotalStake    decimal.Decimal `json:"total_stake"`
	HouseProfit   decimal.Decimal `json:"house_profit"`
}

func (r *Registry) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, s := range r.slots {
		if s.Active {
			active++
		}
	}
	bettors, total := r.betTotalsLocked()
	return Stats{
		RoundID:       r.round.ID,
		Phase:         r.round.Phase.String(),
		Countdown:     r.round.Countdown,
		Multiplier:    r.round.Multiplier,
		ActivePlayers: active,
		Capacity:      len(r.slots),
		Bettors:       bettors,
		TotalStake:    total,
		HouseProfit:   r.houseProfit,
	}
}

func (r *Registry) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.round.Phase
}

// BeginBetting starts a new round: every active session's bet state is
// cleared before the phase opens, so no Start frame can precede the reset.
func (r *Registry) BeginBetting(roundID string, countdown int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.round.markSettled()
	r.resetRoundFlagsLocked()
	r.round = newRoundState(roundID)
	r.round.Phase = PhaseBetting
	r.round.Countdown = countdown
	r.round.StartedAt = time.Now()
}

// TickCountdown records the remaining seconds and announces them.
func (r *Registry) TickCountdown(remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.round.Countdown = remaining
	r.broadcastLocked(protocol.Start(remaining))
}

// CloseBetting stops accepting bets and broadcasts Closed in the same
// critical section. It returns the number of bettors and their total stake.
func (r *Registry) CloseBetting() (int, decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.round.Phase = PhaseWaiting
	r.round.Countdown = 0
	r.broadcastLocked(protocol.Closed())

	bettors, total := r.betTotalsLocked()
	r.round.Bettors = bettors
	r.round.TotalStake = total
	return bettors, total
}

// BeginFlight opens cashouts at multiplier 1.0. A round whose explosion point
// is already reached never opens.
func (r *Registry) BeginFlight(explosion decimal.Decimal) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.round.Multiplier = decimal.NewFromInt(1)
	r.round.ExplosionPoint = explosion
	if r.round.Multiplier.LessThan(explosion) {
		r.round.Phase = PhaseFlight
	}
	return r.round.Multiplier
}

// AdvanceMultiplier raises the live multiplier by step. Once it reaches the
// explosion point cashouts close immediately and flying is false.
func (r *Registry) AdvanceMultiplier(step decimal.Decimal) (m decimal.Decimal, flying bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.round.Multiplier = r.round.Multiplier.Add(step)
	if r.round.Multiplier.GreaterThanOrEqual(r.round.ExplosionPoint) {
		r.round.Phase = PhaseWaiting
		return r.round.Multiplier, false
	}
	return r.round.Multiplier, true
}

// Explode ends the flight and announces the explosion point.
func (r *Registry) Explode() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.round.Phase = PhaseWaiting
	r.broadcastLocked(protocol.Explode(r.round.ExplosionPoint))
	return r.round.ExplosionPoint
}

// Settle forfeits the stake of every bettor who did not cash out, sends each
// of them a Profit frame and then releases sessions waiting on the round.
// The returned record covers the whole round, cashouts included.
func (r *Registry) Settle() *RoundRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		s := &r.slots[i]
		if !s.Active || !s.HasBet || s.HasCashedOut {
			continue
		}
		delta := settlement.ForfeitDelta(s.Stake)
		s.Profit = s.Profit.Sub(delta)
		r.houseProfit = r.houseProfit.Add(delta)
		r.round.HouseDelta = r.round.HouseDelta.Add(delta)
		r.round.Outcomes = append(r.round.Outcomes, PlayerOutcome{
			PlayerID:    s.ID,
			Stake:       s.Stake,
			ProfitDelta: delta.Neg(),
		})
		r.sendLocked(s.ID, protocol.Profit(s.ID, s.Profit, r.houseProfit))
	}
	r.round.markSettled()

	outcomes := make([]PlayerOutcome, len(r.round.Outcomes))
	copy(outcomes, r.round.Outcomes)
	return &RoundRecord{
		RoundID:        r.round.ID,
		StartedAt:      r.round.StartedAt,
		EndedAt:        time.Now(),
		ExplosionPoint: r.round.ExplosionPoint,
		Bettors:        r.round.Bettors,
		TotalStake:     r.round.TotalStake,
		HouseDelta:     r.round.HouseDelta,
		HouseProfit:    r.houseProfit,
		Outcomes:       outcomes,
	}
}

// Abort closes the current round without settling it. Sessions waiting on
// settlement are released.
func (r *Registry) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.round.Phase = PhaseWaiting
	r.round.markSettled()
}
