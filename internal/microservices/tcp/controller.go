package tcp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"aviatorhub/internal/protocol"
	"aviatorhub/internal/settlement"
)

// RoundTiming holds the pacing of a round.
type RoundTiming struct {
	BettingSeconds int
	CountdownTick  time.Duration
	FlightTick     time.Duration
	MultiplierStep decimal.Decimal
	Pause          time.Duration
}

func DefaultRoundTiming() RoundTiming {
	return RoundTiming{
		BettingSeconds: 10,
		CountdownTick:  time.Second,
		FlightTick:     100 * time.Millisecond,
		MultiplierStep: decimal.RequireFromString("0.01"),
		Pause:          10 * time.Second,
	}
}

const recordTimeout = 5 * time.Second

// RoundController is the single driver of round phases. Nothing else moves
// the registry between Betting, Flight and Waiting.
type RoundController struct {
	registry *Registry
	engine   *settlement.Engine
	timing   RoundTiming
	recorder RoundRecorder
	events   EventLogger
	logger   *slog.Logger

	// pending round records still being written
	recording sync.WaitGroup

	// newRoundID is swapped in tests
	newRoundID func() string
}

type ControllerOption func(*RoundController)

func WithRecorder(rec RoundRecorder) ControllerOption {
	return func(c *RoundController) {
		if rec != nil {
			c.recorder = rec
		}
	}
}

func WithEvents(events EventLogger) ControllerOption {
	return func(c *RoundController) {
		if events != nil {
			c.events = events
		}
	}
}

func WithControllerLogger(logger *slog.Logger) ControllerOption {
	return func(c *RoundController) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewRoundController(registry *Registry, engine *settlement.Engine, timing RoundTiming, opts ...ControllerOption) *RoundController {
	if engine == nil {
		engine = settlement.NewEngine(settlement.DefaultParams())
	}
	if timing.BettingSeconds < 1 {
		timing.BettingSeconds = 1
	}
	if !timing.MultiplierStep.IsPositive() {
		timing.MultiplierStep = DefaultRoundTiming().MultiplierStep
	}
	c := &RoundController{
		registry:   registry,
		engine:     engine,
		timing:     timing,
		recorder:   NopRecorder{},
		events:     nopEvents{},
		logger:     slog.Default(),
		newRoundID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run plays rounds until ctx is cancelled. It returns ctx.Err() once every
// settled round has been handed to the recorder.
func (c *RoundController) Run(ctx context.Context) error {
	defer c.Wait()
	c.logger.Info("round_controller_started",
		"betting_seconds", c.timing.BettingSeconds,
		"flight_tick", c.timing.FlightTick.String(),
		"step", c.timing.MultiplierStep.String(),
	)
	for {
		if err := c.registry.WaitForPlayers(ctx); err != nil {
			return err
		}
		if _, err := c.PlayRound(ctx); err != nil {
			return err
		}
		if err := sleepCtx(ctx, c.timing.Pause); err != nil {
			return err
		}
	}
}

// PlayRound runs one Betting → Flight → Explode → Settlement cycle. When ctx
// is cancelled mid-round the round is aborted without settlement.
func (c *RoundController) PlayRound(ctx context.Context) (rec *RoundRecord, err error) {
	roundID := c.newRoundID()
	defer func() {
		if err != nil {
			c.registry.Abort()
			c.logger.Info("round_aborted", "round_id", roundID, "error", err)
		}
	}()

	c.registry.BeginBetting(roundID, c.timing.BettingSeconds)
	c.logger.Debug("round_started", "round_id", roundID)

	for remaining := c.timing.BettingSeconds; remaining > 0; remaining-- {
		c.registry.TickCountdown(remaining)
		if err := sleepCtx(ctx, c.timing.CountdownTick); err != nil {
			return nil, err
		}
	}

	bettors, totalStake := c.registry.CloseBetting()
	c.events.LogEvent("closed", allPlayers,
		slog.Int("N", bettors),
		slog.String("V", totalStake.StringFixed(2)),
	)

	explosion := c.engine.DrawExplosionPoint(bettors, totalStake)
	multiplier := c.registry.BeginFlight(explosion)

	for flying := multiplier.LessThan(explosion); flying; {
		c.registry.Broadcast(protocol.Multiplier(multiplier))
		c.events.LogEvent("multiplier", allPlayers,
			slog.String("m", multiplier.StringFixed(2)),
		)
		if err := sleepCtx(ctx, c.timing.FlightTick); err != nil {
			return nil, err
		}
		multiplier, flying = c.registry.AdvanceMultiplier(c.timing.MultiplierStep)
	}

	c.registry.Explode()
	c.events.LogEvent("explode", allPlayers,
		slog.String("me", explosion.StringFixed(2)),
	)

	rec = c.registry.Settle()
	for _, o := range rec.Outcomes {
		if o.CashedOut {
			continue
		}
		c.events.LogEvent("profit", o.PlayerID,
			slog.String("bet", o.Stake.StringFixed(2)),
			slog.String("player_profit_delta", o.ProfitDelta.StringFixed(2)),
			slog.String("house_profit", rec.HouseProfit.StringFixed(2)),
		)
	}
	c.logger.Info("round_settled",
		"round_id", rec.RoundID,
		"explosion_point", rec.ExplosionPoint.String(),
		"bettors", rec.Bettors,
		"total_stake", rec.TotalStake.String(),
		"house_delta", rec.HouseDelta.String(),
		"house_profit", rec.HouseProfit.String(),
	)

	c.recording.Add(1)
	go func() {
		defer c.recording.Done()
		c.record(rec)
	}()
	return rec, nil
}

// Wait blocks until every pending round record has been written or has
// timed out.
func (c *RoundController) Wait() {
	c.recording.Wait()
}

func (c *RoundController) record(rec *RoundRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := c.recorder.RecordRound(ctx, rec); err != nil {
		c.logger.Warn("round_record_failed",
			"round_id", rec.RoundID,
			"error", err,
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
