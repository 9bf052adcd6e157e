package tcp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"aviatorhub/internal/protocol"
	"aviatorhub/internal/settlement"
)

var (
	ErrRegistryFull   = errors.New("registry full")
	ErrUnknownSession = errors.New("unknown session")
)

const DefaultWriteTimeout = 2 * time.Second

// PlayerSession is one registry slot. Copies handed out by ForEachActive are
// snapshots; the live slot is only touched under the registry lock.
type PlayerSession struct {
	ID           int
	Stake        decimal.Decimal
	Profit       decimal.Decimal
	HasBet       bool
	HasCashedOut bool
	Active       bool

	conn net.Conn
}

// Observer receives a copy of every broadcast frame. Observe runs under the
// registry lock and must not block.
type Observer interface {
	Observe(msg protocol.Message)
}

// Registry is the fixed-capacity slot table. One mutex guards the slots, the
// house ledger and the round state, so a session handler and the round
// controller never see each other's changes half-applied.
type Registry struct {
	mu          sync.Mutex
	slots       []PlayerSession
	nextID      int
	houseProfit decimal.Decimal
	round       roundState
	observers   map[int]Observer
	nextObsID   int

	joined       chan struct{} // signalled (non-blocking) on every Allocate
	writeTimeout time.Duration
	logger       *slog.Logger
}

type RegistryOption func(*Registry)

// WithWriteTimeout bounds every send so one slow peer cannot stall a broadcast.
func WithWriteTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.writeTimeout = d }
}

func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

func NewRegistry(capacity int, opts ...RegistryOption) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	r := &Registry{
		slots:        make([]PlayerSession, capacity),
		observers:    make(map[int]Observer),
		joined:       make(chan struct{}, 1),
		writeTimeout: DefaultWriteTimeout,
		logger:       slog.Default(),
		round:        newRoundState(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Capacity() int {
	return len(r.slots)
}

// Allocate takes the first free slot for conn and returns the new session id.
// Ids increase monotonically and are never handed out twice.
func (r *Registry) Allocate(conn net.Conn) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		if r.slots[i].Active {
			continue
		}
		r.nextID++
		r.slots[i] = PlayerSession{
			ID:     r.nextID,
			Active: true,
			conn:   conn,
		}
		select {
		case r.joined <- struct{}{}:
		default:
		}
		r.logger.Info("client_added",
			"client_id", r.nextID,
			"slot", i,
		)
		return r.nextID, nil
	}
	return 0, ErrRegistryFull
}

// Release deactivates the session, zeroes its slot and closes its connection.
// It reports whether anything was released; a second call is a no-op.
func (r *Registry) Release(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseLocked(id)
}

func (r *Registry) releaseLocked(id int) bool {
	s := r.lookupLocked(id)
	if s == nil {
		return false
	}
	conn := s.conn
	*s = PlayerSession{}
	if conn != nil {
		conn.Close()
	}
	r.logger.Info("client_removed",
		"client_id", id,
	)
	return true
}

func (r *Registry) lookupLocked(id int) *PlayerSession {
	if id <= 0 {
		return nil
	}
	for i := range r.slots {
		if r.slots[i].Active && r.slots[i].ID == id {
			return &r.slots[i]
		}
	}
	return nil
}

// ForEachActive calls fn with a snapshot of every active session while
// holding the lock. fn must not call back into the registry.
func (r *Registry) ForEachActive(fn func(PlayerSession)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.Active {
			fn(s)
		}
	}
}

// Session returns a snapshot of one active session.
func (r *Registry) Session(id int) (PlayerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.lookupLocked(id)
	if s == nil {
		return PlayerSession{}, false
	}
	return *s, true
}

func (r *Registry) ActiveCount() int {
	n := 0
	r.ForEachActive(func(PlayerSession) { n++ })
	return n
}

// ResetRoundFlags clears the bet state of every active session.
func (r *Registry) ResetRoundFlags() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetRoundFlagsLocked()
}

func (r *Registry) resetRoundFlagsLocked() {
	for i := range r.slots {
		if r.slots[i].Active {
			r.slots[i].HasBet = false
			r.slots[i].HasCashedOut = false
			r.slots[i].Stake = decimal.Zero
		}
	}
}

// WaitForPlayers blocks until at least one session is active.
func (r *Registry) WaitForPlayers(ctx context.Context) error {
	for {
		if r.ActiveCount() > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.joined:
		}
	}
}

func (r *Registry) HouseProfit() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.houseProfit
}

// Broadcast sends msg to every active session. A peer that cannot be written
// to is released asynchronously; the remaining peers still get the frame.
func (r *Registry) Broadcast(msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(msg)
}

func (r *Registry) broadcastLocked(msg protocol.Message) {
	frame := protocol.Encode(msg)
	for i := range r.slots {
		s := &r.slots[i]
		if !s.Active {
			continue
		}
		if err := r.writeLocked(s, frame); err != nil {
			r.logger.Warn("failed_to_send_broadcast",
				"client_id", s.ID,
				"kind", msg.Kind.String(),
				"error", err.Error(),
			)
			go r.Release(s.ID)
		}
	}
	for _, o := range r.observers {
		o.Observe(msg)
	}
}

// SendTo sends msg to a single session.
func (r *Registry) SendTo(id int, msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sendLocked(id, msg)
}

func (r *Registry) sendLocked(id int, msg protocol.Message) error {
	s := r.lookupLocked(id)
	if s == nil {
		return ErrUnknownSession
	}
	if err := r.writeLocked(s, protocol.Encode(msg)); err != nil {
		r.logger.Warn("failed_to_send",
			"client_id", id,
			"kind", msg.Kind.String(),
			"error", err.Error(),
		)
		go r.Release(id)
		return err
	}
	return nil
}

func (r *Registry) writeLocked(s *PlayerSession, frame []byte) error {
	if s.conn == nil {
		return nil
	}
	if r.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
	}
	_, err := s.conn.Write(frame)
	return err
}

// Subscribe registers an observer of broadcast frames.
func (r *Registry) Subscribe(o Observer) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextObsID++
	id := r.nextObsID
	r.observers[id] = o
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers, id)
	}
}

// CloseAll says goodbye to every active session and releases it.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(protocol.Bye())
	for i := range r.slots {
		if r.slots[i].Active {
			r.releaseLocked(r.slots[i].ID)
		}
	}
}

// BetReceipt describes the outcome of a Bet frame.
type BetReceipt struct {
	Accepted   bool
	Bettors    int
	TotalStake decimal.Decimal
}

// PlaceBet records stake for the session if betting is open and the session
// has not bet yet this round. Anything else is silently ignored.
func (r *Registry) PlaceBet(id int, stake decimal.Decimal) BetReceipt {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.lookupLocked(id)
	if s == nil || r.round.Phase != PhaseBetting || s.HasBet {
		return BetReceipt{}
	}
	s.Stake = stake
	s.HasBet = true
	s.HasCashedOut = false

	bettors, total := r.betTotalsLocked()
	return BetReceipt{Accepted: true, Bettors: bettors, TotalStake: total}
}

func (r *Registry) betTotalsLocked() (int, decimal.Decimal) {
	n, total := 0, decimal.Zero
	for _, s := range r.slots {
		if s.Active && s.HasBet {
			n++
			total = total.Add(s.Stake)
		}
	}
	return n, total
}

// CashoutReceipt describes an accepted cashout. Settled is closed once the
// round's loss settlement has finished.
type CashoutReceipt struct {
	RoundID      string
	Multiplier   decimal.Decimal
	Stake        decimal.Decimal
	Payout       decimal.Decimal
	ProfitDelta  decimal.Decimal
	PlayerProfit decimal.Decimal
	HouseProfit  decimal.Decimal
	Settled      <-chan struct{}
}

// Cashout pays the session out at the live multiplier and replies with a
// Payout frame. It is a no-op outside Flight, without a bet, or after a
// previous cashout this round.
func (r *Registry) Cashout(id int) (CashoutReceipt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.lookupLocked(id)
	if s == nil || r.round.Phase != PhaseFlight || !s.HasBet || s.HasCashedOut {
		return CashoutReceipt{}, false
	}
	s.HasCashedOut = true

	multiplier := r.round.Multiplier
	payout, delta := settlement.CashoutPayout(s.Stake, multiplier)
	s.Profit = s.Profit.Add(delta)
	r.houseProfit = r.houseProfit.Sub(delta)
	r.round.HouseDelta = r.round.HouseDelta.Sub(delta)
	r.round.Outcomes = append(r.round.Outcomes, PlayerOutcome{
		PlayerID:          id,
		Stake:             s.Stake,
		CashedOut:         true,
		CashoutMultiplier: multiplier,
		Payout:            payout,
		ProfitDelta:       delta,
	})

	receipt := CashoutReceipt{
		RoundID:      r.round.ID,
		Multiplier:   multiplier,
		Stake:        s.Stake,
		Payout:       payout,
		ProfitDelta:  delta,
		PlayerProfit: s.Profit,
		HouseProfit:  r.houseProfit,
		Settled:      r.round.settled,
	}
	r.sendLocked(id, protocol.Payout(id, payout, s.Profit, r.houseProfit))
	return receipt, true
}

// SendProfit reports the session's running profit and the house total.
func (r *Registry) SendProfit(id int) (playerProfit, houseProfit decimal.Decimal, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.lookupLocked(id)
	if s == nil {
		return decimal.Zero, r.houseProfit, ErrUnknownSession
	}
	return s.Profit, r.houseProfit, r.sendLocked(id, protocol.Profit(id, s.Profit, r.houseProfit))
}
