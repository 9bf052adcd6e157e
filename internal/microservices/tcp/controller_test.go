package tcp

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aviatorhub/internal/protocol"
	"aviatorhub/internal/settlement"
)

func fastTiming() RoundTiming {
	return RoundTiming{
		BettingSeconds: 3,
		CountdownTick:  20 * time.Millisecond,
		FlightTick:     time.Millisecond,
		MultiplierStep: dec("0.01"),
		Pause:          10 * time.Millisecond,
	}
}

type fakeRecorder struct {
	NopRecorder
	records chan *RoundRecord
}

func (f *fakeRecorder) RecordRound(ctx context.Context, rec *RoundRecord) error {
	select {
	case f.records <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// slowRecorder takes a while to accept each record.
type slowRecorder struct {
	NopRecorder
	delay time.Duration

	mu     sync.Mutex
	rounds []string
}

func (s *slowRecorder) RecordRound(ctx context.Context, rec *RoundRecord) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds = append(s.rounds, rec.RoundID)
	return nil
}

func (s *slowRecorder) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rounds...)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) LogEvent(event string, _ int, _ ...slog.Attr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeEvents) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

func TestPlayRoundSettlesForfeitedBet(t *testing.T) {
	r := newTestRegistry(1)
	p, id := join(t, r)
	rec := &fakeRecorder{records: make(chan *RoundRecord, 1)}
	events := &fakeEvents{}

	c := NewRoundController(r, nil, fastTiming(),
		WithRecorder(rec),
		WithEvents(events),
		WithControllerLogger(quietLogger()),
	)
	c.newRoundID = func() string { return "round-fixed" }

	go func() {
		start := p.waitFor(t, protocol.KindStart)
		assert.True(t, start.Value.Equal(dec("3")), "countdown starts at the full betting window")
		r.PlaceBet(id, dec("10"))
	}()

	got, err := c.PlayRound(context.Background())
	require.NoError(t, err)

	want := settlement.DrawExplosionPoint(1, dec("10"))
	assert.True(t, got.ExplosionPoint.Equal(want))
	assert.Equal(t, "round-fixed", got.RoundID)
	assert.Equal(t, 1, got.Bettors)
	assert.True(t, got.HouseDelta.Equal(dec("10")))
	require.Len(t, got.Outcomes, 1)
	assert.False(t, got.Outcomes[0].CashedOut)
	assert.True(t, got.Outcomes[0].ProfitDelta.Equal(dec("-10")))

	p.waitFor(t, protocol.KindClosed)
	first := p.waitFor(t, protocol.KindMultiplier)
	assert.True(t, first.Value.Equal(dec("1")))
	explode := p.waitFor(t, protocol.KindExplode)
	assert.True(t, explode.Value.Equal(want))
	profit := p.waitFor(t, protocol.KindProfit)
	assert.True(t, profit.PlayerProfit.Equal(dec("-10")))
	assert.True(t, profit.HouseProfit.Equal(dec("10")))

	select {
	case recorded := <-rec.records:
		assert.Equal(t, "round-fixed", recorded.RoundID)
	case <-time.After(2 * time.Second):
		t.Fatal("round was not recorded")
	}
	assert.Equal(t, 1, events.count("closed"))
	assert.Equal(t, 1, events.count("explode"))
	assert.Equal(t, 1, events.count("profit"))
	assert.Equal(t, PhaseWaiting, r.Phase())
}

func TestPlayRoundMultiplierIsMonotonic(t *testing.T) {
	r := newTestRegistry(1)
	p, id := join(t, r)

	c := NewRoundController(r, nil, fastTiming(), WithControllerLogger(quietLogger()))
	go func() {
		p.waitFor(t, protocol.KindStart)
		r.PlaceBet(id, dec("300"))
	}()

	rec, err := c.PlayRound(context.Background())
	require.NoError(t, err)

	var (
		last  = dec("0")
		count int
	)
	for {
		msg := <-p.frames
		if msg.Kind == protocol.KindExplode {
			break
		}
		if msg.Kind != protocol.KindMultiplier {
			continue
		}
		if count == 0 {
			assert.True(t, msg.Value.Equal(dec("1")))
		}
		assert.True(t, msg.Value.GreaterThan(last))
		assert.True(t, msg.Value.LessThan(rec.ExplosionPoint))
		last = msg.Value
		count++
	}
	// 1.00 .. explosion-0.01 in 0.01 steps
	steps := rec.ExplosionPoint.Sub(dec("1")).Div(dec("0.01")).IntPart()
	assert.Equal(t, int(steps), count)
}

func TestPlayRoundAbortsOnCancel(t *testing.T) {
	r := newTestRegistry(1)
	p, id := join(t, r)

	timing := fastTiming()
	timing.CountdownTick = time.Second
	c := NewRoundController(r, nil, timing, WithControllerLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		p.waitFor(t, protocol.KindStart)
		r.PlaceBet(id, dec("5"))
		cancel()
	}()

	_, err := c.PlayRound(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseWaiting, r.Phase())
	assert.True(t, r.HouseProfit().IsZero(), "aborted rounds move no money")
}

func TestRunWaitsForPlayers(t *testing.T) {
	r := newTestRegistry(1)
	rec := &fakeRecorder{records: make(chan *RoundRecord, 4)}
	c := NewRoundController(r, nil, fastTiming(),
		WithRecorder(rec),
		WithControllerLogger(quietLogger()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, PhaseWaiting, r.Phase(), "no round without players")

	join(t, r)
	select {
	case <-rec.records:
	case <-time.After(3 * time.Second):
		t.Fatal("no round played after a player joined")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunFinishesRecordingBeforeReturning(t *testing.T) {
	r := newTestRegistry(1)
	p, _ := join(t, r)
	rec := &slowRecorder{delay: 200 * time.Millisecond}

	timing := fastTiming()
	timing.Pause = time.Minute
	c := NewRoundController(r, nil, timing,
		WithRecorder(rec),
		WithControllerLogger(quietLogger()),
	)
	c.newRoundID = func() string { return "last-round" }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// the round is settled once it explodes; stop during the pause
	p.waitFor(t, protocol.KindExplode)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, []string{"last-round"}, rec.recorded(), "record written before Run returned")
}
