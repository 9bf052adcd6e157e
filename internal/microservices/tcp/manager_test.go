package tcp

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aviatorhub/internal/protocol"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// peer is the client side of a net.Pipe, drained continuously so registry
// writes never block.
type peer struct {
	conn   net.Conn
	frames chan protocol.Message
}

func newPeer(t *testing.T) (*peer, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	p := &peer{conn: client, frames: make(chan protocol.Message, 512)}
	go func() {
		defer close(p.frames)
		for {
			msg, err := protocol.ReadMessage(client)
			if err != nil {
				return
			}
			p.frames <- msg
		}
	}()
	t.Cleanup(func() { client.Close() })
	return p, server
}

// waitFor returns the next frame of the given kind, skipping others.
func (p *peer) waitFor(t *testing.T, kind protocol.Kind) protocol.Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-p.frames:
			if !ok {
				t.Fatalf("connection closed while waiting for %s", kind)
			}
			if msg.Kind == kind {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

// closed reports whether the server side hung up.
func (p *peer) closed(t *testing.T) bool {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-p.frames:
			if !ok {
				return true
			}
		case <-timeout:
			return false
		}
	}
}

func newTestRegistry(capacity int) *Registry {
	return NewRegistry(capacity,
		WithLogger(quietLogger()),
		WithWriteTimeout(time.Second),
	)
}

func join(t *testing.T, r *Registry) (*peer, int) {
	t.Helper()
	p, conn := newPeer(t)
	id, err := r.Allocate(conn)
	require.NoError(t, err)
	return p, id
}

func TestAllocateUntilFull(t *testing.T) {
	r := newTestRegistry(2)

	_, first := join(t, r)
	_, second := join(t, r)
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)

	_, conn := newPeer(t)
	_, err := r.Allocate(conn)
	assert.ErrorIs(t, err, ErrRegistryFull)

	require.True(t, r.Release(first))
	id, err := r.Allocate(conn)
	require.NoError(t, err)
	assert.Equal(t, 3, id, "ids are never reused")
	assert.Equal(t, 2, r.ActiveCount())
}

func TestReleaseIsIdempotentAndClosesConnection(t *testing.T) {
	r := newTestRegistry(1)
	p, id := join(t, r)

	assert.True(t, r.Release(id))
	assert.False(t, r.Release(id))
	assert.False(t, r.Release(999))
	assert.True(t, p.closed(t))
	assert.Equal(t, 0, r.ActiveCount())
}

func TestReleasedSessionGetsNoBroadcasts(t *testing.T) {
	r := newTestRegistry(2)
	gone, goneID := join(t, r)
	stay, _ := join(t, r)

	r.Release(goneID)
	r.Broadcast(protocol.Closed())

	stay.waitFor(t, protocol.KindClosed)
	for msg := range gone.frames {
		t.Fatalf("released session received %s", msg.Kind)
	}
}

func TestReusedSlotStartsClean(t *testing.T) {
	r := newTestRegistry(1)
	_, id := join(t, r)

	r.BeginBetting("round-1", 10)
	require.True(t, r.PlaceBet(id, dec("10")).Accepted)
	r.Release(id)

	_, fresh := join(t, r)
	s, ok := r.Session(fresh)
	require.True(t, ok)
	assert.True(t, s.Stake.IsZero())
	assert.True(t, s.Profit.IsZero())
	assert.False(t, s.HasBet)
	assert.False(t, s.HasCashedOut)
}

func TestBetAcceptedOncePerRoundDuringBetting(t *testing.T) {
	r := newTestRegistry(1)
	_, id := join(t, r)

	assert.False(t, r.PlaceBet(id, dec("5")).Accepted, "no round yet")

	r.BeginBetting("round-1", 10)
	receipt := r.PlaceBet(id, dec("10"))
	assert.True(t, receipt.Accepted)
	assert.Equal(t, 1, receipt.Bettors)
	assert.True(t, receipt.TotalStake.Equal(dec("10")))

	assert.False(t, r.PlaceBet(id, dec("20")).Accepted, "duplicate bet")

	bettors, total := r.CloseBetting()
	assert.Equal(t, 1, bettors)
	assert.True(t, total.Equal(dec("10")), "first stake kept")
	assert.False(t, r.PlaceBet(id, dec("20")).Accepted, "betting closed")
}

func TestBeginBettingResetsRoundFlags(t *testing.T) {
	r := newTestRegistry(1)
	p, id := join(t, r)

	r.BeginBetting("round-1", 10)
	r.PlaceBet(id, dec("10"))
	r.CloseBetting()
	r.BeginFlight(dec("2"))
	_, ok := r.Cashout(id)
	require.True(t, ok)
	p.waitFor(t, protocol.KindPayout)

	r.BeginBetting("round-2", 10)
	s, _ := r.Session(id)
	assert.False(t, s.HasBet)
	assert.False(t, s.HasCashedOut)
	assert.True(t, s.Stake.IsZero())
	assert.True(t, s.Profit.IsZero(), "cashout at 1.00 nets nothing")
}

func TestCashoutDuringBettingIsIgnored(t *testing.T) {
	r := newTestRegistry(1)
	_, id := join(t, r)

	r.BeginBetting("round-1", 10)
	r.PlaceBet(id, dec("10"))

	_, ok := r.Cashout(id)
	assert.False(t, ok)

	s, _ := r.Session(id)
	assert.False(t, s.HasCashedOut)
	assert.True(t, r.HouseProfit().IsZero())
}

func TestCashoutWithoutBetIsIgnored(t *testing.T) {
	r := newTestRegistry(1)
	_, id := join(t, r)

	r.BeginBetting("round-1", 10)
	r.CloseBetting()
	r.BeginFlight(dec("3"))

	_, ok := r.Cashout(id)
	assert.False(t, ok)
}

func TestTwoPlayerRoundIsZeroSum(t *testing.T) {
	r := newTestRegistry(2)
	a, idA := join(t, r)
	b, idB := join(t, r)

	r.BeginBetting("round-1", 10)
	require.True(t, r.PlaceBet(idA, dec("10")).Accepted)
	require.True(t, r.PlaceBet(idB, dec("20")).Accepted)

	bettors, total := r.CloseBetting()
	assert.Equal(t, 2, bettors)
	assert.True(t, total.Equal(dec("30")))
	a.waitFor(t, protocol.KindClosed)

	m := r.BeginFlight(dec("2.50"))
	assert.True(t, m.Equal(dec("1")), "flight starts at 1.0")
	for i := 0; i < 50; i++ {
		next, flying := r.AdvanceMultiplier(dec("0.01"))
		require.True(t, flying)
		require.True(t, next.GreaterThan(m))
		m = next
	}
	require.True(t, m.Equal(dec("1.50")))

	receipt, ok := r.Cashout(idA)
	require.True(t, ok)
	assert.True(t, receipt.Payout.Equal(dec("15")))
	assert.True(t, receipt.ProfitDelta.Equal(dec("5")))
	assert.True(t, receipt.HouseProfit.Equal(dec("-5")))

	payout := a.waitFor(t, protocol.KindPayout)
	assert.Equal(t, int32(idA), payout.PlayerID)
	assert.True(t, payout.Value.Equal(dec("15")))
	assert.True(t, payout.PlayerProfit.Equal(dec("5")))
	assert.True(t, payout.HouseProfit.Equal(dec("-5")))

	_, again := r.Cashout(idA)
	assert.False(t, again, "second cashout ignored")

	select {
	case <-receipt.Settled:
		t.Fatal("settled before explosion")
	default:
	}

	for {
		if _, flying := r.AdvanceMultiplier(dec("0.01")); !flying {
			break
		}
	}
	_, late := r.Cashout(idB)
	assert.False(t, late, "cashout closes at the explosion point")

	assert.True(t, r.Explode().Equal(dec("2.50")))
	rec := r.Settle()

	<-receipt.Settled
	assert.True(t, rec.HouseDelta.Equal(dec("15")))
	assert.True(t, rec.HouseProfit.Equal(dec("15")))
	assert.True(t, r.HouseProfit().Equal(dec("15")))

	sum := rec.HouseDelta
	for _, o := range rec.Outcomes {
		sum = sum.Add(o.ProfitDelta)
	}
	assert.True(t, sum.IsZero(), "round must be zero-sum")

	explode := b.waitFor(t, protocol.KindExplode)
	assert.True(t, explode.Value.Equal(dec("2.5")))
	profit := b.waitFor(t, protocol.KindProfit)
	assert.Equal(t, int32(idB), profit.PlayerID)
	assert.True(t, profit.PlayerProfit.Equal(dec("-20")))
	assert.True(t, profit.HouseProfit.Equal(dec("15")))

	playerProfit, houseProfit, err := r.SendProfit(idA)
	require.NoError(t, err)
	assert.True(t, playerProfit.Equal(dec("5")))
	assert.True(t, houseProfit.Equal(dec("15")))
	final := a.waitFor(t, protocol.KindProfit)
	assert.True(t, final.HouseProfit.Equal(dec("15")))
}

func TestBeginFlightAtFloorNeverOpens(t *testing.T) {
	r := newTestRegistry(1)
	_, id := join(t, r)

	r.BeginBetting("round-1", 10)
	r.PlaceBet(id, dec("1"))
	r.CloseBetting()
	r.BeginFlight(dec("1"))

	assert.Equal(t, PhaseWaiting, r.Phase())
	_, ok := r.Cashout(id)
	assert.False(t, ok)
}

func TestBroadcastReleasesDeadPeer(t *testing.T) {
	r := newTestRegistry(2)
	dead, deadID := join(t, r)
	alive, _ := join(t, r)

	dead.conn.Close()
	r.Broadcast(protocol.Start(3))

	alive.waitFor(t, protocol.KindStart)
	assert.Eventually(t, func() bool {
		_, ok := r.Session(deadID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, r.ActiveCount())
}

func TestWaitForPlayers(t *testing.T) {
	r := newTestRegistry(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.WaitForPlayers(ctx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- r.WaitForPlayers(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	join(t, r)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForPlayers did not return after a join")
	}
}

func TestConcurrentBetsAcceptedOnce(t *testing.T) {
	const players = 8
	r := newTestRegistry(players)
	ids := make([]int, players)
	for i := range ids {
		_, ids[i] = join(t, r)
	}
	r.BeginBetting("round-1", 10)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted = map[int]int{}
	)
	for _, id := range ids {
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				if r.PlaceBet(id, dec("2")).Accepted {
					mu.Lock()
					accepted[id]++
					mu.Unlock()
				}
			}(id)
		}
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, 1, accepted[id], "player %d", id)
	}
	bettors, total := r.CloseBetting()
	assert.Equal(t, players, bettors)
	assert.True(t, total.Equal(dec("16")))
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []protocol.Kind
}

func (o *recordingObserver) Observe(msg protocol.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, msg.Kind)
}

func (o *recordingObserver) kinds() []protocol.Kind {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]protocol.Kind(nil), o.seen...)
}

func TestObserversSeeBroadcasts(t *testing.T) {
	r := newTestRegistry(1)
	obs := &recordingObserver{}
	unsubscribe := r.Subscribe(obs)

	r.Broadcast(protocol.Start(5))
	r.Broadcast(protocol.Closed())
	unsubscribe()
	r.Broadcast(protocol.Explode(dec("1.5")))

	assert.Equal(t, []protocol.Kind{protocol.KindStart, protocol.KindClosed}, obs.kinds())
}

func TestCloseAllSaysBye(t *testing.T) {
	r := newTestRegistry(2)
	a, _ := join(t, r)
	b, _ := join(t, r)

	r.CloseAll()

	a.waitFor(t, protocol.KindBye)
	b.waitFor(t, protocol.KindBye)
	assert.Equal(t, 0, r.ActiveCount())
}

func TestSnapshot(t *testing.T) {
	r := newTestRegistry(3)
	_, id := join(t, r)
	join(t, r)

	r.BeginBetting("round-7", 10)
	r.TickCountdown(4)
	r.PlaceBet(id, dec("12.5"))

	stats := r.Snapshot()
	assert.Equal(t, "round-7", stats.RoundID)
	assert.Equal(t, "betting", stats.Phase)
	assert.Equal(t, 4, stats.Countdown)
	assert.Equal(t, 2, stats.ActivePlayers)
	assert.Equal(t, 3, stats.Capacity)
	assert.Equal(t, 1, stats.Bettors)
	assert.True(t, stats.TotalStake.Equal(dec("12.5")))
}

func BenchmarkBroadcast(b *testing.B) {
	r := newTestRegistry(10)
	for i := 0; i < 10; i++ {
		server, client := net.Pipe()
		go io.Copy(io.Discard, client)
		b.Cleanup(func() { client.Close() })
		if _, err := r.Allocate(server); err != nil {
			b.Fatal(err)
		}
	}
	msg := protocol.Multiplier(dec("1.23"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Broadcast(msg)
	}
}
