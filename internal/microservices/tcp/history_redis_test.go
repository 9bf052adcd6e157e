package tcp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var historyEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// sampleRound has one cashout and one forfeit so every outcome field is set.
func sampleRound(id string, endedAt time.Time) *RoundRecord {
	return &RoundRecord{
		RoundID:        id,
		StartedAt:      endedAt.Add(-15 * time.Second),
		EndedAt:        endedAt,
		ExplosionPoint: dec("1.82"),
		Bettors:        2,
		TotalStake:     dec("30"),
		HouseDelta:     dec("-5"),
		HouseProfit:    dec("12.5"),
		Outcomes: []PlayerOutcome{
			{
				PlayerID:          1,
				Stake:             dec("20"),
				CashedOut:         true,
				CashoutMultiplier: dec("1.75"),
				Payout:            dec("35"),
				ProfitDelta:       dec("15"),
			},
			{
				PlayerID:    2,
				Stake:       dec("10"),
				ProfitDelta: dec("-10"),
			},
		},
	}
}

func assertSameRound(t *testing.T, want, got *RoundRecord) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.RoundID, got.RoundID)
	assert.True(t, want.StartedAt.Equal(got.StartedAt), "started_at %s != %s", want.StartedAt, got.StartedAt)
	assert.True(t, want.EndedAt.Equal(got.EndedAt), "ended_at %s != %s", want.EndedAt, got.EndedAt)
	assert.True(t, want.ExplosionPoint.Equal(got.ExplosionPoint), "explosion_point %s", got.ExplosionPoint)
	assert.Equal(t, want.Bettors, got.Bettors)
	assert.True(t, want.TotalStake.Equal(got.TotalStake), "total_stake %s", got.TotalStake)
	assert.True(t, want.HouseDelta.Equal(got.HouseDelta), "house_delta %s", got.HouseDelta)
	assert.True(t, want.HouseProfit.Equal(got.HouseProfit), "house_profit %s", got.HouseProfit)

	require.Len(t, got.Outcomes, len(want.Outcomes))
	for i, w := range want.Outcomes {
		g := got.Outcomes[i]
		assert.Equal(t, w.PlayerID, g.PlayerID, "outcome %d player_id", i)
		assert.True(t, w.Stake.Equal(g.Stake), "outcome %d stake %s", i, g.Stake)
		assert.Equal(t, w.CashedOut, g.CashedOut, "outcome %d cashed_out", i)
		assert.True(t, w.CashoutMultiplier.Equal(g.CashoutMultiplier), "outcome %d multiplier %s", i, g.CashoutMultiplier)
		assert.True(t, w.Payout.Equal(g.Payout), "outcome %d payout %s", i, g.Payout)
		assert.True(t, w.ProfitDelta.Equal(g.ProfitDelta), "outcome %d profit_delta %s", i, g.ProfitDelta)
	}
}

func newMiniRedisRepo(t *testing.T) (*RoundRedisRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	repo := NewRoundRedisRepoWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { repo.Close() })
	return repo, mr
}

func TestNewRoundRedisRepoPings(t *testing.T) {
	mr := miniredis.RunT(t)
	repo, err := NewRoundRedisRepo(mr.Addr(), "")
	require.NoError(t, err)
	assert.NoError(t, repo.Close())
}

func TestNewRoundRedisRepoFailsWithoutServer(t *testing.T) {
	_, err := NewRoundRedisRepo("127.0.0.1:1", "")
	assert.Error(t, err)
}

func TestRedisRecordRoundWritesHashAndIndex(t *testing.T) {
	repo, mr := newMiniRedisRepo(t)
	ctx := context.Background()
	rec := sampleRound("r1", historyEpoch)

	require.NoError(t, repo.RecordRound(ctx, rec))

	key := roundKey("r1")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, roundKeyTTL, mr.TTL(key))
	assert.Equal(t, "1.82", mr.HGet(key, "explosion_point"))
	assert.Equal(t, "2", mr.HGet(key, "bettors"))
	assert.Equal(t, "-5", mr.HGet(key, "house_delta"))

	score, err := mr.ZScore(recentRoundsKey, "r1")
	require.NoError(t, err)
	assert.Equal(t, float64(historyEpoch.UnixMilli()), score)

	got, err := repo.GetRound(ctx, "r1")
	require.NoError(t, err)
	assertSameRound(t, rec, got)

	missing, err := repo.GetRound(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRedisIndexKeepsNewestRounds(t *testing.T) {
	repo, mr := newMiniRedisRepo(t)
	ctx := context.Background()

	total := recentRoundsLimit + 5
	for i := 0; i < total; i++ {
		rec := sampleRound(fmt.Sprintf("round-%03d", i), historyEpoch.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.RecordRound(ctx, rec))
	}

	members, err := mr.ZMembers(recentRoundsKey)
	require.NoError(t, err)
	require.Len(t, members, recentRoundsLimit)
	assert.Equal(t, "round-005", members[0], "oldest entries trimmed")
	assert.Equal(t, fmt.Sprintf("round-%03d", total-1), members[len(members)-1])

	recent, err := repo.RecentRounds(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "round-104", recent[0].RoundID)
	assert.Equal(t, "round-103", recent[1].RoundID)
	assert.Equal(t, "round-102", recent[2].RoundID)

	all, err := repo.RecentRounds(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, recentRoundsLimit)
}

func TestRedisRecentRoundsSkipsExpired(t *testing.T) {
	repo, mr := newMiniRedisRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.RecordRound(ctx, sampleRound("old", historyEpoch)))
	mr.FastForward(6 * 24 * time.Hour)
	require.NoError(t, repo.RecordRound(ctx, sampleRound("new", historyEpoch.Add(time.Hour))))
	mr.FastForward(2 * 24 * time.Hour)

	assert.False(t, mr.Exists(roundKey("old")))
	members, err := mr.ZMembers(recentRoundsKey)
	require.NoError(t, err)
	assert.Len(t, members, 2, "the index outlives the hash")

	recent, err := repo.RecentRounds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].RoundID)
}
