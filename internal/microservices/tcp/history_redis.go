package tcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	roundKeyTTL       = 7 * 24 * time.Hour
	recentRoundsKey   = "rounds:recent"
	recentRoundsLimit = 100
)

type RoundRedisRepo struct {
	client *redis.Client
}

// NewRoundRedisRepo connects and pings. A nil *RoundRedisRepo is a valid
// no-op repository.
func NewRoundRedisRepo(redisAddr, password string) (*RoundRedisRepo, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRoundRedisRepoWithClient(rdb), nil
}

func NewRoundRedisRepoWithClient(rdb *redis.Client) *RoundRedisRepo {
	return &RoundRedisRepo{client: rdb}
}

func roundKey(id string) string {
	return "round:" + id
}

// RecordRound stores the record as a hash and indexes it by end time.
func (r *RoundRedisRepo) RecordRound(ctx context.Context, rec *RoundRecord) error {
	if r == nil || r.client == nil {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode round %s: %w", rec.RoundID, err)
	}

	key := roundKey(rec.RoundID)
	fields := map[string]any{
		"round_id":        rec.RoundID,
		"explosion_point": rec.ExplosionPoint.String(),
		"bettors":         rec.Bettors,
		"house_delta":     rec.HouseDelta.String(),
		"ended_at":        rec.EndedAt.Format(time.RFC3339Nano),
		"payload":         payload,
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, roundKeyTTL)
	pipe.ZAdd(ctx, recentRoundsKey, redis.Z{
		Score:  float64(rec.EndedAt.UnixMilli()),
		Member: rec.RoundID,
	})
	// keep only the newest entries
	pipe.ZRemRangeByRank(ctx, recentRoundsKey, 0, -recentRoundsLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record round %s: %w", rec.RoundID, err)
	}
	return nil
}

func (r *RoundRedisRepo) GetRound(ctx context.Context, roundID string) (*RoundRecord, error) {
	if r == nil || r.client == nil {
		return nil, nil
	}
	payload, err := r.client.HGet(ctx, roundKey(roundID), "payload").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec RoundRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("invalid round payload for %s: %w", roundID, err)
	}
	return &rec, nil
}

// RecentRounds returns up to limit rounds, newest first. Expired hashes are
// skipped.
func (r *RoundRedisRepo) RecentRounds(ctx context.Context, limit int) ([]*RoundRecord, error) {
	if r == nil || r.client == nil {
		return []*RoundRecord{}, nil
	}
	if limit <= 0 || limit > recentRoundsLimit {
		limit = recentRoundsLimit
	}
	ids, err := r.client.ZRevRange(ctx, recentRoundsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	results := make([]*RoundRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := r.GetRound(ctx, id)
		if err != nil || rec == nil {
			continue
		}
		results = append(results, rec)
	}
	return results, nil
}

func (r *RoundRedisRepo) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
