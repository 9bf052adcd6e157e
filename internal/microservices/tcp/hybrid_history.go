package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var ErrRecorderClosed = errors.New("round recorder is closed")

const (
	historyQueueSize = 1024
	historyBatchSize = 100
)

// RoundCache is the fast store consulted for recent rounds.
type RoundCache interface {
	RecordRound(ctx context.Context, rec *RoundRecord) error
	RecentRounds(ctx context.Context, limit int) ([]*RoundRecord, error)
	Close() error
}

// RoundArchive is the durable store written in batches.
type RoundArchive interface {
	BatchInsert(ctx context.Context, batch []*RoundRecord) error
	RecentRounds(ctx context.Context, limit int) ([]*RoundRecord, error)
	Close() error
}

// HybridRoundRepo writes each round to the cache immediately and queues it for
// the archive. Either side may be nil.
type HybridRoundRepo struct {
	cache     RoundCache
	archive   RoundArchive
	writeChan chan *RoundRecord
	interval  time.Duration
	logger    *slog.Logger
	closed    atomic.Bool
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

func NewHybridRoundRepo(cache RoundCache, archive RoundArchive, interval time.Duration, logger *slog.Logger) *HybridRoundRepo {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HybridRoundRepo{
		cache:     cache,
		archive:   archive,
		writeChan: make(chan *RoundRecord, historyQueueSize),
		interval:  interval,
		logger:    logger,
	}
}

// Start runs the batch writer until ctx is cancelled or Close is called.
func (r *HybridRoundRepo) Start(ctx context.Context) {
	if r.archive == nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runBatchWriter(ctx)
	}()
}

func (r *HybridRoundRepo) RecordRound(ctx context.Context, rec *RoundRecord) error {
	if r.closed.Load() {
		return ErrRecorderClosed
	}
	if r.cache != nil {
		if err := r.cache.RecordRound(ctx, rec); err != nil {
			r.logger.Error("redis_save_failed",
				"round_id", rec.RoundID,
				"error", err,
			)
			// still archived below
		}
	}
	if r.archive == nil {
		return nil
	}

	queueDepth := len(r.writeChan)
	if queueDepth > cap(r.writeChan)/2 {
		r.logger.Warn("write_queue_high_watermark",
			"queue_depth", queueDepth,
		)
	}

	select {
	case r.writeChan <- rec:
		return nil
	default:
	}

	r.logger.Warn("write_queue_full_direct_write",
		"round_id", rec.RoundID,
	)
	directCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := r.archive.BatchInsert(directCtx, []*RoundRecord{rec}); err != nil {
		return fmt.Errorf("postgres direct write failed: %w", err)
	}
	return nil
}

// RecentRounds reads the cache first and falls back to the archive.
func (r *HybridRoundRepo) RecentRounds(ctx context.Context, limit int) ([]*RoundRecord, error) {
	if r.cache != nil {
		rounds, err := r.cache.RecentRounds(ctx, limit)
		if err == nil && len(rounds) > 0 {
			return rounds, nil
		}
		if err != nil {
			r.logger.Debug("redis_miss_fallback_to_postgres", "error", err)
		}
	}
	if r.archive == nil {
		return []*RoundRecord{}, nil
	}
	return r.archive.RecentRounds(ctx, limit)
}

func (r *HybridRoundRepo) runBatchWriter(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	batch := make([]*RoundRecord, 0, historyBatchSize)
	r.logger.Info("batch_writer_started",
		"interval", r.interval.String(),
		"batch_size", historyBatchSize,
	)

	for {
		select {
		case <-ctx.Done():
			// drain whatever is already queued
			for {
				select {
				case rec := <-r.writeChan:
					batch = append(batch, rec)
					continue
				default:
				}
				break
			}
			r.logger.Info("batch_writer_shutting_down", "remaining", len(batch))
			r.flushBatch(batch)
			return

		case rec := <-r.writeChan:
			batch = append(batch, rec)
			if len(batch) >= historyBatchSize {
				r.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *HybridRoundRepo) flushBatch(batch []*RoundRecord) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := r.archive.BatchInsert(ctx, batch); err != nil {
		r.logger.Error("batch_insert_failed",
			"count", len(batch),
			"error", err,
		)
		return
	}
	r.logger.Info("batch_insert_success",
		"count", len(batch),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Close stops the writer after flushing the queue, then closes both stores.
func (r *HybridRoundRepo) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	var errs []error
	if r.cache != nil {
		if err := r.cache.Close(); err != nil {
			r.logger.Error("failed_to_close_redis", "error", err)
			errs = append(errs, err)
		}
	}
	if r.archive != nil {
		if err := r.archive.Close(); err != nil {
			r.logger.Error("failed_to_close_postgres", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
