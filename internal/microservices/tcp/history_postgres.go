package tcp

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// roundRow and outcomeRow are the archive tables.
type roundRow struct {
	RoundID        string          `gorm:"primaryKey;size:36"`
	StartedAt      time.Time       `gorm:"not null"`
	EndedAt        time.Time       `gorm:"not null;index"`
	ExplosionPoint decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Bettors        int             `gorm:"not null"`
	TotalStake     decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	HouseDelta     decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	HouseProfit    decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Outcomes       []outcomeRow    `gorm:"foreignKey:RoundID;references:RoundID"`
}

func (roundRow) TableName() string { return "round_records" }

type outcomeRow struct {
	ID                uint            `gorm:"primaryKey"`
	RoundID           string          `gorm:"size:36;index;not null"`
	PlayerID          int             `gorm:"not null"`
	Stake             decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	CashedOut         bool            `gorm:"not null"`
	CashoutMultiplier decimal.Decimal `gorm:"type:numeric(20,4)"`
	Payout            decimal.Decimal `gorm:"type:numeric(20,4)"`
	ProfitDelta       decimal.Decimal `gorm:"type:numeric(20,4);not null"`
}

func (outcomeRow) TableName() string { return "round_outcomes" }

// RoundPostgresRepo archives rounds in PostgreSQL through gorm.
type RoundPostgresRepo struct {
	db *gorm.DB
}

// OpenRoundPostgresRepo opens the database and migrates the archive tables.
func OpenRoundPostgresRepo(databaseURL string) (*RoundPostgresRepo, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open round archive: %w", err)
	}
	repo := NewRoundPostgresRepo(db)
	if err := repo.Migrate(); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

func NewRoundPostgresRepo(db *gorm.DB) *RoundPostgresRepo {
	return &RoundPostgresRepo{db: db}
}

func (r *RoundPostgresRepo) Migrate() error {
	if err := r.db.AutoMigrate(&roundRow{}, &outcomeRow{}); err != nil {
		return fmt.Errorf("failed to migrate round archive: %w", err)
	}
	return nil
}

func (r *RoundPostgresRepo) RecordRound(ctx context.Context, rec *RoundRecord) error {
	return r.BatchInsert(ctx, []*RoundRecord{rec})
}

// BatchInsert writes every record and its outcomes in one transaction.
func (r *RoundPostgresRepo) BatchInsert(ctx context.Context, batch []*RoundRecord) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([]roundRow, 0, len(batch))
	for _, rec := range batch {
		rows = append(rows, toRoundRow(rec))
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to insert rounds: %w", err)
	}
	return nil
}

func (r *RoundPostgresRepo) RecentRounds(ctx context.Context, limit int) ([]*RoundRecord, error) {
	if limit <= 0 {
		limit = recentRoundsLimit
	}
	var rows []roundRow
	err := r.db.WithContext(ctx).
		Preload("Outcomes").
		Order("ended_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent rounds: %w", err)
	}

	results := make([]*RoundRecord, 0, len(rows))
	for _, row := range rows {
		results = append(results, fromRoundRow(row))
	}
	return results, nil
}

func (r *RoundPostgresRepo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRoundRow(rec *RoundRecord) roundRow {
	row := roundRow{
		RoundID:        rec.RoundID,
		StartedAt:      rec.StartedAt,
		EndedAt:        rec.EndedAt,
		ExplosionPoint: rec.ExplosionPoint,
		Bettors:        rec.Bettors,
		TotalStake:     rec.TotalStake,
		HouseDelta:     rec.HouseDelta,
		HouseProfit:    rec.HouseProfit,
	}
	for _, o := range rec.Outcomes {
		row.Outcomes = append(row.Outcomes, outcomeRow{
			RoundID:           rec.RoundID,
			PlayerID:          o.PlayerID,
			Stake:             o.Stake,
			CashedOut:         o.CashedOut,
			CashoutMultiplier: o.CashoutMultiplier,
			Payout:            o.Payout,
			ProfitDelta:       o.ProfitDelta,
		})
	}
	return row
}

func fromRoundRow(row roundRow) *RoundRecord {
	rec := &RoundRecord{
		RoundID:        row.RoundID,
		StartedAt:      row.StartedAt,
		EndedAt:        row.EndedAt,
		ExplosionPoint: row.ExplosionPoint,
		Bettors:        row.Bettors,
		TotalStake:     row.TotalStake,
		HouseDelta:     row.HouseDelta,
		HouseProfit:    row.HouseProfit,
		Outcomes:       make([]PlayerOutcome, 0, len(row.Outcomes)),
	}
	for _, o := range row.Outcomes {
		rec.Outcomes = append(rec.Outcomes, PlayerOutcome{
			PlayerID:          o.PlayerID,
			Stake:             o.Stake,
			CashedOut:         o.CashedOut,
			CashoutMultiplier: o.CashoutMultiplier,
			Payout:            o.Payout,
			ProfitDelta:       o.ProfitDelta,
		})
	}
	return rec
}
