package database

import (
	"context"

	"github.com/koofree/trading-bot/internal/signal"
	"github.com/koofree/trading-bot/internal/trading"
)

// Repository provides data access for trades and signals. It
// implements trading.Recorder.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over the pool
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck pings the database
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// RecordTrade inserts one trade history entry
func (r *Repository) RecordTrade(ctx context.Context, record trading.TradeRecord) error {
	query := `
		INSERT INTO trades (position_id, action, market, side, price, volume, pnl, pnl_percent, signal_strength, reasoning, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		record.PositionID, string(record.Action), record.Market, record.Side,
		record.Price, record.Volume, record.PnL, record.PnLPercentage,
		record.SignalStrength, record.Reasoning, record.Timestamp,
	)
	return err
}

// RecordSignal inserts a generated signal for later review
func (r *Repository) RecordSignal(ctx context.Context, sig *signal.TradingSignal) error {
	query := `
		INSERT INTO signals (market, signal_type, strength, price, volume, reasoning, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		sig.Market, string(sig.Type), sig.Strength, sig.Price, sig.Volume,
		sig.Reasoning, sig.Timestamp,
	)
	return err
}

// TradeHistory returns recent trade records, newest first
func (r *Repository) TradeHistory(ctx context.Context, limit int) ([]trading.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT position_id, action, market, side, price, volume, pnl, pnl_percent, signal_strength, reasoning, executed_at
		FROM trades
		ORDER BY executed_at DESC
		LIMIT $1
	`
	return r.queryTrades(ctx, query, limit)
}

// TradesByMarket returns trade records for one market, newest first
func (r *Repository) TradesByMarket(ctx context.Context, market string, limit int) ([]trading.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT position_id, action, market, side, price, volume, pnl, pnl_percent, signal_strength, reasoning, executed_at
		FROM trades
		WHERE market = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`
	return r.queryTrades(ctx, query, market, limit)
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]trading.TradeRecord, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []trading.TradeRecord
	for rows.Next() {
		var rec trading.TradeRecord
		var action string
		if err := rows.Scan(
			&rec.PositionID, &action, &rec.Market, &rec.Side,
			&rec.Price, &rec.Volume, &rec.PnL, &rec.PnLPercentage,
			&rec.SignalStrength, &rec.Reasoning, &rec.Timestamp,
		); err != nil {
			return nil, err
		}
		rec.Action = trading.TradeAction(action)
		records = append(records, rec)
	}
	return records, rows.Err()
}
