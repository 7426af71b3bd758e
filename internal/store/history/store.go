// Package history keeps a time series of portfolio valuations per engine
// in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"stratexec/internal/engine"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Point is one stored valuation.
type Point struct {
	ID             int64           `json:"id"`
	EngineID       string          `json:"engine_id"`
	At             time.Time       `json:"at"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Cash           decimal.Decimal `json:"cash"`
	PeakValue      decimal.Decimal `json:"peak_value"`
	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	DailyPnL       decimal.Decimal `json:"daily_pnl"`
	DailyReturn    decimal.Decimal `json:"daily_return"`
	Drawdown       decimal.Decimal `json:"drawdown"`
	Exposure       decimal.Decimal `json:"exposure"`
	StalePositions int             `json:"stale_positions"`
}

// PointFrom flattens a portfolio into a storable point.
func PointFrom(engineID string, p engine.Portfolio) Point {
	return Point{
		EngineID:       engineID,
		At:             p.ValuedAt,
		PortfolioValue: p.PortfolioValue,
		Cash:           p.Cash,
		PeakValue:      p.PeakValue,
		MaxDrawdown:    p.MaxDrawdownFromPeak,
		DailyPnL:       p.RiskMetrics.DailyPnL,
		DailyReturn:    p.RiskMetrics.DailyReturn,
		Drawdown:       p.RiskMetrics.CurrentDrawdown,
		Exposure:       p.RiskMetrics.Exposure,
		StalePositions: p.StalePositions,
	}
}

type Store struct {
	mu sync.Mutex
	db *sql.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history: path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS portfolio_valuations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			engine_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			portfolio_value TEXT NOT NULL,
			cash TEXT NOT NULL,
			peak_value TEXT NOT NULL,
			max_drawdown TEXT NOT NULL,
			daily_pnl TEXT NOT NULL,
			daily_return TEXT NOT NULL,
			drawdown TEXT NOT NULL,
			exposure TEXT NOT NULL,
			stale_positions INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_portfolio_valuations_engine_ts ON portfolio_valuations(engine_id, ts, id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("history schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Insert writes points in one transaction and returns their ids.
func (s *Store) Insert(ctx context.Context, points ...Point) ([]int64, error) {
	if len(points) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("history: store closed")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO portfolio_valuations
		(engine_id, ts, portfolio_value, cash, peak_value, max_drawdown, daily_pnl, daily_return, drawdown, exposure, stale_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	ids := make([]int64, 0, len(points))
	for _, p := range points {
		res, err := stmt.ExecContext(ctx,
			p.EngineID, p.At.UnixMilli(),
			p.PortfolioValue.String(), p.Cash.String(), p.PeakValue.String(), p.MaxDrawdown.String(),
			p.DailyPnL.String(), p.DailyReturn.String(), p.Drawdown.String(), p.Exposure.String(),
			p.StalePositions,
		)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// List returns an engine's points at or after since, oldest first, capped
// at the most recent limit points.
func (s *Store) List(ctx context.Context, engineID string, since time.Time, limit int) ([]Point, error) {
	if limit <= 0 {
		limit = 500
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("history: store closed")
	}
	rows, err := db.QueryContext(ctx, `SELECT id, engine_id, ts, portfolio_value, cash, peak_value, max_drawdown,
			daily_pnl, daily_return, drawdown, exposure, stale_positions
		FROM (
			SELECT * FROM portfolio_valuations
			WHERE engine_id = ? AND ts >= ?
			ORDER BY ts DESC, id DESC
			LIMIT ?
		) ORDER BY ts ASC, id ASC`, engineID, since.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Point
	for rows.Next() {
		var (
			p    Point
			ts   int64
			nums [8]string
		)
		if err := rows.Scan(&p.ID, &p.EngineID, &ts, &nums[0], &nums[1], &nums[2], &nums[3],
			&nums[4], &nums[5], &nums[6], &nums[7], &p.StalePositions); err != nil {
			return nil, err
		}
		p.At = time.UnixMilli(ts).UTC()
		targets := []*decimal.Decimal{&p.PortfolioValue, &p.Cash, &p.PeakValue, &p.MaxDrawdown,
			&p.DailyPnL, &p.DailyReturn, &p.Drawdown, &p.Exposure}
		for i, dst := range targets {
			v, err := decimal.NewFromString(nums[i])
			if err != nil {
				return nil, fmt.Errorf("history: row %d: %w", p.ID, err)
			}
			*dst = v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep points of an engine and deletes the rest.
func (s *Store) Prune(ctx context.Context, engineID string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, fmt.Errorf("history: store closed")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM portfolio_valuations
		WHERE engine_id = ? AND id NOT IN (
			SELECT id FROM portfolio_valuations WHERE engine_id = ? ORDER BY ts DESC, id DESC LIMIT ?
		)`, engineID, engineID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
