// Package journal persists every engine event to SQLite through gorm so a
// run can be audited or replayed later.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stratexec/internal/events"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultListLimit = 1000

type eventModel struct {
	ID       int64          `gorm:"column:id;primaryKey"`
	EventID  string         `gorm:"column:event_uuid;uniqueIndex"`
	Seq      uint64         `gorm:"column:seq;index"`
	Type     string         `gorm:"column:type;index"`
	EngineID string         `gorm:"column:engine_id;index"`
	Payload  datatypes.JSON `gorm:"column:payload"`
	AtUnix   int64          `gorm:"column:at;index"`
}

func (eventModel) TableName() string { return "engine_events" }

// Record is one stored event.
type Record struct {
	ID       int64           `json:"id"`
	EventID  string          `json:"event_id"`
	Seq      uint64          `json:"seq"`
	Type     events.Type     `json:"type"`
	EngineID string          `json:"engine_id"`
	Payload  json.RawMessage `json:"payload"`
	At       time.Time       `json:"at"`
}

// Query selects records. Zero fields match everything.
type Query struct {
	EngineID string
	Types    []events.Type
	// AfterSeq pages forward without gaps when EngineID is set; each engine
	// delivers its events in sequence order, engines do not order between
	// each other.
	AfterSeq uint64
	Since    time.Time
	Limit    int
}

type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&eventModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append stores events in one transaction.
func (s *Store) Append(ctx context.Context, evts ...events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	models := make([]eventModel, 0, len(evts))
	for _, ev := range evts {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("journal: encode %s payload: %w", ev.Type, err)
		}
		models = append(models, eventModel{
			EventID:  ev.ID,
			Seq:      ev.Seq,
			Type:     string(ev.Type),
			EngineID: ev.EngineID,
			Payload:  datatypes.JSON(raw),
			AtUnix:   ev.At.UnixMilli(),
		})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&models).Error
	})
}

// List returns matching records ordered by sequence.
func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := s.scope(s.db.WithContext(ctx), q).Order("seq ASC").Limit(limit)
	var models []eventModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(models))
	for _, m := range models {
		out = append(out, Record{
			ID:       m.ID,
			EventID:  m.EventID,
			Seq:      m.Seq,
			Type:     events.Type(m.Type),
			EngineID: m.EngineID,
			Payload:  json.RawMessage(m.Payload),
			At:       time.UnixMilli(m.AtUnix).UTC(),
		})
	}
	return out, nil
}

// Count counts matching records, ignoring the limit.
func (s *Store) Count(ctx context.Context, q Query) (int64, error) {
	var n int64
	err := s.scope(s.db.WithContext(ctx).Model(&eventModel{}), q).Count(&n).Error
	return n, err
}

func (s *Store) scope(db *gorm.DB, q Query) *gorm.DB {
	if id := strings.TrimSpace(q.EngineID); id != "" {
		db = db.Where("engine_id = ?", id)
	}
	if len(q.Types) > 0 {
		types := make([]string, 0, len(q.Types))
		for _, t := range q.Types {
			types = append(types, string(t))
		}
		db = db.Where("type IN ?", types)
	}
	if q.AfterSeq > 0 {
		db = db.Where("seq > ?", q.AfterSeq)
	}
	if !q.Since.IsZero() {
		db = db.Where("at >= ?", q.Since.UnixMilli())
	}
	return db
}
