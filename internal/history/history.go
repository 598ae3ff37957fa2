// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

// Package history persists terminal flash outcomes in a SQL database. The
// backend is selectable between SQLite, Postgres and MySQL; SQLite is the
// default for single-user installs, the server backends exist for shared lab
// setups where several hosts flash from one fleet database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/kumulus-tools/boardflash/internal/model"

	_ "modernc.org/sqlite"

	// SQL drivers for the server backends.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// FlashEventModel is the bun mapping of one recorded flash outcome.
type FlashEventModel struct {
	bun.BaseModel `bun:"table:flash_history,alias:fh"`

	ID              int64     `bun:"id,pk,autoincrement"`
	DeviceKey       string    `bun:"device_key,notnull"`
	Board           string    `bun:"board,notnull"`
	Port            string    `bun:"port"`
	FirmwareID      string    `bun:"firmware_id"`
	FirmwareVersion string    `bun:"firmware_version"`
	State           string    `bun:"state,notnull"`
	Message         string    `bun:"message"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
}

// Store is the flash history database.
type Store struct {
	db *bun.DB
}

// NewStore opens the history database for the given backend type and DSN
// and ensures the schema exists.
func NewStore(ctx context.Context, dbType, dsn string) (*Store, error) {
	driverName := dbType
	// The pgx stdlib registers driver name "pgx"; map "postgres" to it.
	if dbType == "postgres" {
		driverName = "pgx"
	}
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	var db *bun.DB
	switch dbType {
	case "sqlite":
		db = bun.NewDB(sqlDB, sqlitedialect.New())
	case "postgres":
		db = bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		db = bun.NewDB(sqlDB, mysqldialect.New())
	default:
		_ = sqlDB.Close()
		return nil, fmt.Errorf("unsupported history database type: %q", dbType)
	}

	if _, err := db.NewCreateTable().Model((*FlashEventModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create flash_history table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one terminal flash outcome.
func (s *Store) Record(ctx context.Context, ev model.FlashEvent) error {
	row := &FlashEventModel{
		DeviceKey:       ev.DeviceKey,
		Board:           string(ev.Board),
		Port:            ev.Port,
		FirmwareID:      ev.FirmwareID,
		FirmwareVersion: ev.FirmwareVersion,
		State:           string(ev.State),
		Message:         ev.Message,
		CreatedAt:       ev.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("failed to record flash event: %w", err)
	}
	return nil
}

// ForDevice returns the recorded outcomes of one device, newest first.
// A limit of zero means no limit.
func (s *Store) ForDevice(ctx context.Context, deviceKey string, limit int) ([]model.FlashEvent, error) {
	return s.query(ctx, limit, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("device_key = ?", deviceKey)
	})
}

// All returns recorded outcomes across all devices, newest first.
func (s *Store) All(ctx context.Context, limit int) ([]model.FlashEvent, error) {
	return s.query(ctx, limit, nil)
}

func (s *Store) query(ctx context.Context, limit int, filter func(*bun.SelectQuery) *bun.SelectQuery) ([]model.FlashEvent, error) {
	var rows []FlashEventModel
	q := s.db.NewSelect().Model(&rows).Order("created_at DESC").Order("id DESC")
	if filter != nil {
		q = filter(q)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to query flash history: %w", err)
	}

	events := make([]model.FlashEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, model.FlashEvent{
			ID:              r.ID,
			DeviceKey:       r.DeviceKey,
			Board:           model.BoardType(r.Board),
			Port:            r.Port,
			FirmwareID:      r.FirmwareID,
			FirmwareVersion: r.FirmwareVersion,
			State:           model.FlashState(r.State),
			Message:         r.Message,
			CreatedAt:       r.CreatedAt,
		})
	}
	return events, nil
}
