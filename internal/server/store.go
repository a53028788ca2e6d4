package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/outpostdb/outpost/internal/record"
)

// storedRecord is the server-side row for one synced record.
//
// autoUpdateTime is disabled on UpdatedAt: the column carries the client's
// mutation time, which is the conflict-resolution signal, and must never be
// overwritten with arrival time.
type storedRecord struct {
	Tbl       string `gorm:"column:tbl;primaryKey"`
	ID        string `gorm:"column:id;primaryKey"`
	Data      string `gorm:"column:data"`
	ClientID  string `gorm:"column:client_id"`
	UpdatedAt int64  `gorm:"column:updated_at;index;autoUpdateTime:false"`
	SyncID    string `gorm:"column:sync_id"`
}

func (storedRecord) TableName() string { return "sync_records" }

// Store is the authoritative record store backing the sync server.
type Store struct {
	db *gorm.DB
}

// OpenStore creates or opens the server database at path.
// Use ":memory:" for an ephemeral store in tests.
func OpenStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open server store: %w", err)
	}
	if err := db.AutoMigrate(&storedRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate server store: %w", err)
	}
	return &Store{db: db}, nil
}

// Upsert applies one pushed record with last-write-wins semantics keyed on
// updated_at: an existing strictly-newer row wins and the push is a no-op
// for that record. Re-delivery of an already-accepted record (the
// at-least-once case) is therefore harmless.
//
// Returns whether the incoming record was accepted.
func (s *Store) Upsert(table string, rec record.SyncRecord) (bool, error) {
	accepted := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing storedRecord
		err := tx.Where("tbl = ? AND id = ?", table, rec.ID).Take(&existing).Error
		if err == nil && existing.UpdatedAt > rec.UpdatedAt {
			return nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		accepted = true
		row := storedRecord{
			Tbl:       table,
			ID:        rec.ID,
			Data:      string(rec.Data),
			ClientID:  rec.ClientID,
			UpdatedAt: rec.UpdatedAt,
			SyncID:    rec.SyncID,
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tbl"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns(
				[]string{"data", "client_id", "updated_at", "sync_id"}),
		}).Create(&row).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to upsert %s/%s: %w", table, rec.ID, err)
	}
	return accepted, nil
}

// ListSince returns records in table updated strictly after the given unix
// time, oldest first.
func (s *Store) ListSince(table string, since int64) ([]record.SyncRecord, error) {
	var rows []storedRecord
	err := s.db.
		Where("tbl = ? AND updated_at > ?", table, since).
		Order("updated_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	out := make([]record.SyncRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, record.SyncRecord{
			ID:        row.ID,
			Data:      json.RawMessage(row.Data),
			ClientID:  row.ClientID,
			UpdatedAt: row.UpdatedAt,
			SyncID:    row.SyncID,
		})
	}
	return out, nil
}

// Count returns the number of records stored for table.
func (s *Store) Count(table string) (int64, error) {
	var n int64
	if err := s.db.Model(&storedRecord{}).Where("tbl = ?", table).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}
