// Package eventstore persists motion events in SQLite through gorm.
//
// All mutations share one store-wide write lock, so at most one insert,
// snapshot update, or bulk delete is in flight. Reads do not take the lock.
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/your-org/motionwatch/internal/model"
)

// ErrNotFound is returned when an event id does not exist.
var ErrNotFound = errors.New("event not found")

// BlobChecker reports whether a snapshot blob is still present.
type BlobChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// PurgeFunc is invoked with the snapshot keys of rows about to be deleted,
// under the write lock and before the rows are removed.
type PurgeFunc func(ctx context.Context, snapshotPaths []string)

// eventRow is the persisted form of model.Event.
type eventRow struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement"`
	TimestampUnix  int64  `gorm:"column:ts_unix_micro;not null;index"`
	Source         string `gorm:"column:source;type:text;not null"`
	Message        string `gorm:"column:message;type:text;not null"`
	Severity       string `gorm:"column:severity;type:text"`
	Zone           string `gorm:"column:zone;type:text"`
	ThumbnailURL   string `gorm:"column:thumbnail_url;type:text"`
	FrameTimestamp *int64 `gorm:"column:frame_ts_unix_micro"`
	Detections     string `gorm:"column:detections;type:text"`
	SnapshotPath   string `gorm:"column:snapshot_path;type:text"`
}

func (eventRow) TableName() string {
	return "motion_events"
}

// Store is the durable, append-only event record.
type Store struct {
	db    *gorm.DB
	blobs BlobChecker

	writeMu sync.Mutex
}

// Options configures a Store.
type Options struct {
	// Blobs backs SnapshotPath's existence check. Nil means paths are trusted.
	Blobs BlobChecker
}

// Open opens (creating if needed) the SQLite database at dsn and migrates the schema.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if err := ensureDir(dsn); err != nil {
		return nil, err
	}
	db, err := gorm.Open(gormsqlite.Open(withPragmas(dsn)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return New(ctx, db, opts)
}

// New wraps an existing gorm handle and migrates the schema.
func New(ctx context.Context, db *gorm.DB, opts Options) (*Store, error) {
	if err := db.WithContext(ctx).AutoMigrate(&eventRow{}); err != nil {
		return nil, fmt.Errorf("migrate motion_events: %w", err)
	}
	return &Store{db: db, blobs: opts.Blobs}, nil
}

// DB exposes the gorm handle so other tables can share the database file.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Insert persists ev and returns the id assigned to it. ev.ID is set on success.
func (s *Store) Insert(ctx context.Context, ev *model.Event) (int64, error) {
	// Rows hold microseconds; truncate first so the caller sees what was stored.
	ev.Timestamp = ev.Timestamp.Truncate(time.Microsecond)
	if ev.FrameTimestamp != nil {
		ft := ev.FrameTimestamp.Truncate(time.Microsecond)
		ev.FrameTimestamp = &ft
	}
	row, err := toRow(ev)
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("insert motion event: %w", err)
	}
	ev.ID = row.ID
	return row.ID, nil
}

// UpdateSnapshot records the snapshot blob key and derived thumbnail URL.
// It is a no-op when id does not exist.
func (s *Store) UpdateSnapshot(ctx context.Context, id int64, path, thumbnailURL string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.WithContext(ctx).
		Model(&eventRow{}).
		Where("id = ?", id).
		Updates(map[string]any{"snapshot_path": path, "thumbnail_url": thumbnailURL}).Error
	if err != nil {
		return fmt.Errorf("update snapshot for event %d: %w", id, err)
	}
	return nil
}

// ListRecent returns up to limit of the newest events, oldest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		return []model.Event{}, nil
	}
	var rows []eventRow
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list motion events: %w", err)
	}

	events := make([]model.Event, len(rows))
	for i, row := range rows {
		ev, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		events[len(rows)-1-i] = ev
	}
	return events, nil
}

// Get returns a single event by id.
func (s *Store) Get(ctx context.Context, id int64) (model.Event, error) {
	var row eventRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Event{}, ErrNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get motion event %d: %w", id, err)
	}
	return fromRow(row)
}

// SnapshotPath returns the event's snapshot key if one is recorded and the
// blob still exists.
func (s *Store) SnapshotPath(ctx context.Context, id int64) (string, bool, error) {
	var row eventRow
	err := s.db.WithContext(ctx).Select("id", "snapshot_path").Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get snapshot path for event %d: %w", id, err)
	}
	if row.SnapshotPath == "" {
		return "", false, nil
	}
	if s.blobs != nil {
		ok, err := s.blobs.Exists(ctx, row.SnapshotPath)
		if err != nil {
			return "", false, fmt.Errorf("stat snapshot %s: %w", row.SnapshotPath, err)
		}
		if !ok {
			return "", false, nil
		}
	}
	return row.SnapshotPath, true, nil
}

// DeleteOlderThan removes every event whose timestamp is strictly before
// cutoff. purge, if non-nil, runs first with the snapshot keys of those rows.
// It returns the number of deleted rows and the snapshot keys they referenced.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time, purge PurgeFunc) (int64, []string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Stored timestamps are whole microseconds, so a fractional cutoff rounds up.
	cut := cutoff.UTC().UnixMicro()
	if cutoff.Truncate(time.Microsecond).Before(cutoff) {
		cut++
	}
	var rows []eventRow
	if err := s.db.WithContext(ctx).
		Select("id", "snapshot_path").
		Where("ts_unix_micro < ?", cut).
		Find(&rows).Error; err != nil {
		return 0, nil, fmt.Errorf("select expired events: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil, nil
	}

	ids := make([]int64, 0, len(rows))
	var paths []string
	for _, row := range rows {
		ids = append(ids, row.ID)
		if row.SnapshotPath != "" {
			paths = append(paths, row.SnapshotPath)
		}
	}

	if purge != nil && len(paths) > 0 {
		purge(ctx, paths)
	}

	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&eventRow{})
	if res.Error != nil {
		return 0, nil, fmt.Errorf("delete expired events: %w", res.Error)
	}
	return res.RowsAffected, paths, nil
}

func toRow(ev *model.Event) (eventRow, error) {
	detections := ev.Detections
	if detections == nil {
		detections = []model.Detection{}
	}
	encoded, err := json.Marshal(detections)
	if err != nil {
		return eventRow{}, fmt.Errorf("marshal detections: %w", err)
	}
	row := eventRow{
		TimestampUnix: ev.Timestamp.UTC().UnixMicro(),
		Source:        ev.Source,
		Message:       ev.Message,
		Severity:      ev.Severity,
		Zone:          ev.Zone,
		ThumbnailURL:  ev.ThumbnailURL,
		Detections:    string(encoded),
		SnapshotPath:  ev.SnapshotPath,
	}
	if ev.FrameTimestamp != nil {
		ft := ev.FrameTimestamp.UTC().UnixMicro()
		row.FrameTimestamp = &ft
	}
	return row, nil
}

func fromRow(row eventRow) (model.Event, error) {
	ev := model.Event{
		ID:           row.ID,
		Timestamp:    time.UnixMicro(row.TimestampUnix).UTC(),
		Source:       row.Source,
		Message:      row.Message,
		Severity:     row.Severity,
		Zone:         row.Zone,
		ThumbnailURL: row.ThumbnailURL,
		SnapshotPath: row.SnapshotPath,
		Detections:   []model.Detection{},
	}
	if row.FrameTimestamp != nil {
		ft := time.UnixMicro(*row.FrameTimestamp).UTC()
		ev.FrameTimestamp = &ft
	}
	if row.Detections != "" {
		if err := json.Unmarshal([]byte(row.Detections), &ev.Detections); err != nil {
			return model.Event{}, fmt.Errorf("decode detections for event %d: %w", row.ID, err)
		}
	}
	return ev, nil
}

// withPragmas enables WAL and a busy timeout so readers do not fail while a
// write holds the database.
func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") || strings.Contains(dsn, ":memory:") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func ensureDir(dsn string) error {
	candidate := strings.TrimSpace(dsn)
	if candidate == "" || strings.Contains(candidate, ":memory:") {
		return nil
	}
	candidate = strings.TrimPrefix(candidate, "file:")
	if idx := strings.Index(candidate, "?"); idx >= 0 {
		candidate = candidate[:idx]
	}
	dir := filepath.Dir(candidate)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite directory %q: %w", dir, err)
	}
	return nil
}
