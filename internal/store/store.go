// Package store persists farms, devices, readings and tasks on SQLite and
// doubles as the device registry. Reading inserts are independent rows;
// device upserts run in a transaction so concurrent push/poll contact for
// the same key cannot lose the later timestamp.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/monit-agro/monit-agro/internal/model"
)

type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at path and migrates the
// schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&model.Farm{}, &model.Device{}, &model.Reading{}, &model.Task{}); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping reports whether the underlying database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// SeedFarms creates the given farms if their slug is not present yet.
func (s *Store) SeedFarms(ctx context.Context, farms []model.Farm) error {
	for _, f := range farms {
		if f.ID == "" {
			f.ID = f.Slug
		}
		err := s.db.WithContext(ctx).
			Where(&model.Farm{Slug: f.Slug}).
			FirstOrCreate(&f).Error
		if err != nil {
			return fmt.Errorf("seed farm %s: %w", f.Slug, err)
		}
	}
	return nil
}

func (s *Store) ListFarms(ctx context.Context) ([]model.Farm, error) {
	var farms []model.Farm
	if err := s.db.WithContext(ctx).Order("name asc").Find(&farms).Error; err != nil {
		return nil, fmt.Errorf("list farms: %w", err)
	}
	return farms, nil
}

// CreateReading appends one reading. Readings are immutable; there is no
// update or delete counterpart.
func (s *Store) CreateReading(ctx context.Context, r *model.Reading) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.TS.IsZero() {
		r.TS = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("create reading: %w", err)
	}
	return nil
}

// LatestReading returns the most recent reading for a farm, or nil when the
// farm has none yet.
func (s *Store) LatestReading(ctx context.Context, farmID string) (*model.Reading, error) {
	var r model.Reading
	err := s.db.WithContext(ctx).
		Where("farm_id = ?", farmID).
		Order("ts desc").
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest reading: %w", err)
	}
	return &r, nil
}

// ListReadings returns up to limit readings, newest first unless asc.
func (s *Store) ListReadings(ctx context.Context, farmID string, limit int, asc bool) ([]model.Reading, error) {
	if limit <= 0 {
		limit = 200
	}
	order := "ts desc"
	if asc {
		order = "ts asc"
	}
	q := s.db.WithContext(ctx).Order(order).Limit(limit)
	if farmID != "" {
		q = q.Where("farm_id = ?", farmID)
	}
	var out []model.Reading
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	return out, nil
}

// UpsertDevice registers a device contact. First contact creates the row;
// later contacts are last-write-wins on name/farm, update the address only
// when one was observed, and keep lastSeenAt monotonically non-decreasing.
// The whole read-modify-write runs in one transaction.
func (s *Store) UpsertDevice(ctx context.Context, networkKey, name, farmID string, contact time.Time, addr string) (*model.Device, error) {
	var out model.Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dev model.Device
		err := tx.Where("network_key = ?", networkKey).First(&dev).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			dev = model.Device{
				ID:         uuid.NewString(),
				NetworkKey: networkKey,
				Name:       name,
				FarmID:     farmID,
				LastSeenAt: contact,
				LastAddr:   addr,
				Active:     true,
			}
			if dev.Name == "" {
				dev.Name = networkKey
			}
			if err := tx.Create(&dev).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if name != "" {
				dev.Name = name
			}
			if farmID != "" {
				dev.FarmID = farmID
			}
			if addr != "" {
				dev.LastAddr = addr
			}
			if contact.After(dev.LastSeenAt) {
				dev.LastSeenAt = contact
			}
			if err := tx.Save(&dev).Error; err != nil {
				return err
			}
		}
		out = dev
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert device %s: %w", networkKey, err)
	}
	return &out, nil
}

// ListDevices enumerates devices, optionally only active ones.
func (s *Store) ListDevices(ctx context.Context, activeOnly bool) ([]model.Device, error) {
	q := s.db.WithContext(ctx).Order("network_key asc")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var out []model.Device
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return out, nil
}

func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.TS.IsZero() {
		t.TS = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *Store) UpdateTask(ctx context.Context, t *model.Task) error {
	res := s.db.WithContext(ctx).Model(&model.Task{ID: t.ID}).Updates(map[string]any{
		"farm_id": t.FarmID,
		"type":    t.Type,
		"cost":    t.Cost,
		"notes":   t.Notes,
		"ts":      t.TS,
	})
	if res.Error != nil {
		return fmt.Errorf("update task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var t model.Task
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&model.Task{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context, farmID string) ([]model.Task, error) {
	q := s.db.WithContext(ctx).Order("ts desc")
	if farmID != "" {
		q = q.Where("farm_id = ?", farmID)
	}
	var out []model.Task
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}
