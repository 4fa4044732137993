package rooms

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cliptally/backend/internal/cycle"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// StoreConfig describes the dependencies of the settings store.
type StoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Store persists per-room configuration. Every setter upserts: a missing row
// is created with defaults first, atomically, then the requested field is
// overwritten.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore constructs the settings store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, logger: logger}, nil
}

// ensureRow creates the defaults row when absent. ON CONFLICT DO NOTHING
// keeps concurrent first accesses from losing updates.
func ensureRow(tx *gorm.DB, roomID int64) error {
	defaults := Settings{RoomID: roomID, CycleLengthDays: cycle.DefaultLengthDays}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoNothing: true,
	}).Create(&defaults).Error
}

// Get returns the room's settings, creating the defaults row when the room
// has never been seen.
func (s *Store) Get(ctx context.Context, roomID int64) (Settings, error) {
	if roomID == 0 {
		return Settings{}, ErrInvalidRoomID
	}

	var settings Settings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureRow(tx, roomID); err != nil {
			return err
		}
		return tx.Take(&settings, "room_id = ?", roomID).Error
	})
	if err != nil {
		s.logger.Error("settings read failed", zap.Int64("room_id", roomID), zap.Error(err))
		return Settings{}, err
	}
	return settings, nil
}

// SetAnchor sets the cycle origin and length together. The anchor is the one
// setting a room cannot operate without, so it carries the length with it.
func (s *Store) SetAnchor(ctx context.Context, roomID int64, anchor time.Time, cycleLengthDays int) error {
	if roomID == 0 {
		return ErrInvalidRoomID
	}
	if err := cycle.ValidateLength(cycleLengthDays); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureRow(tx, roomID); err != nil {
			return err
		}
		return tx.Model(&Settings{}).
			Where("room_id = ?", roomID).
			Updates(map[string]interface{}{
				"anchor_at_s":       anchor.Unix(),
				"cycle_length_days": cycleLengthDays,
			}).Error
	})
}

// SetCycleLength changes the length of an already-anchored room. A length
// without an anchor is meaningless, so it fails with ErrAnchorNotSet before
// writing anything.
func (s *Store) SetCycleLength(ctx context.Context, roomID int64, cycleLengthDays int) error {
	if roomID == 0 {
		return ErrInvalidRoomID
	}
	if err := cycle.ValidateLength(cycleLengthDays); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureRow(tx, roomID); err != nil {
			return err
		}
		var settings Settings
		if err := tx.Take(&settings, "room_id = ?", roomID).Error; err != nil {
			return err
		}
		if settings.AnchorAtS == nil {
			return ErrAnchorNotSet
		}
		return tx.Model(&Settings{}).
			Where("room_id = ?", roomID).
			Update("cycle_length_days", cycleLengthDays).Error
	})
}

// SetRoomStart marks when the room's subject matter began, independent of the
// cycle anchor.
func (s *Store) SetRoomStart(ctx context.Context, roomID int64, start time.Time) error {
	if roomID == 0 {
		return ErrInvalidRoomID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureRow(tx, roomID); err != nil {
			return err
		}
		return tx.Model(&Settings{}).
			Where("room_id = ?", roomID).
			Update("room_start_at_s", start.Unix()).Error
	})
}

// SetBaseline records the manual correction for uploads that predate the
// ledger.
func (s *Store) SetBaseline(ctx context.Context, roomID int64, baseline int64) error {
	if roomID == 0 {
		return ErrInvalidRoomID
	}
	if baseline < 0 {
		return ErrInvalidBaseline
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureRow(tx, roomID); err != nil {
			return err
		}
		return tx.Model(&Settings{}).
			Where("room_id = ?", roomID).
			Update("baseline_total", baseline).Error
	})
}
