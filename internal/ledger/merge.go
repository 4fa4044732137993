package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingIDProvider = errors.New("id provider is required")
	// ErrSameRoom indicates a merge where source and destination are the same room.
	ErrSameRoom = errors.New("ledger: cannot merge a room into itself")
)

// MergerConfig describes the dependencies of the room-merge procedure.
type MergerConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Merger consolidates two room identities' ledgers after the chat platform
// re-homes a room under a new identifier.
type Merger struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewMerger constructs the merge procedure.
func NewMerger(cfg MergerConfig) (*Merger, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Merger{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// MergeResult summarizes one completed merge.
type MergeResult struct {
	MergeID      string
	MovedCount   int64
	DroppedCount int64
}

// MergeRooms moves every ledger entry from oldRoomID to newRoomID in one
// transaction, re-applying the dedup rule at the destination: when the new
// room already holds a credit for a content item, the destination credit wins
// and the source row is dropped. Original upload instants are preserved.
// Room settings are intentionally left behind; administrators re-apply them
// to the new room.
func (m *Merger) MergeRooms(ctx context.Context, oldRoomID, newRoomID int64) (MergeResult, error) {
	if oldRoomID == 0 || newRoomID == 0 {
		return MergeResult{}, ErrInvalidRoomID
	}
	if oldRoomID == newRoomID {
		return MergeResult{}, ErrSameRoom
	}

	mergeID, err := m.idProvider.NewID()
	if err != nil {
		return MergeResult{}, err
	}

	result := MergeResult{MergeID: mergeID}
	txErr := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sourceEntries []Entry
		if err := tx.
			Where("room_id = ?", oldRoomID).
			Order("first_uploaded_at_s ASC, id ASC").
			Find(&sourceEntries).Error; err != nil {
			return err
		}

		for _, source := range sourceEntries {
			moved := Entry{
				RoomID:               newRoomID,
				ContentID:            source.ContentID,
				FirstUploaderID:      source.FirstUploaderID,
				FirstUploaderDisplay: source.FirstUploaderDisplay,
				FirstUploadedAtS:     source.FirstUploadedAtS,
			}
			insert := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "room_id"}, {Name: "content_id"}},
				DoNothing: true,
			}).Create(&moved)
			if insert.Error != nil {
				return insert.Error
			}
			if insert.RowsAffected > 0 {
				result.MovedCount++
			} else {
				result.DroppedCount++
			}
		}

		if err := tx.Where("room_id = ?", oldRoomID).Delete(&Entry{}).Error; err != nil {
			return err
		}

		record := MergeRecord{
			MergeID:      mergeID,
			OldRoomID:    oldRoomID,
			NewRoomID:    newRoomID,
			MovedCount:   result.MovedCount,
			DroppedCount: result.DroppedCount,
			MergedAtS:    m.clock().UTC().Unix(),
		}
		return tx.Create(&record).Error
	})
	if txErr != nil {
		m.logger.Error("room merge failed",
			zap.Int64("old_room_id", oldRoomID),
			zap.Int64("new_room_id", newRoomID),
			zap.Error(txErr))
		return MergeResult{}, txErr
	}

	m.logger.Info("room merged",
		zap.Int64("old_room_id", oldRoomID),
		zap.Int64("new_room_id", newRoomID),
		zap.Int64("moved", result.MovedCount),
		zap.Int64("dropped", result.DroppedCount))
	return result, nil
}
