package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// StoreConfig describes the dependencies of the ledger store.
type StoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Store is the deduplicating upload ledger backed by the embedded store.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore constructs the ledger store.
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

// RecordRequest is a normalized candidate-upload fact. The transport shim has
// already decided the media qualifies; the ledger only applies the dedup rule.
type RecordRequest struct {
	RoomID          int64
	ContentID       ContentID
	UploaderID      int64
	UploaderDisplay string
	At              time.Time
}

func (r RecordRequest) validate() error {
	if r.RoomID == 0 {
		return ErrInvalidRoomID
	}
	if r.UploaderID == 0 {
		return ErrInvalidUploaderID
	}
	if r.ContentID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidContentID)
	}
	if r.At.IsZero() || r.At.Unix() <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInstant, r.At)
	}
	return nil
}

// RecordResult carries the outcome plus the credited entry. On
// OutcomeAlreadyPresent the entry is the existing credit, so callers can
// report who posted the item first.
type RecordResult struct {
	Outcome Outcome
	Entry   Entry
}

// RecordUpload inserts a candidate upload if its (room, content) pair has
// never been seen. The insert rides on the composite unique index with
// ON CONFLICT DO NOTHING, so under concurrent calls exactly one observes
// OutcomeInserted and the rest observe OutcomeAlreadyPresent unchanged.
func (s *Store) RecordUpload(ctx context.Context, request RecordRequest) (RecordResult, error) {
	if err := request.validate(); err != nil {
		return RecordResult{}, err
	}

	entry := Entry{
		RoomID:               request.RoomID,
		ContentID:            request.ContentID.String(),
		FirstUploaderID:      request.UploaderID,
		FirstUploaderDisplay: request.UploaderDisplay,
		FirstUploadedAtS:     request.At.Unix(),
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "content_id"}},
		DoNothing: true,
	}).Create(&entry)
	if result.Error != nil {
		s.logger.Error("ledger insert failed",
			zap.Int64("room_id", request.RoomID),
			zap.String("content_id", request.ContentID.String()),
			zap.Error(result.Error))
		return RecordResult{}, result.Error
	}

	if result.RowsAffected > 0 {
		return RecordResult{Outcome: OutcomeInserted, Entry: entry}, nil
	}

	var existing Entry
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND content_id = ?", request.RoomID, request.ContentID.String()).
		Take(&existing).Error
	if err != nil {
		return RecordResult{}, err
	}
	return RecordResult{Outcome: OutcomeAlreadyPresent, Entry: existing}, nil
}

// CountFilter restricts Count. A nil field leaves that dimension unbounded;
// Since and Until are both inclusive.
type CountFilter struct {
	UploaderID *int64
	Since      *time.Time
	Until      *time.Time
}

// Count returns the number of credited entries for a room under the filter.
func (s *Store) Count(ctx context.Context, roomID int64, filter CountFilter) (int64, error) {
	if roomID == 0 {
		return 0, ErrInvalidRoomID
	}

	query := s.db.WithContext(ctx).Model(&Entry{}).Where("room_id = ?", roomID)
	if filter.UploaderID != nil {
		query = query.Where("first_uploader_id = ?", *filter.UploaderID)
	}
	if filter.Since != nil {
		query = query.Where("first_uploaded_at_s >= ?", filter.Since.Unix())
	}
	if filter.Until != nil {
		query = query.Where("first_uploaded_at_s <= ?", filter.Until.Unix())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		s.logger.Error("ledger count failed", zap.Int64("room_id", roomID), zap.Error(err))
		return 0, err
	}
	return total, nil
}

// MaxInstant returns the most recent credited upload instant for a room. The
// boolean is false when the room has no entries.
func (s *Store) MaxInstant(ctx context.Context, roomID int64) (time.Time, bool, error) {
	if roomID == 0 {
		return time.Time{}, false, ErrInvalidRoomID
	}

	var latest sql.NullInt64
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("room_id = ?", roomID).
		Select("max(first_uploaded_at_s)").
		Scan(&latest).Error
	if err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(latest.Int64, 0).UTC(), true, nil
}

// RankTop returns up to limit uploaders ordered by credited count descending.
// Ties break on ascending uploader id so repeated queries over unchanged data
// return the same order.
func (s *Store) RankTop(ctx context.Context, roomID int64, limit int) ([]RankedUploader, error) {
	if roomID == 0 {
		return nil, ErrInvalidRoomID
	}
	if limit <= 0 {
		return []RankedUploader{}, nil
	}

	var rows []RankedUploader
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Select("first_uploader_id AS uploader_id, max(first_uploader_display) AS display, count(*) AS total").
		Where("room_id = ?", roomID).
		Group("first_uploader_id").
		Order("total DESC, first_uploader_id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		s.logger.Error("ledger rank failed", zap.Int64("room_id", roomID), zap.Error(err))
		return nil, err
	}
	return rows, nil
}

// EntriesForRoom lists every entry credited to a room, oldest first. Only the
// merge procedure reads whole rooms.
func (s *Store) EntriesForRoom(ctx context.Context, roomID int64) ([]Entry, error) {
	if roomID == 0 {
		return nil, ErrInvalidRoomID
	}

	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("first_uploaded_at_s ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteRoom removes every entry for a room. Only the merge procedure deletes.
func (s *Store) DeleteRoom(ctx context.Context, roomID int64) error {
	if roomID == 0 {
		return ErrInvalidRoomID
	}
	return s.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&Entry{}).Error
}
