// Package stats composes ledger counts with room settings and the cycle
// calculator into the aggregate queries the transport shim renders.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cliptally/backend/internal/cycle"
	"github.com/cliptally/backend/internal/ledger"
	"github.com/cliptally/backend/internal/rooms"
)

var (
	errMissingLedger   = errors.New("ledger store is required")
	errMissingSettings = errors.New("settings store is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable operation.reason code the HTTP layer maps to
// guidance messages.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "stats.service.new"
	opCycleWindow   = "stats.cycle_window"
	opCycleCount    = "stats.cycle_count"
	opLifetimeCount = "stats.lifetime_count"
	opRoomTotal     = "stats.room_total"
	opLeaderboard   = "stats.leaderboard"
	opLastUpload    = "stats.last_upload"
)

const defaultLeaderboardSize = 10

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the aggregation service.
type ServiceConfig struct {
	Ledger   *ledger.Store
	Settings *rooms.Store
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service answers the aggregate queries over the upload ledger.
type Service struct {
	ledger   *ledger.Store
	settings *rooms.Store
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService constructs the aggregation service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Ledger == nil {
		return nil, newServiceError(opServiceNew, "missing_ledger", errMissingLedger)
	}
	if cfg.Settings == nil {
		return nil, newServiceError(opServiceNew, "missing_settings", errMissingSettings)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{ledger: cfg.Ledger, settings: cfg.Settings, clock: clock, logger: logger}, nil
}

// CycleWindow resolves the room's current cycle. Fails with an
// anchor_not_set code when the room has never been anchored; a missing
// anchor is a configuration gap the caller must surface, never a default.
func (s *Service) CycleWindow(ctx context.Context, roomID int64) (cycle.Window, error) {
	return s.cycleWindow(ctx, opCycleWindow, roomID)
}

func (s *Service) cycleWindow(ctx context.Context, operation string, roomID int64) (cycle.Window, error) {
	settings, err := s.settings.Get(ctx, roomID)
	if err != nil {
		return cycle.Window{}, newServiceError(operation, "settings_read_failed", err)
	}
	anchor, ok := settings.Anchor()
	if !ok {
		return cycle.Window{}, newServiceError(operation, "anchor_not_set", rooms.ErrAnchorNotSet)
	}
	window, err := cycle.Current(anchor, settings.CycleLengthDays, s.clock())
	if err != nil {
		s.logger.Error("cycle computation failed", zap.Int64("room_id", roomID), zap.Error(err))
		return cycle.Window{}, newServiceError(operation, "cycle_failed", err)
	}
	return window, nil
}

// CycleCount counts credited uploads inside the room's current cycle,
// optionally for a single uploader.
func (s *Service) CycleCount(ctx context.Context, roomID int64, uploaderID *int64) (int64, error) {
	window, err := s.cycleWindow(ctx, opCycleCount, roomID)
	if err != nil {
		return 0, err
	}

	// Count treats bounds as inclusive; the window end is exclusive.
	lastIncluded := window.LastIncluded()
	total, err := s.ledger.Count(ctx, roomID, ledger.CountFilter{
		UploaderID: uploaderID,
		Since:      &window.Start,
		Until:      &lastIncluded,
	})
	if err != nil {
		return 0, newServiceError(opCycleCount, "count_failed", err)
	}
	return total, nil
}

// LifetimeCount counts all credited uploads for the room, optionally for a
// single uploader.
func (s *Service) LifetimeCount(ctx context.Context, roomID int64, uploaderID *int64) (int64, error) {
	total, err := s.ledger.Count(ctx, roomID, ledger.CountFilter{UploaderID: uploaderID})
	if err != nil {
		return 0, newServiceError(opLifetimeCount, "count_failed", err)
	}
	return total, nil
}

// RoomTotal returns the baseline-adjusted lifetime count: the manual baseline
// plus every entry at or after the room-start instant. Fails with a
// room_start_not_set code when the start has never been configured.
func (s *Service) RoomTotal(ctx context.Context, roomID int64) (int64, error) {
	settings, err := s.settings.Get(ctx, roomID)
	if err != nil {
		return 0, newServiceError(opRoomTotal, "settings_read_failed", err)
	}
	start, ok := settings.RoomStart()
	if !ok {
		return 0, newServiceError(opRoomTotal, "room_start_not_set", errors.New("room start instant required"))
	}

	counted, err := s.ledger.Count(ctx, roomID, ledger.CountFilter{Since: &start})
	if err != nil {
		return 0, newServiceError(opRoomTotal, "count_failed", err)
	}
	return settings.BaselineTotal + counted, nil
}

// Leaderboard returns up to limit ranked uploaders; limit <= 0 uses the
// default of 10.
func (s *Service) Leaderboard(ctx context.Context, roomID int64, limit int) ([]ledger.RankedUploader, error) {
	if limit <= 0 {
		limit = defaultLeaderboardSize
	}
	rows, err := s.ledger.RankTop(ctx, roomID, limit)
	if err != nil {
		return nil, newServiceError(opLeaderboard, "rank_failed", err)
	}
	return rows, nil
}

// LastUpload returns the most recent credited upload instant; the boolean is
// false when the room has no entries.
func (s *Service) LastUpload(ctx context.Context, roomID int64) (time.Time, bool, error) {
	latest, ok, err := s.ledger.MaxInstant(ctx, roomID)
	if err != nil {
		return time.Time{}, false, newServiceError(opLastUpload, "query_failed", err)
	}
	return latest, ok, nil
}
