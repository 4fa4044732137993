package rooms

import (
	"errors"
	"time"
)

var (
	// ErrInvalidRoomID indicates a zero room identifier.
	ErrInvalidRoomID = errors.New("rooms: invalid room id")
	// ErrAnchorNotSet indicates an operation that needs a cycle anchor before the room has one.
	ErrAnchorNotSet = errors.New("rooms: cycle anchor not set")
	// ErrInvalidBaseline indicates a negative baseline correction.
	ErrInvalidBaseline = errors.New("rooms: invalid baseline")
)

// Settings is the per-room configuration row, created lazily with defaults on
// first access and never deleted.
type Settings struct {
	RoomID          int64  `gorm:"column:room_id;primaryKey"`
	AnchorAtS       *int64 `gorm:"column:anchor_at_s"`
	CycleLengthDays int    `gorm:"column:cycle_length_days;not null;default:8"`
	RoomStartAtS    *int64 `gorm:"column:room_start_at_s"`
	BaselineTotal   int64  `gorm:"column:baseline_total;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Settings) TableName() string {
	return "room_settings"
}

// Anchor returns the cycle anchor instant; the boolean is false when unset.
func (s Settings) Anchor() (time.Time, bool) {
	if s.AnchorAtS == nil {
		return time.Time{}, false
	}
	return time.Unix(*s.AnchorAtS, 0).UTC(), true
}

// RoomStart returns the room-start instant; the boolean is false when unset.
func (s Settings) RoomStart() (time.Time, bool) {
	if s.RoomStartAtS == nil {
		return time.Time{}, false
	}
	return time.Unix(*s.RoomStartAtS, 0).UTC(), true
}
