package ledger

import (
	"errors"
	"fmt"
	"strings"
)

const maxContentIDLength = 190

var (
	// ErrInvalidRoomID indicates a zero room identifier.
	ErrInvalidRoomID = errors.New("ledger: invalid room id")
	// ErrInvalidUploaderID indicates a zero uploader identifier.
	ErrInvalidUploaderID = errors.New("ledger: invalid uploader id")
	// ErrInvalidContentID indicates a content identity token that is empty or exceeds storage bounds.
	ErrInvalidContentID = errors.New("ledger: invalid content id")
	// ErrInvalidInstant indicates a non-positive unix timestamp.
	ErrInvalidInstant = errors.New("ledger: invalid instant")
)

// ContentID is the validated, platform-issued identity token for one media
// object. It is opaque: equality is the only operation the ledger performs.
type ContentID string

// NewContentID validates raw input and returns a ContentID.
func NewContentID(rawInput string) (ContentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidContentID)
	}
	if len(trimmed) > maxContentIDLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidContentID, maxContentIDLength)
	}
	return ContentID(trimmed), nil
}

// String returns the underlying token.
func (id ContentID) String() string {
	return string(id)
}

// Entry records exactly one distinct content item ever seen in one room,
// credited to the first user who posted it. The (room_id, content_id) pair is
// unique forever; re-posts never overwrite the original credit.
type Entry struct {
	ID                   int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RoomID               int64  `gorm:"column:room_id;not null;uniqueIndex:idx_ledger_room_content,priority:1;index:idx_ledger_room_uploaded,priority:1"`
	ContentID            string `gorm:"column:content_id;size:190;not null;uniqueIndex:idx_ledger_room_content,priority:2"`
	FirstUploaderID      int64  `gorm:"column:first_uploader_id;not null"`
	FirstUploaderDisplay string `gorm:"column:first_uploader_display;size:320"`
	FirstUploadedAtS     int64  `gorm:"column:first_uploaded_at_s;not null;index:idx_ledger_room_uploaded,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "ledger_entries"
}

// Outcome reports what RecordUpload did with a candidate upload.
type Outcome string

const (
	// OutcomeInserted means the content item was new and the uploader got the credit.
	OutcomeInserted Outcome = "inserted"
	// OutcomeAlreadyPresent means the content item was already credited; nothing changed.
	OutcomeAlreadyPresent Outcome = "already_present"
)

// RankedUploader is one leaderboard row.
type RankedUploader struct {
	UploaderID int64  `gorm:"column:uploader_id"`
	Display    string `gorm:"column:display"`
	Count      int64  `gorm:"column:total"`
}

// MergeRecord is the audit trail row written by each room merge.
type MergeRecord struct {
	MergeID      string `gorm:"column:merge_id;primaryKey;size:190;not null"`
	OldRoomID    int64  `gorm:"column:old_room_id;not null;index"`
	NewRoomID    int64  `gorm:"column:new_room_id;not null;index"`
	MovedCount   int64  `gorm:"column:moved_count;not null"`
	DroppedCount int64  `gorm:"column:dropped_count;not null"`
	MergedAtS    int64  `gorm:"column:merged_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MergeRecord) TableName() string {
	return "merge_records"
}
