package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestMerger(t *testing.T, store *Store, ids []string) *Merger {
	t.Helper()
	merger, err := NewMerger(MergerConfig{
		Database:   store.db,
		Clock:      func() time.Time { return time.Unix(1800000000, 0).UTC() },
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to construct merger: %v", err)
	}
	return merger
}

func TestMergeRoomsMovesEntriesAndPreservesInstants(t *testing.T) {
	store, db := newTestStore(t)
	merger := newTestMerger(t, store, []string{"merge-1"})
	ctx := context.Background()

	seed := []RecordRequest{
		{RoomID: 100, ContentID: "c1", UploaderID: 1, UploaderDisplay: "ami", At: uploadAt(1000)},
		{RoomID: 100, ContentID: "c2", UploaderID: 2, UploaderDisplay: "ben", At: uploadAt(2000)},
		{RoomID: 100, ContentID: "c3", UploaderID: 1, UploaderDisplay: "ami", At: uploadAt(3000)},
	}
	for _, request := range seed {
		if _, err := store.RecordUpload(ctx, request); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	result, err := merger.MergeRooms(ctx, 100, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MovedCount != 3 || result.DroppedCount != 0 {
		t.Fatalf("unexpected merge result: %+v", result)
	}
	if result.MergeID != "merge-1" {
		t.Fatalf("unexpected merge id: %s", result.MergeID)
	}

	oldCount, err := store.Count(ctx, 100, CountFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oldCount != 0 {
		t.Fatalf("source room must be empty after merge, got %d", oldCount)
	}

	entries, err := store.EntriesForRoom(ctx, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries at destination, got %d", len(entries))
	}
	if entries[0].FirstUploadedAtS != 1000 || entries[2].FirstUploadedAtS != 3000 {
		t.Fatalf("original instants must be preserved: %+v", entries)
	}
	if entries[0].FirstUploaderID != 1 || entries[0].FirstUploaderDisplay != "ami" {
		t.Fatalf("original credit must be preserved: %+v", entries[0])
	}

	var record MergeRecord
	if err := db.Take(&record, "merge_id = ?", "merge-1").Error; err != nil {
		t.Fatalf("expected merge audit record: %v", err)
	}
	if record.OldRoomID != 100 || record.NewRoomID != 500 || record.MovedCount != 3 {
		t.Fatalf("unexpected audit record: %+v", record)
	}
	if record.MergedAtS != 1800000000 {
		t.Fatalf("audit record must use the merge clock, got %d", record.MergedAtS)
	}
}

func TestMergeRoomsDestinationCreditWinsOnOverlap(t *testing.T) {
	store, _ := newTestStore(t)
	merger := newTestMerger(t, store, []string{"merge-1"})
	ctx := context.Background()

	seed := []RecordRequest{
		// Same content independently uploaded in both rooms before the merge.
		{RoomID: 100, ContentID: "shared", UploaderID: 1, UploaderDisplay: "ami", At: uploadAt(1000)},
		{RoomID: 500, ContentID: "shared", UploaderID: 9, UploaderDisplay: "zoe", At: uploadAt(5000)},
		{RoomID: 100, ContentID: "only-old", UploaderID: 2, At: uploadAt(2000)},
		{RoomID: 500, ContentID: "only-new", UploaderID: 9, At: uploadAt(6000)},
	}
	for _, request := range seed {
		if _, err := store.RecordUpload(ctx, request); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	result, err := merger.MergeRooms(ctx, 100, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MovedCount != 1 || result.DroppedCount != 1 {
		t.Fatalf("expected moved=1 dropped=1, got %+v", result)
	}

	// Conservation: 2 + 2 - 1 overlap = 3.
	total, err := store.Count(ctx, 500, CountFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 entries after merge, got %d", total)
	}

	shared, err := store.RecordUpload(ctx, RecordRequest{
		RoomID: 500, ContentID: "shared", UploaderID: 4, At: uploadAt(9000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shared.Entry.FirstUploaderID != 9 {
		t.Fatalf("destination credit must win the overlap, got uploader %d", shared.Entry.FirstUploaderID)
	}
}

func TestMergeRoomsEmptySource(t *testing.T) {
	store, _ := newTestStore(t)
	merger := newTestMerger(t, store, []string{"merge-1"})
	ctx := context.Background()

	result, err := merger.MergeRooms(ctx, 100, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MovedCount != 0 || result.DroppedCount != 0 {
		t.Fatalf("unexpected result for empty source: %+v", result)
	}
}

func TestMergeRoomsRejectsSameRoom(t *testing.T) {
	store, _ := newTestStore(t)
	merger := newTestMerger(t, store, []string{"merge-1"})

	if _, err := merger.MergeRooms(context.Background(), 100, 100); !errors.Is(err, ErrSameRoom) {
		t.Fatalf("expected ErrSameRoom, got %v", err)
	}
}

func TestMergeRoomsFailsWhenIDProviderFails(t *testing.T) {
	store, _ := newTestStore(t)
	merger := newTestMerger(t, store, nil)
	ctx := context.Background()

	if _, err := store.RecordUpload(ctx, RecordRequest{RoomID: 100, ContentID: "c1", UploaderID: 1, At: uploadAt(1000)}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, err := merger.MergeRooms(ctx, 100, 500); err == nil {
		t.Fatalf("expected error from exhausted id provider")
	}

	// The ledger must be untouched when the merge cannot start.
	total, err := store.Count(ctx, 100, CountFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Fatalf("source room must be unchanged, got %d", total)
	}
}
