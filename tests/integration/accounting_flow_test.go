package integration_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cliptally/backend/internal/auth"
	"github.com/cliptally/backend/internal/clock"
	"github.com/cliptally/backend/internal/database"
	"github.com/cliptally/backend/internal/ledger"
	"github.com/cliptally/backend/internal/rooms"
	"github.com/cliptally/backend/internal/server"
	"github.com/cliptally/backend/internal/stats"
)

const (
	shimSigningSecret = "integration-secret"
	shimIssuer        = "cliptally-api"
	shimAudience      = "cliptally-shim"
	jsonContentType   = "application/json"
)

// TestAccountingFlow exercises the full path a shim deployment takes: mint a
// credential, record uploads, configure the room, query aggregates, merge.
func TestAccountingFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2025, time.August, 20, 12, 0, 0, 0, time.UTC)
	logger := zap.NewNop()

	databasePath := filepath.Join(testContext.TempDir(), "integration.db")
	db, err := database.OpenSQLite(databasePath, logger)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	appClock, err := clock.New(clock.Config{Timezone: "Asia/Seoul", Now: func() time.Time { return now }})
	if err != nil {
		testContext.Fatalf("failed to construct clock: %v", err)
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(shimSigningSecret),
		Issuer:        shimIssuer,
		Audience:      shimAudience,
		Clock:         func() time.Time { return now },
	})

	ledgerStore, err := ledger.NewStore(ledger.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to construct ledger store: %v", err)
	}
	merger, err := ledger.NewMerger(ledger.MergerConfig{
		Database:   db,
		Clock:      func() time.Time { return now },
		IDProvider: ledger.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		testContext.Fatalf("failed to construct merger: %v", err)
	}
	settingsStore, err := rooms.NewStore(rooms.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to construct settings store: %v", err)
	}
	statsService, err := stats.NewService(stats.ServiceConfig{
		Ledger:   ledgerStore,
		Settings: settingsStore,
		Clock:    func() time.Time { return now },
		Logger:   logger,
	})
	if err != nil {
		testContext.Fatalf("failed to construct stats service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Ledger:       ledgerStore,
		Merger:       merger,
		Stats:        statsService,
		Settings:     settingsStore,
		Clock:        appClock,
		Logger:       logger,
	})
	if err != nil {
		testContext.Fatalf("failed to construct handler: %v", err)
	}

	token, _, err := tokenManager.IssueShimToken("relay-1")
	if err != nil {
		testContext.Fatalf("failed to issue token: %v", err)
	}

	call := func(method, path, body string) *httptest.ResponseRecorder {
		request := httptest.NewRequest(method, path, strings.NewReader(body))
		if body != "" {
			request.Header.Set("Content-Type", jsonContentType)
		}
		request.Header.Set("Authorization", "Bearer "+token)
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		return recorder
	}

	decode := func(recorder *httptest.ResponseRecorder) map[string]any {
		var decoded map[string]any
		if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
			testContext.Fatalf("failed to decode %q: %v", recorder.Body.String(), err)
		}
		return decoded
	}

	// Configure the room: anchor 2025-08-08 (Seoul), 8-day cycles,
	// room start 2025-01-01 with a baseline of 5 pre-ledger uploads.
	if recorder := call(http.MethodPut, "/rooms/100/settings/anchor",
		`{"date":"2025-08-08","cycle_length_days":8}`); recorder.Code != http.StatusOK {
		testContext.Fatalf("set anchor failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if recorder := call(http.MethodPut, "/rooms/100/settings/room-start",
		`{"date":"2025-01-01"}`); recorder.Code != http.StatusOK {
		testContext.Fatalf("set room start failed: %d", recorder.Code)
	}
	if recorder := call(http.MethodPut, "/rooms/100/settings/baseline",
		`{"total":5}`); recorder.Code != http.StatusOK {
		testContext.Fatalf("set baseline failed: %d", recorder.Code)
	}

	// Record uploads; one is inside the current cycle, one is a duplicate.
	inCycle := now.Add(-24 * time.Hour).Unix()
	older := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC).Unix()
	uploads := []struct {
		body            string
		expectedOutcome string
	}{
		{`{"room_id":100,"content_id":"clip-1","uploader_id":7,"uploader_display":"ami","uploaded_at_s":` + itoa(inCycle) + `}`, "inserted"},
		{`{"room_id":100,"content_id":"clip-2","uploader_id":8,"uploader_display":"ben","uploaded_at_s":` + itoa(older) + `}`, "inserted"},
		{`{"room_id":100,"content_id":"clip-1","uploader_id":8,"uploader_display":"ben","uploaded_at_s":` + itoa(inCycle+60) + `}`, "already_present"},
	}
	for _, upload := range uploads {
		recorder := call(http.MethodPost, "/uploads", upload.body)
		if recorder.Code != http.StatusOK {
			testContext.Fatalf("upload failed: %d %s", recorder.Code, recorder.Body.String())
		}
		if decoded := decode(recorder); decoded["outcome"] != upload.expectedOutcome {
			testContext.Fatalf("expected %s, got %v", upload.expectedOutcome, decoded["outcome"])
		}
	}

	// Aggregates: total = baseline 5 + 2 credited entries; cycle holds 1.
	recorder := call(http.MethodGet, "/rooms/100/counts/total", "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("room total failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if decoded := decode(recorder); decoded["total"].(float64) != 7 {
		testContext.Fatalf("expected total 7, got %v", decoded["total"])
	}

	recorder = call(http.MethodGet, "/rooms/100/counts/cycle", "")
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("cycle count failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if decoded := decode(recorder); decoded["count"].(float64) != 1 {
		testContext.Fatalf("expected 1 upload in cycle, got %v", decoded["count"])
	}

	// The platform re-homes the room; everything must follow the new id.
	recorder = call(http.MethodPost, "/rooms/merge", `{"old_room_id":100,"new_room_id":900}`)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("merge failed: %d %s", recorder.Code, recorder.Body.String())
	}
	if decoded := decode(recorder); decoded["moved"].(float64) != 2 {
		testContext.Fatalf("expected 2 moved entries, got %v", decoded["moved"])
	}

	recorder = call(http.MethodGet, "/rooms/900/counts/lifetime", "")
	if decoded := decode(recorder); decoded["count"].(float64) != 2 {
		testContext.Fatalf("expected 2 entries at destination, got %v", decoded["count"])
	}
	recorder = call(http.MethodGet, "/rooms/100/counts/lifetime", "")
	if decoded := decode(recorder); decoded["count"].(float64) != 0 {
		testContext.Fatalf("expected empty source room, got %v", decoded["count"])
	}

	// Settings stay behind on merge; the new room needs re-configuration.
	recorder = call(http.MethodGet, "/rooms/900/counts/cycle", "")
	if recorder.Code != http.StatusConflict {
		testContext.Fatalf("expected anchor guidance for new room, got %d", recorder.Code)
	}
}

func itoa(value int64) string {
	return strconv.FormatInt(value, 10)
}
