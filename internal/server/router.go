package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cliptally/backend/internal/clock"
	"github.com/cliptally/backend/internal/cycle"
	"github.com/cliptally/backend/internal/ledger"
	"github.com/cliptally/backend/internal/rooms"
	"github.com/cliptally/backend/internal/stats"
)

const shimSubjectContextKey = "cliptally_shim_subject"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingLedgerStore   = errors.New("ledger store dependency required")
	errMissingMerger        = errors.New("merger dependency required")
	errMissingStatsService  = errors.New("stats service dependency required")
	errMissingSettingsStore = errors.New("settings store dependency required")
	errMissingClock         = errors.New("clock dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// ShimTokenManager validates the bearer tokens presented by the transport shim.
type ShimTokenManager interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the accounting core.
type Dependencies struct {
	TokenManager ShimTokenManager
	Ledger       *ledger.Store
	Merger       *ledger.Merger
	Stats        *stats.Service
	Settings     *rooms.Store
	Clock        *clock.Clock
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router for the accounting API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Ledger == nil {
		return nil, errMissingLedgerStore
	}
	if deps.Merger == nil {
		return nil, errMissingMerger
	}
	if deps.Stats == nil {
		return nil, errMissingStatsService
	}
	if deps.Settings == nil {
		return nil, errMissingSettingsStore
	}
	if deps.Clock == nil {
		return nil, errMissingClock
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.TokenManager,
		ledger:   deps.Ledger,
		merger:   deps.Merger,
		stats:    deps.Stats,
		settings: deps.Settings,
		clock:    deps.Clock,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/uploads", handler.handleRecordUpload)
	protected.GET("/rooms/:room_id/counts/lifetime", handler.handleLifetimeCount)
	protected.GET("/rooms/:room_id/counts/cycle", handler.handleCycleCount)
	protected.GET("/rooms/:room_id/counts/total", handler.handleRoomTotal)
	protected.GET("/rooms/:room_id/leaderboard", handler.handleLeaderboard)
	protected.GET("/rooms/:room_id/last-upload", handler.handleLastUpload)
	protected.GET("/rooms/:room_id/cycle", handler.handleCycleWindow)
	protected.PUT("/rooms/:room_id/settings/anchor", handler.handleSetAnchor)
	protected.PUT("/rooms/:room_id/settings/cycle-length", handler.handleSetCycleLength)
	protected.PUT("/rooms/:room_id/settings/room-start", handler.handleSetRoomStart)
	protected.PUT("/rooms/:room_id/settings/baseline", handler.handleSetBaseline)
	protected.POST("/rooms/merge", handler.handleMergeRooms)

	return router, nil
}

type httpHandler struct {
	tokens   ShimTokenManager
	ledger   *ledger.Store
	merger   *ledger.Merger
	stats    *stats.Service
	settings *rooms.Store
	clock    *clock.Clock
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("shim token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(shimSubjectContextKey, subject)
	c.Next()
}

// roomIDParam parses the :room_id path segment. Chat-platform room ids are
// signed 64-bit and may be negative.
func roomIDParam(c *gin.Context) (int64, bool) {
	roomID, err := strconv.ParseInt(c.Param("room_id"), 10, 64)
	if err != nil || roomID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room_id"})
		return 0, false
	}
	return roomID, true
}

// uploaderIDQuery parses the optional uploader_id query parameter.
func uploaderIDQuery(c *gin.Context) (*int64, bool) {
	raw := strings.TrimSpace(c.Query("uploader_id"))
	if raw == "" {
		return nil, true
	}
	uploaderID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || uploaderID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_uploader_id"})
		return nil, false
	}
	return &uploaderID, true
}

// renderServiceError maps core errors onto stable HTTP responses: validation
// failures are 400, missing configuration is 409 with a guidance code, and
// anything else is a 500 scoped to the single operation.
func (h *httpHandler) renderServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidRoomID),
		errors.Is(err, ledger.ErrInvalidUploaderID),
		errors.Is(err, ledger.ErrInvalidContentID),
		errors.Is(err, ledger.ErrInvalidInstant),
		errors.Is(err, ledger.ErrSameRoom),
		errors.Is(err, rooms.ErrInvalidRoomID),
		errors.Is(err, rooms.ErrInvalidBaseline),
		errors.Is(err, cycle.ErrInvalidLength),
		errors.Is(err, clock.ErrInvalidCivilDate):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
	case errors.Is(err, rooms.ErrAnchorNotSet):
		c.JSON(http.StatusConflict, gin.H{"error": "anchor_not_set"})
	default:
		var serviceErr *stats.ServiceError
		if errors.As(err, &serviceErr) && strings.HasSuffix(serviceErr.Code(), "room_start_not_set") {
			c.JSON(http.StatusConflict, gin.H{"error": "room_start_not_set"})
			return
		}
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
	}
}

type recordUploadPayload struct {
	RoomID          int64  `json:"room_id"`
	ContentID       string `json:"content_id"`
	UploaderID      int64  `json:"uploader_id"`
	UploaderDisplay string `json:"uploader_display"`
	UploadedAtS     int64  `json:"uploaded_at_s"`
}

type recordUploadResponse struct {
	Outcome            string `json:"outcome"`
	RoomID             int64  `json:"room_id"`
	ContentID          string `json:"content_id"`
	CreditedUploaderID int64  `json:"credited_uploader_id"`
	CreditedDisplay    string `json:"credited_display,omitempty"`
	FirstUploadedAtS   int64  `json:"first_uploaded_at_s"`
}

func (h *httpHandler) handleRecordUpload(c *gin.Context) {
	var request recordUploadPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	contentID, err := ledger.NewContentID(request.ContentID)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}

	at := time.Unix(request.UploadedAtS, 0).UTC()
	if request.UploadedAtS <= 0 {
		at = h.clock.Now()
	}

	result, err := h.ledger.RecordUpload(c.Request.Context(), ledger.RecordRequest{
		RoomID:          request.RoomID,
		ContentID:       contentID,
		UploaderID:      request.UploaderID,
		UploaderDisplay: strings.TrimSpace(request.UploaderDisplay),
		At:              at,
	})
	if err != nil {
		h.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, recordUploadResponse{
		Outcome:            string(result.Outcome),
		RoomID:             result.Entry.RoomID,
		ContentID:          result.Entry.ContentID,
		CreditedUploaderID: result.Entry.FirstUploaderID,
		CreditedDisplay:    result.Entry.FirstUploaderDisplay,
		FirstUploadedAtS:   result.Entry.FirstUploadedAtS,
	})
}

type countResponse struct {
	RoomID     int64  `json:"room_id"`
	UploaderID *int64 `json:"uploader_id,omitempty"`
	Count      int64  `json:"count"`
}

func (h *httpHandler) handleLifetimeCount(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	uploaderID, ok := uploaderIDQuery(c)
	if !ok {
		return
	}

	total, err := h.stats.LifetimeCount(c.Request.Context(), roomID, uploaderID)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, countResponse{RoomID: roomID, UploaderID: uploaderID, Count: total})
}

type cycleWindowPayload struct {
	StartS        int64  `json:"start_s"`
	EndS          int64  `json:"end_s"`
	LastIncludedS int64  `json:"last_included_s"`
	Start         string `json:"start"`
	LastIncluded  string `json:"last_included"`
}

func (h *httpHandler) renderCycleWindow(window cycle.Window) cycleWindowPayload {
	return cycleWindowPayload{
		StartS:        window.Start.Unix(),
		EndS:          window.End.Unix(),
		LastIncludedS: window.LastIncluded().Unix(),
		Start:         h.clock.Format(window.Start),
		LastIncluded:  h.clock.Format(window.LastIncluded()),
	}
}

type cycleCountResponse struct {
	RoomID     int64              `json:"room_id"`
	UploaderID *int64             `json:"uploader_id,omitempty"`
	Count      int64              `json:"count"`
	Cycle      cycleWindowPayload `json:"cycle"`
}

func (h *httpHandler) handleCycleCount(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	uploaderID, ok := uploaderIDQuery(c)
	if !ok {
		return
	}

	window, err := h.stats.CycleWindow(c.Request.Context(), roomID)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}
	total, err := h.stats.CycleCount(c.Request.Context(), roomID, uploaderID)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, cycleCountResponse{
		RoomID:     roomID,
		UploaderID: uploaderID,
		Count:      total,
		Cycle:      h.renderCycleWindow(window),
	})
}

func (h *httpHandler) handleCycleWindow(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	window, err := h.stats.CycleWindow(c.Request.Context(), roomID)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "cycle": h.renderCycleWindow(window)})
}

func (h *httpHandler) handleRoomTotal(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	total, err := h.stats.RoomTotal(c.Request.Context(), roomID)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "total": total})
}

type leaderboardEntryPayload struct {
	UploaderID int64  `json:"uploader_id"`
	Display    string `json:"display,omitempty"`
	Count      int64  `json:"count"`
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	rows, err := h.stats.Leaderboard(c.Request.Context(), roomID, limit)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}

	entries := make([]leaderboardEntryPayload, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, leaderboardEntryPayload{
			UploaderID: row.UploaderID,
			Display:    row.Display,
			Count:      row.Count,
		})
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "entries": entries})
}

func (h *httpHandler) handleLastUpload(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	latest, hasUploads, err := h.stats.LastUpload(c.Request.Context(), roomID)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}
	if !hasUploads {
		c.JSON(http.StatusOK, gin.H{"room_id": roomID, "has_uploads": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room_id":       roomID,
		"has_uploads":   true,
		"uploaded_at_s": latest.Unix(),
		"uploaded_at":   h.clock.Format(latest),
	})
}

type setAnchorPayload struct {
	Date            string `json:"date"`
	CycleLengthDays int    `json:"cycle_length_days"`
}

func (h *httpHandler) handleSetAnchor(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	var request setAnchorPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	anchor, err := h.clock.ParseCivilDate(request.Date)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}
	lengthDays := request.CycleLengthDays
	if lengthDays == 0 {
		lengthDays = cycle.DefaultLengthDays
	}

	if err := h.settings.SetAnchor(c.Request.Context(), roomID, anchor, lengthDays); err != nil {
		h.renderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room_id":           roomID,
		"anchor":            h.clock.FormatDate(anchor),
		"cycle_length_days": lengthDays,
	})
}

type setCycleLengthPayload struct {
	Days int `json:"days"`
}

func (h *httpHandler) handleSetCycleLength(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	var request setCycleLengthPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.settings.SetCycleLength(c.Request.Context(), roomID, request.Days); err != nil {
		h.renderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "cycle_length_days": request.Days})
}

type setRoomStartPayload struct {
	Date string `json:"date"`
}

func (h *httpHandler) handleSetRoomStart(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	var request setRoomStartPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	start, err := h.clock.ParseCivilDate(request.Date)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}

	if err := h.settings.SetRoomStart(c.Request.Context(), roomID, start); err != nil {
		h.renderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "room_start": h.clock.FormatDate(start)})
}

type setBaselinePayload struct {
	Total int64 `json:"total"`
}

func (h *httpHandler) handleSetBaseline(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	var request setBaselinePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.settings.SetBaseline(c.Request.Context(), roomID, request.Total); err != nil {
		h.renderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "baseline_total": request.Total})
}

type mergeRoomsPayload struct {
	OldRoomID int64 `json:"old_room_id"`
	NewRoomID int64 `json:"new_room_id"`
}

func (h *httpHandler) handleMergeRooms(c *gin.Context) {
	var request mergeRoomsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.merger.MergeRooms(c.Request.Context(), request.OldRoomID, request.NewRoomID)
	if err != nil {
		h.renderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"merge_id":    result.MergeID,
		"old_room_id": request.OldRoomID,
		"new_room_id": request.NewRoomID,
		"moved":       result.MovedCount,
		"dropped":     result.DroppedCount,
	})
}
