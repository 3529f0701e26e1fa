package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"plaza-service/internal/config"
	"plaza-service/internal/domain/detection"
	"plaza-service/internal/domain/passage"
	"plaza-service/internal/service"
)

type Handler struct {
	fetch      *service.FetchService
	detections *service.DetectionService
	passages   *service.PassageService
	gates      *service.GateService
	config     *config.Config
	log        zerolog.Logger
}

func NewHandler(
	fetch *service.FetchService,
	detections *service.DetectionService,
	passages *service.PassageService,
	gates *service.GateService,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		fetch:      fetch,
		detections: detections,
		passages:   passages,
		gates:      gates,
		config:     cfg,
		log:        log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Camera push endpoint, guarded by the shared webhook token.
	r.POST("/api/v1/detections/webhook", WebhookAuth(h.config.Camera.WebhookToken), h.ingestDetection)

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/detections/fetch", h.fetchDetections)
		protected.POST("/detections/quick-capture", h.quickCapture)
		protected.GET("/detections/queue/vehicle-type", h.vehicleTypeQueue)
		protected.GET("/detections/queue/exit", h.exitQueue)
		protected.POST("/detections/events/:id/classify", h.classifyVehicle)
		protected.POST("/detections/events/:id/confirm-exit", h.confirmExit)
		protected.GET("/detections/stats", h.detectionStats)

		protected.POST("/passages/entry", h.passageEntry)
		protected.POST("/passages/exit", h.passageExit)
		protected.GET("/passages/exit/preview", h.previewExit)
		protected.GET("/passages/active", h.listActivePassages)
		protected.GET("/passages/by-number/:number", h.getPassage)

		protected.POST("/gates/select", h.selectGate)
		protected.POST("/gates/deselect", h.deselectGate)
		protected.GET("/gates/available", h.availableGates)
		protected.GET("/gates/current", h.currentGates)
	}
}

func (h *Handler) ingestDetection(c *gin.Context) {
	var payload detection.EventPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if payload.DetectedAt.IsZero() {
		payload.DetectedAt = time.Now()
	}

	stored, err := h.fetch.Ingest(c.Request.Context(), payload)
	if err != nil {
		h.handleError(c, err)
		return
	}
	status := http.StatusCreated
	if !stored {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"stored": stored})
}

func (h *Handler) fetchDetections(c *gin.Context) {
	var since *time.Time
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid since time format"))
			return
		}
		since = &t
	}

	result, err := h.fetch.FetchAndStore(c.Request.Context(), since)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if result.SourceUnavailable {
		c.JSON(http.StatusServiceUnavailable, successResponse(result))
		return
	}
	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) quickCapture(c *gin.Context) {
	result, err := h.fetch.QuickCapture(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	if result.SourceUnavailable {
		c.JSON(http.StatusServiceUnavailable, successResponse(result))
		return
	}
	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) vehicleTypeQueue(c *gin.Context) {
	items, err := h.detections.VehicleTypeQueue(c.Request.Context(), operatorID(c), isAdmin(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(items))
}

func (h *Handler) exitQueue(c *gin.Context) {
	items, err := h.detections.ExitQueue(c.Request.Context(), operatorID(c), isAdmin(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(items))
}

type classifyRequest struct {
	BodyTypeID int64 `json:"body_type_id" binding:"required"`
}

func (h *Handler) classifyVehicle(c *gin.Context) {
	eventID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid event id"))
		return
	}
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.detections.ClassifyVehicle(c.Request.Context(), eventID, req.BodyTypeID, operatorID(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) confirmExit(c *gin.Context) {
	eventID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid event id"))
		return
	}
	// Body is optional on confirm; defaults apply when absent.
	var opts passage.ExitOptions
	_ = c.ShouldBindJSON(&opts)

	result, err := h.detections.ConfirmExit(c.Request.Context(), eventID, operatorID(c), opts)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) detectionStats(c *gin.Context) {
	stats, err := h.detections.Stats(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(stats))
}

type entryRequest struct {
	Plate  string               `json:"plate" binding:"required"`
	GateID int64                `json:"gate_id" binding:"required"`
	passage.EntryOptions
}

func (h *Handler) passageEntry(c *gin.Context) {
	var req entryRequest
	if err := bindStrict(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.passages.ProcessEntry(c.Request.Context(), req.Plate, req.GateID, operatorID(c), req.EntryOptions)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type exitRequest struct {
	Plate  string              `json:"plate" binding:"required"`
	GateID int64               `json:"gate_id" binding:"required"`
	passage.ExitOptions
}

func (h *Handler) passageExit(c *gin.Context) {
	var req exitRequest
	if err := bindStrict(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.passages.ProcessExit(c.Request.Context(), req.Plate, req.GateID, operatorID(c), req.ExitOptions)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) previewExit(c *gin.Context) {
	plate := strings.TrimSpace(c.Query("plate"))
	if plate == "" {
		c.JSON(http.StatusBadRequest, errorResponse("plate parameter is required"))
		return
	}

	result, err := h.passages.PreviewExit(c.Request.Context(), plate)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listActivePassages(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	passages, err := h.passages.ListActive(c.Request.Context(), limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(passages))
}

func (h *Handler) getPassage(c *gin.Context) {
	p, err := h.passages.GetByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(p))
}

type selectGateRequest struct {
	StationID int64 `json:"station_id" binding:"required"`
	GateID    int64 `json:"gate_id" binding:"required"`
}

func (h *Handler) selectGate(c *gin.Context) {
	var req selectGateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	res, err := h.gates.SelectGate(c.Request.Context(), operatorID(c), req.StationID, req.GateID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if !res.Selected {
		c.JSON(http.StatusConflict, gin.H{"selected": false, "error": res.Reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected": true})
}

func (h *Handler) deselectGate(c *gin.Context) {
	ok, err := h.gates.DeselectGate(c.Request.Context(), operatorID(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deselected": ok})
}

func (h *Handler) availableGates(c *gin.Context) {
	gates, err := h.gates.ListAvailableGates(c.Request.Context(), operatorID(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gates))
}

func (h *Handler) currentGates(c *gin.Context) {
	holdings, err := h.gates.CurrentGates(c.Request.Context(), operatorID(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(holdings))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, service.ErrUpstreamUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
