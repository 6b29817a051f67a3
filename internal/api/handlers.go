package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/attendance"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/auth"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/bridge"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/identity"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/queue"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/scan"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/station"
)

const maxListenTimeout = 5 * time.Minute

type handlers struct {
	deps Deps
}

func (h *handlers) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.deps.Checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	body["listeners"] = h.deps.Hub.Len()
	c.JSON(status, body)
}

// registerDevice is unauthenticated and only ever issues device tokens.
func (h *handlers) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
		Name     string `json:"name"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Role == auth.RoleOperator {
		writeError(c, http.StatusForbidden, "forbidden", "operators register through /v1/operators/register")
		return
	}
	h.register(c, req.DeviceID, req.Name, req.Role)
}

func (h *handlers) registerOperator(c *gin.Context) {
	var req struct {
		OperatorID string `json:"operator_id" binding:"required"`
		Name       string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.register(c, req.OperatorID, req.Name, auth.RoleOperator)
}

func (h *handlers) register(c *gin.Context, id, name, role string) {
	pair, err := h.deps.Devices.Register(c.Request.Context(), id, name, role)
	switch {
	case errors.Is(err, auth.ErrDeviceIDRequired), errors.Is(err, auth.ErrUnknownRole):
		badRequest(c, err)
		return
	case err != nil:
		h.internal(c, "register "+role, err)
		return
	}
	c.JSON(http.StatusCreated, pair)
}

func (h *handlers) refreshDevice(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pair, err := h.deps.Devices.Refresh(c.Request.Context(), req.RefreshToken)
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrWrongTokenKind):
		writeError(c, http.StatusUnauthorized, "unauthorized", "invalid refresh token")
		return
	case err != nil:
		h.internal(c, "refresh device", err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

type scanRequest struct {
	Token      string `json:"token" binding:"required"`
	Source     string `json:"source"`
	Capability string `json:"capability"`
}

func (r scanRequest) source() (scan.Source, error) {
	if r.Source == "" {
		return scan.SourceNFC, nil
	}
	return scan.ParseSource(r.Source)
}

// ingestScan accepts a token from a networked scanner and queues it for
// broadcast, the same path the serial bridge uses.
func (h *handlers) ingestScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	src, err := req.source()
	if err != nil {
		badRequest(c, err)
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		writeError(c, http.StatusBadRequest, "bad_request", "token is empty")
		return
	}
	msg, err := queue.ScanMessage(scan.NewEvent(token, src))
	if err == nil {
		err = h.deps.Scans.Publish(c.Request.Context(), msg)
	}
	if err != nil {
		h.internal(c, "publish scan", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "message": "Scan received"})
}

func (h *handlers) sessionScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	src, err := req.source()
	if err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.deps.Station.Process(c.Request.Context(), req.Token, src, station.Request{
		SessionID:  c.Param("id"),
		Capability: identity.Capability(req.Capability),
	})
	h.stationResult(c, res, err)
}

func (h *handlers) listen(c *gin.Context) {
	var req struct {
		SessionID      string `json:"session_id"`
		Capability     string `json:"capability"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout > maxListenTimeout {
		timeout = maxListenTimeout
	}
	res, err := h.deps.Station.Listen(c.Request.Context(), station.Request{
		SessionID:  req.SessionID,
		Capability: identity.Capability(req.Capability),
		Timeout:    timeout,
	})
	h.stationResult(c, res, err)
}

func (h *handlers) stationResult(c *gin.Context, res station.Result, err error) {
	if err == nil {
		c.JSON(http.StatusOK, res)
		return
	}
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		h.deps.Logger.ErrorContext(c.Request.Context(), "scan failed", "path", c.FullPath(), "error", err)
	}
	if res.Message == "" {
		res.Message = attendance.Describe(err)
	}
	c.JSON(status, gin.H{"error": code, "message": res.Message, "result": res})
}

func (h *handlers) history(c *gin.Context) {
	tl, err := h.deps.History.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.internal(c, "build timeline", err)
		return
	}
	c.JSON(http.StatusOK, tl)
}

func (h *handlers) bridgeStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Bridge.Status())
}

func (h *handlers) bridgeToggle(c *gin.Context) {
	var req struct {
		Action string `json:"action" binding:"required,oneof=start stop"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Action == "start" {
		h.bridgeStart(c)
		return
	}
	h.bridgeStop(c)
}

func (h *handlers) bridgeStart(c *gin.Context) {
	bridgeReply(c, h.deps.Bridge.Start(c.Request.Context()))
}

func (h *handlers) bridgeStop(c *gin.Context) {
	bridgeReply(c, h.deps.Bridge.Stop())
}

func bridgeReply(c *gin.Context, res bridge.Result) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusConflict
	}
	c.JSON(status, res)
}

// classify maps domain errors to a status code and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, identity.ErrEmptyToken):
		return http.StatusBadRequest, "empty_token"
	case errors.Is(err, identity.ErrSubjectNotFound):
		return http.StatusNotFound, "subject_not_found"
	case errors.Is(err, identity.ErrCapabilityDenied):
		return http.StatusForbidden, "capability_denied"
	case errors.Is(err, attendance.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, attendance.ErrNotRegistered):
		return http.StatusUnprocessableEntity, "not_registered"
	case errors.Is(err, attendance.ErrUnknownKind):
		return http.StatusUnprocessableEntity, "unknown_session_kind"
	case errors.Is(err, attendance.ErrAlreadyCompleted):
		return http.StatusConflict, "already_completed"
	case errors.Is(err, attendance.ErrSessionClosed):
		return http.StatusConflict, "session_closed"
	case errors.Is(err, attendance.ErrRecordExists):
		return http.StatusConflict, "concurrent_update"
	case errors.Is(err, station.ErrScanTimeout):
		return http.StatusRequestTimeout, "scan_timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}

func badRequest(c *gin.Context, err error) {
	writeError(c, http.StatusBadRequest, "bad_request", err.Error())
}

func (h *handlers) internal(c *gin.Context, op string, err error) {
	h.deps.Logger.ErrorContext(c.Request.Context(), op+" failed", "error", err)
	writeError(c, http.StatusInternalServerError, "internal", "internal error")
}
