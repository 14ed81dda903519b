package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"security-service/internal/client"
	"security-service/internal/models"
	"security-service/internal/service"
	"security-service/internal/util"
)

// AuditReader serves audit queries straight from the durable table when no
// search index is configured.
type AuditReader interface {
	RecentByAction(ctx context.Context, action string, limit int) ([]*models.AuditLogEntry, error)
}

// SecurityHandler exposes the OTP, lockout, block, settings, and audit
// operations over HTTP.
type SecurityHandler struct {
	otpService      *service.OTPService
	lockoutService  *service.LockoutService
	settingsService *service.SettingsService
	esClient        *client.ESClient
	auditReader     AuditReader
	auditIndex      string
	logger          *zap.Logger
}

func NewSecurityHandler(
	otpService *service.OTPService,
	lockoutService *service.LockoutService,
	settingsService *service.SettingsService,
	esClient *client.ESClient,
	auditReader AuditReader,
	auditIndex string,
	logger *zap.Logger,
) *SecurityHandler {
	return &SecurityHandler{
		otpService:      otpService,
		lockoutService:  lockoutService,
		settingsService: settingsService,
		esClient:        esClient,
		auditReader:     auditReader,
		auditIndex:      auditIndex,
		logger:          logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all security routes
func (h *SecurityHandler) RegisterRoutes(router chi.Router) {
	router.Route("/otp", func(r chi.Router) {
		r.Post("/email-verification", h.IssueEmailVerification)
		r.Post("/password-reset", h.IssuePasswordReset)
		r.Post("/verify", h.VerifyOTP)
	})

	router.Post("/login-attempts", h.RecordLoginAttempt)
	router.Get("/login-attempts/{address}", h.ListLoginAttempts)

	router.Route("/blocks", func(r chi.Router) {
		r.Get("/{address}", h.GetBlock)
		r.Post("/", h.CreateBlock)
		r.Delete("/{blockID}", h.DeleteBlock)
	})

	router.Route("/settings", func(r chi.Router) {
		r.Get("/", h.GetSettings)
		r.Patch("/", h.UpdateSettings)
	})

	router.Get("/audit", h.SearchAudit)
	router.Post("/maintenance/sweep", h.SweepExpired)
}

type issueRequest struct {
	Email         string `json:"email"`
	OwnerRef      string `json:"owner_ref,omitempty"`
	SourceAddress string `json:"source_address,omitempty"`
}

// IssueEmailVerification issues a verification code for an email address.
func (h *SecurityHandler) IssueEmailVerification(w http.ResponseWriter, r *http.Request) {
	h.issue(w, r, models.PurposeEmailVerification)
}

// IssuePasswordReset issues a reset code. The response is identical whether
// or not an account exists for the email.
func (h *SecurityHandler) IssuePasswordReset(w http.ResponseWriter, r *http.Request) {
	h.issue(w, r, models.PurposePasswordReset)
}

func (h *SecurityHandler) issue(w http.ResponseWriter, r *http.Request, purpose models.Purpose) {
	ctx := r.Context()
	startTime := time.Now()

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if !h.gate(w, r, req.SourceAddress) {
		return
	}

	otpID, err := h.otpService.Issue(ctx, req.Email, purpose, req.OwnerRef)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to issue code")
		return
	}

	data := map[string]string{}
	if purpose == models.PurposeEmailVerification {
		data["otp_id"] = otpID
	}
	h.respondWithJSON(w, http.StatusAccepted, successResponse(data, "Code sent if the email is eligible"))
	h.logger.Info("OTP issuance handled",
		util.String("purpose", string(purpose)),
		util.Duration("duration", time.Since(startTime)))
}

type verifyRequest struct {
	Email         string `json:"email"`
	Code          string `json:"code"`
	Purpose       string `json:"purpose"`
	SourceAddress string `json:"source_address,omitempty"`
}

// VerifyOTP checks a submitted code.
func (h *SecurityHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if !h.gate(w, r, req.SourceAddress) {
		return
	}

	purpose, err := models.ParsePurpose(req.Purpose)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Unsupported purpose")
		return
	}

	result, err := h.otpService.Verify(ctx, req.Email, req.Code, purpose)
	if err != nil {
		var incorrect *service.IncorrectCodeError
		if errors.As(err, &incorrect) {
			h.respondWithJSON(w, http.StatusUnprocessableEntity, Response{
				Success: false,
				Error:   incorrect.Error(),
				Data:    map[string]int{"remaining_attempts": incorrect.Remaining},
				Message: "Incorrect code",
			})
			return
		}
		h.respondWithError(w, h.getStatusCode(err), err, "Verification failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Code verified"))
}

type loginAttemptRequest struct {
	Email         string `json:"email,omitempty"`
	SourceAddress string `json:"source_address"`
	UserAgent     string `json:"user_agent,omitempty"`
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// RecordLoginAttempt appends an attempt row. The response is 202 even when
// the attempt log is unavailable; recording is observation, not control.
func (h *SecurityHandler) RecordLoginAttempt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.SourceAddress == "" {
		req.SourceAddress = r.RemoteAddr
	}

	h.lockoutService.RecordLoginAttempt(ctx, &models.LoginAttempt{
		Email:         req.Email,
		SourceAddress: req.SourceAddress,
		UserAgent:     req.UserAgent,
		Success:       req.Success,
		FailureReason: req.FailureReason,
	})

	h.respondWithJSON(w, http.StatusAccepted, successResponse(nil, "Attempt recorded"))
}

// ListLoginAttempts returns the newest attempts recorded for an address.
func (h *SecurityHandler) ListLoginAttempts(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	attempts, err := h.lockoutService.RecentAttempts(r.Context(), address, limit)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to list attempts")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(attempts, "Attempts retrieved"))
}

// GetBlock returns the active block for an address, if any.
func (h *SecurityHandler) GetBlock(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	block, err := h.lockoutService.GetBlock(r.Context(), address)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get block")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(block, "Block retrieved"))
}

type createBlockRequest struct {
	SourceAddress   string `json:"source_address"`
	Reason          string `json:"reason"`
	BlockedBy       string `json:"blocked_by"`
	Permanent       bool   `json:"permanent"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

// CreateBlock is the manual operator block.
func (h *SecurityHandler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	var req createBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute
	block, err := h.lockoutService.Block(r.Context(), req.SourceAddress, req.Reason, req.BlockedBy, req.Permanent, duration)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to create block")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(block, "Address blocked"))
}

// DeleteBlock lifts a block by id.
func (h *SecurityHandler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	blockID := chi.URLParam(r, "blockID")
	actor := r.URL.Query().Get("actor")
	if actor == "" {
		actor = "operator"
	}

	if err := h.lockoutService.Unblock(r.Context(), blockID, actor); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to delete block")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetSettings returns the effective security settings.
func (h *SecurityHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settingsService.Get(r.Context())
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to load settings")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(settings, "Settings retrieved"))
}

type updateSettingsRequest struct {
	models.SecuritySettingsPatch
	Actor string `json:"actor,omitempty"`
}

// UpdateSettings applies a partial settings patch.
func (h *SecurityHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	settings, err := h.settingsService.Update(r.Context(), req.SecuritySettingsPatch, req.Actor)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to update settings")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(settings, "Settings updated"))
}

type auditSearchResult struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source models.AuditLogEntry `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchAudit queries the audit index, falling back to the durable table
// when Elasticsearch is not configured.
func (h *SecurityHandler) SearchAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50

	if h.esClient == nil {
		if h.auditReader == nil {
			h.respondWithError(w, http.StatusServiceUnavailable,
				errors.New("no audit backend configured"), "Audit search unavailable")
			return
		}
		entries, err := h.auditReader.RecentByAction(r.Context(), r.URL.Query().Get("action"), limit)
		if err != nil {
			h.respondWithError(w, http.StatusBadGateway, err, "Audit search failed")
			return
		}
		h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
			"total":   len(entries),
			"entries": entries,
		}, "Audit entries retrieved"))
		return
	}

	query := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"created_at": map[string]string{"order": "desc"}},
		},
	}
	if action := r.URL.Query().Get("action"); action != "" {
		query["query"] = map[string]interface{}{
			"term": map[string]interface{}{"action": action},
		}
	}

	res, err := h.esClient.Search(r.Context(), h.auditIndex, query)
	if err != nil {
		h.respondWithError(w, http.StatusBadGateway, err, "Audit search failed")
		return
	}

	var parsed auditSearchResult
	if err := h.esClient.ParseResponse(res, &parsed); err != nil {
		h.respondWithError(w, http.StatusBadGateway, err, "Audit search failed")
		return
	}

	entries := make([]models.AuditLogEntry, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		entries = append(entries, hit.Source)
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"total":   parsed.Hits.Total.Value,
		"entries": entries,
	}, "Audit entries retrieved"))
}

// SweepExpired removes expired OTP rows. Meant to be invoked by a periodic
// external job.
func (h *SecurityHandler) SweepExpired(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.otpService.SweepExpired(r.Context())
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Sweep failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]int{"deleted": deleted}, "Expired codes removed"))
}

// gate rejects the request when its effective source address is blocked.
// The body address wins over the transport address because the caller is
// the upstream web application, not the end user.
func (h *SecurityHandler) gate(w http.ResponseWriter, r *http.Request, bodyAddress string) bool {
	address := bodyAddress
	if address == "" {
		address = r.RemoteAddr
	}
	if h.lockoutService.IsBlocked(r.Context(), address) {
		h.respondWithError(w, http.StatusForbidden, service.ErrAddressBlocked, "Request rejected")
		return false
	}
	return true
}

func (h *SecurityHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *SecurityHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *SecurityHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrCodeNotFound), errors.Is(err, service.ErrBlockNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAttemptsExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrAddressBlocked):
		return http.StatusForbidden
	case errors.Is(err, service.ErrDelivery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
