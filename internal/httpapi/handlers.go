package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tuonane/internal/audit"
	"tuonane/internal/auth"
	"tuonane/internal/calls"
	"tuonane/internal/earnings"
	"tuonane/internal/money"
	"tuonane/internal/reporting"
	"tuonane/internal/session"
	"tuonane/internal/wallet"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth       *auth.Manager
	Wallet     *wallet.Service
	Calls      calls.Store
	Controller *session.Controller
	Earnings   *earnings.Service
	Reports    *reporting.Service
	Audit      *audit.Service
	Log        *slog.Logger
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
}

// --- Wallet ---

func (h Handlers) GetWallet(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	w, err := h.Wallet.Get(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// --- Calls ---

type startCallRequest struct {
	RecipientID string `json:"recipient_id"`
}

// StartCall places a call and hands the caller side to a background attendant
// that rings, bills and settles it.
func (h Handlers) StartCall(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.RecipientID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "recipient_id required"})
		return
	}

	rec, err := h.Controller.Initiate(c.Request.Context(), uid, req.RecipientID)
	if err != nil {
		h.failCall(c, err)
		return
	}

	// The attendant outlives the request.
	go func() {
		if err := h.Controller.RunCaller(context.Background(), rec.ID); err != nil {
			h.Log.Error("caller attendant stopped", "call_id", rec.ID, "error", err)
		}
	}()

	c.JSON(http.StatusCreated, rec)
}

func (h Handlers) GetCall(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	rec, err := h.Calls.Get(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		h.failCall(c, err)
		return
	}
	if rec.CallerID != uid && rec.RecipientID != uid {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) ListPendingCalls(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	pending, err := h.Calls.ListPendingFor(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": pending})
}

func (h Handlers) AcceptCall(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	rec, _, err := h.Controller.Accept(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		h.failCall(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ConfirmCall is the caller attesting a real person answered; it opens the
// billing gate.
func (h Handlers) ConfirmCall(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	rec, err := h.Controller.Confirm(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		h.failCall(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) RejectCall(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	rec, err := h.Controller.Reject(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		h.failCall(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) CancelCall(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	rec, err := h.Controller.Cancel(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		h.failCall(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) HangupCall(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	rec, err := h.Controller.Hangup(c.Request.Context(), c.Param("call_id"), uid)
	if err != nil {
		h.failCall(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// --- Earnings ---

func (h Handlers) ListEarnings(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	entries, err := h.Earnings.History(c.Request.Context(), uid, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"earnings": entries})
}

// --- Admin ---

type adminCreditRequest struct {
	UserID         string `json:"user_id"`
	Amount         string `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// AdminCredit performs an admin-only spend-balance top-up.
func (h Handlers) AdminCredit(c *gin.Context) {
	adminUID, _ := auth.UserID(c.Request.Context())
	adminRole, _ := auth.Role(c.Request.Context())

	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.IdempotencyKey == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, idempotency_key required"})
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil || !amount.IsPositive() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive decimal"})
		return
	}

	w, err := h.Wallet.CreditBalance(c.Request.Context(), req.UserID, amount, wallet.AdminCreditRef, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, wallet.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, wallet.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
			return
		}
		h.fail(c, err)
		return
	}

	if h.Audit != nil {
		ip := c.ClientIP()
		if err := h.Audit.LogAdminCredit(c.Request.Context(), adminUID, adminRole, ip, req.UserID, req.Reason, ""); err != nil {
			h.Log.Warn("audit write failed", "error", err)
		}
	}
	c.JSON(http.StatusOK, w)
}

// AdminCallsReport aggregates call activity over a time range.
func (h Handlers) AdminCallsReport(c *gin.Context) {
	rng, ok := h.parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range:  rng,
		UserID: c.Query("user_id"),
	})
	if err != nil {
		h.failReport(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// AdminMoneyReport aggregates ledger movement over a time range.
func (h Handlers) AdminMoneyReport(c *gin.Context) {
	rng, ok := h.parseRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.MoneySummary(c.Request.Context(), reporting.MoneySummaryRequest{
		Range:  rng,
		UserID: c.Query("user_id"),
	})
	if err != nil {
		h.failReport(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) parseRange(c *gin.Context) (reporting.TimeRange, bool) {
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC3339 timestamps"})
		return reporting.TimeRange{}, false
	}
	return reporting.TimeRange{From: from, To: to}, true
}

// failCall maps call-flow errors to HTTP statuses.
func (h Handlers) failCall(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, session.ErrNotParticipant):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, calls.ErrCallTerminal), errors.Is(err, calls.ErrNotPending):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrCallerBusy):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "caller already in a call"})
	case errors.Is(err, session.ErrBalanceTooLow),
		errors.Is(err, session.ErrCallerProfileIncomplete),
		errors.Is(err, session.ErrRecipientUnavailable),
		errors.Is(err, calls.ErrSelfCall):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		h.fail(c, err)
	}
}

func (h Handlers) failReport(c *gin.Context, err error) {
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.fail(c, err)
}

func (h Handlers) fail(c *gin.Context, err error) {
	h.Log.Error("request failed", "path", c.FullPath(), "error", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
