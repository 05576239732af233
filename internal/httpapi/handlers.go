package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"callkit-bridge/internal/audit"
	"callkit-bridge/internal/auth"
	"callkit-bridge/internal/bridge"
	"callkit-bridge/internal/callstate"
	"callkit-bridge/internal/events"
	"callkit-bridge/internal/rbac"
	"callkit-bridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth       *auth.Manager
	Dispatcher *bridge.Dispatcher
	Hub        *events.Hub
	Audit      *audit.Service
	Ready      func(ctx context.Context) error

	// PingInterval overrides the event stream keepalive period.
	PingInterval time.Duration
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abortError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Code: code, Message: msg}})
}

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) Readyz(c *gin.Context) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ready(ctx); err != nil {
			logger.FromGin(c).Warn("readiness check failed", "err", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// --- Auth ---

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	Role         string `json:"role"`
	BootstrapKey string `json:"bootstrap_key"`
}

// IssueToken mints a token pair for a client presenting the bootstrap key.
// It is only routed when AUTH_BOOTSTRAP_KEY is configured.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil || !h.Auth.BootstrapEnabled() {
		abortError(c, http.StatusNotFound, bridge.CodeNotFound, "token bootstrap disabled")
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, bridge.CodeInvalidArgument, "invalid json")
		return
	}
	if err := h.Auth.CheckBootstrapKey(req.BootstrapKey); err != nil {
		abortError(c, http.StatusUnauthorized, "unauthorized", "invalid bootstrap key")
		return
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" || !rbac.Known(req.Role) {
		abortError(c, http.StatusBadRequest, bridge.CodeInvalidArgument, "client_id and a known role are required")
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.ClientID, req.Role)
	if err != nil {
		abortError(c, http.StatusInternalServerError, bridge.CodeInternal, "token issuance failed")
		return
	}
	logger.FromGin(c).Info("token issued", "client_id", req.ClientID, "role", req.Role)
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h Handlers) RefreshToken(c *gin.Context) {
	if h.Auth == nil {
		abortError(c, http.StatusInternalServerError, bridge.CodeInternal, "auth not configured")
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		abortError(c, http.StatusBadRequest, bridge.CodeInvalidArgument, "refresh_token required")
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		abortError(c, http.StatusUnauthorized, "unauthorized", "invalid refresh token")
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Bridge methods ---

// InvokeMethod runs one bridge method. The request body, if any, is the
// argument object.
func (h Handlers) InvokeMethod(c *gin.Context) {
	if h.Dispatcher == nil {
		abortError(c, http.StatusInternalServerError, bridge.CodeInternal, "bridge not configured")
		return
	}
	method := c.Param("method")

	var args bridge.Args
	if err := c.ShouldBindJSON(&args); err != nil && !errors.Is(err, io.EOF) {
		abortError(c, http.StatusBadRequest, bridge.CodeInvalidArgument, "arguments must be a JSON object")
		return
	}

	res, err := h.Dispatcher.Invoke(c.Request.Context(), method, args)
	if err != nil {
		code := bridge.Code(err)
		if code == bridge.CodeInternal {
			logger.FromGin(c).Error("bridge method failed", "method", method, "err", err)
			abortError(c, http.StatusInternalServerError, code, "internal error")
			return
		}
		abortError(c, statusFor(code), code, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func statusFor(code string) int {
	switch code {
	case bridge.CodeNotFound:
		return http.StatusNotFound
	case bridge.CodeInvalidArgument:
		return http.StatusBadRequest
	case bridge.CodeNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// --- Admin ---

// CallHistory returns the audit trail of one call.
// RBAC: admin, or operator where routed.
func (h Handlers) CallHistory(c *gin.Context) {
	if h.Audit == nil {
		abortError(c, http.StatusInternalServerError, bridge.CodeInternal, "audit not configured")
		return
	}
	callID := c.Param("call_id")
	evs, err := h.Audit.History(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidEvent) {
			abortError(c, http.StatusBadRequest, bridge.CodeInvalidArgument, "call_id required")
			return
		}
		logger.FromGin(c).Error("history lookup failed", "call_id", callID, "err", err)
		abortError(c, http.StatusInternalServerError, bridge.CodeInternal, "history lookup failed")
		return
	}
	if evs == nil {
		evs = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "events": evs})
}

// OperatorSource tags requests from the operator role so audit entries show
// who overrode a call.
func OperatorSource() gin.HandlerFunc {
	return func(c *gin.Context) {
		if role, _ := auth.Role(c.Request.Context()); role == rbac.RoleOperator || role == rbac.RoleAdmin {
			c.Request = c.Request.WithContext(callstate.WithSource(c.Request.Context(), callstate.SourceOperator))
		}
		c.Next()
	}
}
