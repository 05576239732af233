package push

import (
	"errors"
	"net/http"

	"callkit-bridge/internal/callstate"
	"callkit-bridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookHandler exposes the receiver to push gateways.
type WebhookHandler struct {
	Receiver *Receiver
}

type tokenRequest struct {
	Token string `json:"token"`
}

// HandleSignal accepts a JSON object of string values, the shape of an FCM
// data message.
func (h WebhookHandler) HandleSignal(c *gin.Context) {
	var data map[string]string
	if err := c.ShouldBindJSON(&data); err != nil {
		abort(c, http.StatusBadRequest, "invalid_argument", "body must be a JSON object of strings")
		return
	}

	s, res, err := h.Receiver.HandleData(c.Request.Context(), data)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidSignal), errors.Is(err, callstate.ErrInvalidArgument):
		abort(c, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	default:
		logger.FromGin(c).Error("push signal failed", "err", err, "call_id", s.CallID)
		abort(c, http.StatusInternalServerError, "internal", "push signal failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":  s.CallID,
		"signal_type": s.Type,
		"result":      res,
	})
}

func (h WebhookHandler) HandleToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_argument", "invalid json")
		return
	}
	if err := h.Receiver.TokenRefreshed(req.Token); err != nil {
		abort(c, http.StatusBadRequest, "invalid_argument", "token is required")
		return
	}
	c.Status(http.StatusNoContent)
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": msg}})
}
