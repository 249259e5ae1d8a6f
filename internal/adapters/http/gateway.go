package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/ProximityVoice/internal/app/gateway"
	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/protocol"
)

type gatewayHandlers struct {
	svc *gateway.Service
}

func (h *gatewayHandlers) createSession(c *gin.Context) {
	var req protocol.NewSessionRequest
	if !bind(c, "create_session", &req) {
		return
	}
	res, err := h.svc.CreateSession(c.Request.Context(), req.SDP)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *gatewayHandlers) publishTrack(c *gin.Context) {
	var req protocol.PublishRequest
	if !bind(c, "publish_track", &req) {
		return
	}
	res, err := h.svc.PublishTrack(c.Request.Context(), req.SessionID, req.SDP, req.Track)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *gatewayHandlers) subscribeTracks(c *gin.Context) {
	var req protocol.SubscribeRequest
	if !bind(c, "subscribe_tracks", &req) {
		return
	}
	res, err := h.svc.SubscribeTracks(c.Request.Context(), req.SessionID, req.Tracks)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *gatewayHandlers) renegotiate(c *gin.Context) {
	var req protocol.RenegotiateRequest
	if !bind(c, "renegotiate", &req) {
		return
	}
	if err := h.svc.Renegotiate(c.Request.Context(), req.SessionID, req.SDP); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func bind(c *gin.Context, op string, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, core.Validation(op, err.Error()))
		return false
	}
	return true
}

func writeError(c *gin.Context, err error) {
	var ce *core.Error
	if !errors.As(err, &ce) {
		ce = core.Transport("gateway", err)
	}
	status := http.StatusBadGateway
	switch ce.Kind {
	case core.KindValidation:
		status = http.StatusBadRequest
	case core.KindFatal:
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, protocol.ErrorResponse{Error: ce})
}
