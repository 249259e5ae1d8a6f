package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ProximityVoice/internal/adapters/signal"
	"github.com/dkeye/ProximityVoice/internal/app/gateway"
	"github.com/dkeye/ProximityVoice/internal/app/orch"
)

type Deps struct {
	Mode    string
	Orch    *orch.Orchestrator
	Gateway *gateway.Service
	Signal  signal.Config
}

func SetupRouter(ctx context.Context, deps Deps) *gin.Engine {
	switch deps.Mode {
	case gin.ReleaseMode, gin.TestMode, gin.DebugMode:
		gin.SetMode(deps.Mode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(AccessLog())
	r.Use(Metrics())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/scopes", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Orch.Scopes.List())
	})

	gw := &gatewayHandlers{svc: deps.Gateway}
	r.POST("/session", gw.createSession)
	r.POST("/tracks/send", gw.publishTrack)
	r.POST("/tracks/receive", gw.subscribeTracks)
	r.POST("/renegotiate", gw.renegotiate)
	r.PUT("/renegotiate", gw.renegotiate)

	ctrl := signal.NewSignalWSController(deps.Orch, deps.Signal)
	r.GET("/websocket", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("mode", gin.Mode()).Msg("router setup")
	return r
}
