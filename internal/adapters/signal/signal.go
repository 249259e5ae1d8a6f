package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ProximityVoice/internal/app/orch"
	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Config struct {
	SendBuffer   int
	ReadLimit    int64
	PingPeriod   time.Duration
	RateLimit    int
	RateInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 32 << 10
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 54 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 20
	}
	if c.RateInterval <= 0 {
		c.RateInterval = time.Second
	}
	return c
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	cfg     Config
	limiter *RateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, cfg Config) *SignalWSController {
	cfg = cfg.withDefaults()
	return &SignalWSController{
		Orch:    o,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateInterval),
	}
}

type WsSignalConn struct {
	id   core.ConnID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) ID() core.ConnID { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal serves GET /websocket?sessionId=&trackId=&remote=.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.String(http.StatusUpgradeRequired, "Expected Upgrade: websocket")
		return
	}
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.String(http.StatusBadRequest, "Missing sessionId")
		return
	}
	trackID := c.Query("trackId")
	if trackID == "" {
		c.String(http.StatusBadRequest, "Missing trackId")
		return
	}
	scope := domain.NewScope(c.Query("remote"))
	if scope == "" {
		c.String(http.StatusBadRequest, "Missing remote")
		return
	}
	if len(sessionID) > domain.MaxSessionLen {
		c.String(http.StatusBadRequest, "sessionId too long")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		id:   core.ConnID(uuid.NewString()),
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}
	log.Info().Str("module", "signal").Str("sid", sessionID).Str("conn", string(conn.id)).
		Str("scope", string(scope)).Msg("new WS connection")

	// pumps outlive the request; only server shutdown cancels them
	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)

	if err := ctl.Orch.Connect(ctx, scope, conn, sessionID, trackID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", sessionID).Msg("connect rejected")
		conn.Close()
		cancel()
		return
	}
	go ctl.readPump(ctx, cancel, scope, conn)
}
