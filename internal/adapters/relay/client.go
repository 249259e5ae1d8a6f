// Package relay talks to the Cloudflare-Calls shaped media relay over HTTP.
package relay

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/metrics"
	"github.com/dkeye/ProximityVoice/internal/protocol"
)

const DefaultBaseURL = "https://rtc.live.cloudflare.com/v1"

type Config struct {
	BaseURL  string
	AppID    string
	AppToken string
	Timeout  time.Duration
}

type Client struct {
	http    *fasthttp.Client
	base    string
	token   string
	timeout time.Duration
}

func New(cfg Config) (*Client, error) {
	if cfg.AppID == "" {
		return nil, fmt.Errorf("relay: app id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("relay: base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		http: &fasthttp.Client{
			Name:                "proximity-voice",
			MaxIdleConnDuration: time.Minute,
		},
		base:    strings.TrimSuffix(cfg.BaseURL, "/") + "/apps/" + url.PathEscape(cfg.AppID),
		token:   cfg.AppToken,
		timeout: cfg.Timeout,
	}, nil
}

func (c *Client) NewSession(ctx context.Context, offer protocol.SessionDescription) (protocol.RelayNewSessionResponse, error) {
	var out protocol.RelayNewSessionResponse
	err := c.call(ctx, "sessions.new", fasthttp.MethodPost, c.base+"/sessions/new",
		protocol.RelayNewSessionRequest{SessionDescription: offer}, &out)
	return out, err
}

func (c *Client) NewTracks(ctx context.Context, sessionID string, req protocol.RelayTracksRequest) (protocol.RelayTracksResponse, error) {
	var out protocol.RelayTracksResponse
	err := c.call(ctx, "tracks.new", fasthttp.MethodPost, c.sessionURL(sessionID)+"/tracks/new", req, &out)
	return out, err
}

func (c *Client) Renegotiate(ctx context.Context, sessionID string, answer protocol.SessionDescription) error {
	return c.call(ctx, "renegotiate", fasthttp.MethodPut, c.sessionURL(sessionID)+"/renegotiate",
		protocol.RelayRenegotiateRequest{SessionDescription: answer}, nil)
}

func (c *Client) sessionURL(sessionID string) string {
	return c.base + "/sessions/" + url.PathEscape(sessionID)
}

// call performs one request. Non-2xx answers become negotiation errors
// carrying status and body; network failures become transport errors.
func (c *Client) call(ctx context.Context, op, method, uri string, in, out any) error {
	start := time.Now()
	result := "error"
	defer func() {
		metrics.RelayLatency.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return core.Transport(op, err)
	}
	body, err := sonic.Marshal(in)
	if err != nil {
		return core.Fatal(op, fmt.Errorf("marshal request: %w", err))
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.SetBody(body)

	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}

	errC := make(chan error, 1)
	go func() {
		errC <- c.http.DoTimeout(req, resp, timeout)
	}()

	select {
	case <-ctx.Done():
		// the request still owns req and resp until it returns
		go func() {
			<-errC
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
		}()
		return core.Transport(op, ctx.Err())
	case err = <-errC:
	}
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.relay").Str("op", op).Msg("relay unreachable")
		return core.Transport(op, err)
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		result = "rejected"
		log.Warn().Str("module", "adapters.relay").Str("op", op).Int("status", status).Msg("relay rejected request")
		return core.Rejected(op, status, string(resp.Body()))
	}
	if out != nil && len(resp.Body()) > 0 {
		// sonic may alias the input; resp is returned to the pool on exit
		data := append([]byte(nil), resp.Body()...)
		if err := sonic.Unmarshal(data, out); err != nil {
			return core.Negotiation(op, "malformed relay response", err)
		}
	}
	result = "ok"
	return nil
}
