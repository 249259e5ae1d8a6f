package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/protocol"
)

// GatewayClient calls the negotiation routes of the server.
type GatewayClient struct {
	http    *fasthttp.Client
	base    string
	timeout time.Duration
}

func NewGatewayClient(baseURL string, timeout time.Duration) (*GatewayClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("gateway url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway url: unsupported scheme %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GatewayClient{
		http:    &fasthttp.Client{Name: "proximity-voice-client"},
		base:    strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
	}, nil
}

// BaseURL is the gateway root, also used to derive the registry socket URL.
func (g *GatewayClient) BaseURL() string { return g.base }

func (g *GatewayClient) CreateSession(ctx context.Context, offerSDP string) (protocol.NewSessionResponse, error) {
	var out protocol.NewSessionResponse
	err := g.post(ctx, "session", "/session", protocol.NewSessionRequest{SDP: offerSDP}, &out)
	return out, err
}

func (g *GatewayClient) PublishTrack(ctx context.Context, sessionID, offerSDP, mid, trackName string) (protocol.PublishResponse, error) {
	var out protocol.PublishResponse
	err := g.post(ctx, "tracks.send", "/tracks/send", protocol.PublishRequest{
		SessionID: sessionID,
		SDP:       offerSDP,
		Track:     protocol.LocalTrack{Location: protocol.LocationLocal, Mid: mid, TrackName: trackName},
	}, &out)
	return out, err
}

func (g *GatewayClient) SubscribeTracks(ctx context.Context, sessionID string, tracks []protocol.RemoteTrack) (protocol.SubscribeResponse, error) {
	var out protocol.SubscribeResponse
	err := g.post(ctx, "tracks.receive", "/tracks/receive", protocol.SubscribeRequest{SessionID: sessionID, Tracks: tracks}, &out)
	return out, err
}

func (g *GatewayClient) Renegotiate(ctx context.Context, sessionID, answerSDP string) error {
	return g.post(ctx, "renegotiate", "/renegotiate", protocol.RenegotiateRequest{SessionID: sessionID, SDP: answerSDP}, nil)
}

func (g *GatewayClient) post(ctx context.Context, op, path string, in, out any) error {
	if err := ctx.Err(); err != nil {
		return core.Transport(op, err)
	}
	body, err := sonic.Marshal(in)
	if err != nil {
		return core.Fatal(op, fmt.Errorf("marshal request: %w", err))
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	req.SetRequestURI(g.base + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	timeout := g.timeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
	}

	errC := make(chan error, 1)
	go func() { errC <- g.http.DoTimeout(req, resp, timeout) }()

	select {
	case <-ctx.Done():
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
		return core.Transport(op, err)
	}

	data := append([]byte(nil), resp.Body()...)
	status := resp.StatusCode()
	if status < 200 || status > 299 {
		var er protocol.ErrorResponse
		if sonic.Unmarshal(data, &er) == nil && er.Error != nil && er.Error.Kind != "" {
			if er.Error.Op == "" {
				er.Error.Op = op
			}
			return er.Error
		}
		return core.Rejected(op, status, string(data))
	}
	if out != nil && len(data) > 0 {
		if err := sonic.Unmarshal(data, out); err != nil {
			return core.Negotiation(op, "malformed gateway response", err)
		}
	}
	return nil
}
