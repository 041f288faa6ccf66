// Package runtime is the HTTP client for the host agent gateway. It
// resolves session routes, records inbound messages, and dispatches message
// contexts, streaming the agent's reply chunks back over NDJSON.
package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"minibridge/internal/domain"
)

// Client talks to the agent gateway. It implements domain.Router,
// domain.AgentRuntime, and domain.SessionRecorder.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *slog.Logger
}

// New creates a gateway client. Dispatch streams have no client-side
// timeout; they end when the gateway closes the response.
func New(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{},
		logger:  logger,
	}
}

type routeRequest struct {
	Channel   string `json:"channel"`
	AccountID string `json:"accountId"`
	PeerKind  string `json:"peerKind"`
	PeerID    string `json:"peerId"`
}

type routeResponse struct {
	SessionKey     string `json:"sessionKey"`
	MainSessionKey string `json:"mainSessionKey"`
	AgentID        string `json:"agentId"`
}

// ResolveRoute asks the gateway for the session route of a peer.
func (c *Client) ResolveRoute(ctx context.Context, accountID string, peer domain.Peer) (domain.Route, error) {
	body := routeRequest{
		Channel:   domain.ChannelID,
		AccountID: accountID,
		PeerKind:  peer.Kind,
		PeerID:    peer.ID,
	}
	var res routeResponse
	if err := c.postJSON(ctx, "/v1/routes/resolve", body, &res); err != nil {
		return domain.Route{}, err
	}
	return domain.Route{
		SessionKey:     res.SessionKey,
		MainSessionKey: res.MainSessionKey,
		AgentID:        res.AgentID,
		FromRouter:     true,
	}, nil
}

type recordRequest struct {
	domain.MsgContext
	AgentID string `json:"agentId"`
}

// RecordInbound persists an inbound message in the gateway's session store.
func (c *Client) RecordInbound(ctx context.Context, msg domain.MsgContext, route domain.Route) error {
	return c.postJSON(ctx, "/v1/sessions/record", recordRequest{MsgContext: msg, AgentID: route.AgentID}, nil)
}

// streamLine is one NDJSON record on a dispatch stream. Only kind "final"
// records carry deliverable content; the rest are progress noise.
type streamLine struct {
	Kind       string   `json:"kind"`
	Text       string   `json:"text,omitempty"`
	MediaURLs  []string `json:"media_urls,omitempty"`
	MediaTypes []string `json:"media_types,omitempty"`
}

// Dispatch submits a message context and returns a channel of reply chunks.
// The channel is closed when the gateway ends the stream or ctx is
// cancelled; stream read errors are logged, not surfaced, since any chunks
// already delivered remain valid.
func (c *Client) Dispatch(ctx context.Context, msg domain.MsgContext) (<-chan domain.ReplyChunk, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages/dispatch", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway dispatch: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("gateway dispatch: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	out := make(chan domain.ReplyChunk, 8)
	go c.readStream(resp.Body, out)
	return out, nil
}

func (c *Client) readStream(body io.ReadCloser, out chan<- domain.ReplyChunk) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec streamLine
		if err := json.Unmarshal(line, &rec); err != nil {
			c.logger.Warn("bad stream record", "err", err)
			continue
		}
		if rec.Kind != "final" {
			continue
		}
		out <- domain.ReplyChunk{
			Text:       rec.Text,
			MediaURLs:  rec.MediaURLs,
			MediaTypes: rec.MediaTypes,
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("dispatch stream ended with error", "err", err)
	}
}

// Ping checks gateway reachability.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway health: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("gateway call %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway call %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}
