package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"minibridge/internal/media"
)

// ErrAPIError marks a relay response with ok=false.
var ErrAPIError = errors.New("relay api error")

const (
	// PollLimit caps the number of updates fetched per cycle.
	PollLimit = 100
	// PollTimeoutSeconds is the relay-side long-poll window.
	PollTimeoutSeconds = 1
)

// Client talks to one relay account. All call paths embed the
// percent-encoded API key.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient creates a relay client. timeout bounds every call including the
// long-poll wait; it must exceed the relay's own poll window so a healthy
// long poll is never cut short.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// EncodeAPIKey percent-encodes the key for use in a URL path segment.
// Relay keys contain a colon, which must travel as %3A.
func EncodeAPIKey(key string) string {
	return strings.ReplaceAll(key, ":", "%3A")
}

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/bot" + EncodeAPIKey(c.apiKey) + "/" + method
}

// GetUpdates fetches pending updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	url := fmt.Sprintf("%s?offset=%d&limit=%d&timeout=%d", c.methodURL("getUpdates"), offset, PollLimit, PollTimeoutSeconds)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	env, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var updates []Update
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &updates); err != nil {
			return nil, fmt.Errorf("decode updates: %w", err)
		}
	}
	return updates, nil
}

// MarkProcessed acks a batch of update ids. This is a best-effort call:
// cursor advancement is the authoritative dedup mechanism, so callers treat
// failures as log-only.
func (c *Client) MarkProcessed(ctx context.Context, ids []int64) error {
	body := map[string]any{"message_ids": ids}
	_, err := c.postJSON(ctx, c.methodURL("markProcessed"), body)
	return err
}

// SendMessageRequest is one outbound text message.
type SendMessageRequest struct {
	ChatID  string
	Text    string
	ReplyTo int64 // 0 = not a threaded reply
}

// SendMessage delivers a text message and returns the relay message id.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (int64, error) {
	body := map[string]any{
		"chat_id": req.ChatID,
		"text":    req.Text,
	}
	if req.ReplyTo > 0 {
		body["reply_to_message_id"] = req.ReplyTo
	}
	env, err := c.postJSON(ctx, c.methodURL("sendMessage"), body)
	if err != nil {
		return 0, err
	}
	var sent sentMessage
	if len(env.Result) > 0 {
		_ = json.Unmarshal(env.Result, &sent)
	}
	return sent.MessageID, nil
}

// MediaRequest is one outbound media message. Exactly one of SourceURL or
// Asset is set: a remote URL is forwarded as JSON for the relay to fetch,
// local bytes are uploaded as hand-built multipart.
type MediaRequest struct {
	ChatID      string
	Kind        media.Kind
	Caption     string
	ReplyTo     int64
	SourceURL   string
	Asset       *media.Asset
	CallbackURL string // out-of-band upload endpoint, overrides the static one
}

// SendMedia delivers one media item, selecting endpoint, field name, and
// encoding from the media kind and source location.
func (c *Client) SendMedia(ctx context.Context, req MediaRequest) error {
	endpoint, field := c.mediaEndpoint(req.Kind, req.CallbackURL)

	if req.Asset == nil {
		body := map[string]any{
			"chat_id": req.ChatID,
			field:     req.SourceURL,
		}
		if req.Caption != "" {
			body["caption"] = req.Caption
		}
		if req.ReplyTo > 0 {
			body["reply_to_message_id"] = req.ReplyTo
		}
		_, err := c.postJSON(ctx, endpoint, body)
		return err
	}

	contentType := req.Asset.MimeType
	if contentType == "" {
		contentType = media.DefaultMime(req.Kind)
	}
	filename := req.Asset.Filename
	if filename == "" {
		filename = media.DefaultFilename(req.Kind)
	}

	form := NewForm()
	form.AddFile(field, filename, contentType, req.Asset.Data)
	form.AddField("chat_id", req.ChatID)
	if req.Caption != "" {
		form.AddField("caption", req.Caption)
	}
	if req.ReplyTo > 0 {
		form.AddField("reply_to_message_id", fmt.Sprintf("%d", req.ReplyTo))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(form.Bytes()))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", form.ContentType())

	_, err = c.do(httpReq)
	return err
}

// mediaEndpoint maps a media kind to the send endpoint and upload field.
// Audio travels as a document; the relay routes it server-side. When the
// relay supplied an upload callback URL, it takes precedence, with video
// and document companions derived by suffix substitution.
func (c *Client) mediaEndpoint(kind media.Kind, callback string) (endpoint, field string) {
	var method string
	switch kind {
	case media.KindVideo:
		method, field = "sendVideo", "video"
	case media.KindAudio, media.KindDocument:
		method, field = "sendDocument", "document"
	default:
		method, field = "sendPhoto", "photo"
	}
	if callback != "" {
		return DeriveCallbackURL(callback, method), field
	}
	return c.methodURL(method), field
}

var sendSuffixRe = regexp.MustCompile(`/send\w+$`)

// DeriveCallbackURL rewrites an upload callback URL to point at the given
// send method. Known /sendPhoto, /sendVideo, and /sendDocument suffixes are
// substituted anywhere in the URL; otherwise a trailing /sendX segment is
// replaced.
func DeriveCallbackURL(callback, method string) string {
	for _, known := range []string{"sendPhoto", "sendVideo", "sendDocument"} {
		if strings.Contains(callback, "/"+known) {
			return strings.Replace(callback, "/"+known, "/"+method, 1)
		}
	}
	if sendSuffixRe.MatchString(callback) {
		return sendSuffixRe.ReplaceAllString(callback, "/"+method)
	}
	return callback
}

// NotifyTyping signals processing start/stop. Fire-and-forget: every
// failure is logged and swallowed, never surfaced to the caller.
func (c *Client) NotifyTyping(ctx context.Context, status string) {
	if _, err := c.postJSON(ctx, c.methodURL("typing"), map[string]any{"status": status}); err != nil {
		c.logger.Warn("typing notify failed", "status", status, "err", err)
	}
}

func (c *Client) postJSON(ctx context.Context, url string, body any) (*apiResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*apiResponse, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay call %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read relay response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("relay call %s: HTTP %d: %s", req.URL.Path, resp.StatusCode, truncate(string(raw), 200))
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode relay response: %w", err)
	}
	if !env.OK {
		desc := env.Description
		if desc == "" {
			desc = "unknown error"
		}
		return nil, fmt.Errorf("%w: %d %s", ErrAPIError, env.ErrorCode, desc)
	}
	return &env, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
