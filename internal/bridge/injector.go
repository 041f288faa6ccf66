package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"minibridge/internal/bus"
	"minibridge/internal/domain"
	"minibridge/internal/media"
	"minibridge/internal/metrics"
	"minibridge/internal/relay"
	"minibridge/internal/session"
)

// captionLimit is the relay's maximum caption length in runes. Longer
// reply text travels as a separate message after the media.
const captionLimit = 1024

// Injector carries one parsed update through routing, media download,
// session recording, agent dispatch, and reply delivery.
type Injector struct {
	accountID string
	workspace string
	client    *relay.Client
	runtime   domain.AgentRuntime
	router    domain.Router
	recorder  domain.SessionRecorder
	resolver  *session.Resolver
	transfer  *media.Transfer
	events    *bus.Bus
	stats     *metrics.Collector
	logger    *slog.Logger
}

// InjectorParams collects the collaborators an Injector needs. Router and
// Recorder are optional; the local resolver covers routing when absent.
type InjectorParams struct {
	AccountID string
	Workspace string
	Client    *relay.Client
	Runtime   domain.AgentRuntime
	Router    domain.Router
	Recorder  domain.SessionRecorder
	Resolver  *session.Resolver
	Transfer  *media.Transfer
	Events    *bus.Bus
	Stats     *metrics.Collector
	Logger    *slog.Logger
}

// NewInjector creates an Injector from its collaborators.
func NewInjector(p InjectorParams) *Injector {
	return &Injector{
		accountID: p.AccountID,
		workspace: p.Workspace,
		client:    p.Client,
		runtime:   p.Runtime,
		router:    p.Router,
		recorder:  p.Recorder,
		resolver:  p.Resolver,
		transfer:  p.Transfer,
		events:    p.Events,
		stats:     p.Stats,
		logger:    p.Logger,
	}
}

// Inject processes one decoded message end to end: resolve the session
// route, localize media, record the inbound message, dispatch to the agent
// runtime, and deliver the streamed reply chunks in order.
func (in *Injector) Inject(ctx context.Context, parsed *domain.ParsedMessage) error {
	route := in.resolveRoute(ctx, parsed)

	msgCtx := in.buildContext(ctx, parsed, route)

	if in.recorder != nil {
		if err := in.recorder.RecordInbound(ctx, msgCtx, route); err != nil {
			in.logger.Warn("inbound record failed", "account", in.accountID, "err", err)
		}
	}

	in.client.NotifyTyping(ctx, "start")
	defer in.client.NotifyTyping(ctx, "stop")

	chunks, err := in.runtime.Dispatch(ctx, msgCtx)
	if err != nil {
		return fmt.Errorf("dispatch to agent runtime: %w", err)
	}

	// The inbound update id threads exactly one outbound message per
	// dispatch: the first one actually sent.
	reply := &replyOnce{id: parsed.UpdateID}

	for chunk := range chunks {
		in.sendChunk(ctx, chunk, parsed, reply)
	}
	return nil
}

func (in *Injector) resolveRoute(ctx context.Context, parsed *domain.ParsedMessage) domain.Route {
	peer := domain.Peer{Kind: "dm", ID: parsed.SenderID}
	if in.router != nil {
		route, err := in.router.ResolveRoute(ctx, in.accountID, peer)
		if err == nil && session.IsValidKey(route.SessionKey) {
			route.FromRouter = true
			return route
		}
		if err != nil {
			in.logger.Warn("route resolution failed, using local resolver", "account", in.accountID, "err", err)
		}
	}
	return in.resolver.Resolve(ctx, in.accountID, peer)
}

func (in *Injector) buildContext(ctx context.Context, parsed *domain.ParsedMessage, route domain.Route) domain.MsgContext {
	paths := in.transfer.DownloadAll(ctx, parsed.MediaURLs, parsed.MediaTypes, in.accountID)
	for _, p := range paths {
		if p == "" {
			in.stats.Inc(metrics.MediaDownloadErrors)
		} else {
			in.stats.Inc(metrics.MediaDownloads)
		}
	}

	body := parsed.Text
	if body == "" && len(parsed.MediaURLs) > 0 {
		body = mediaPlaceholder(parsed)
	}

	return domain.MsgContext{
		Body:       body,
		RawBody:    parsed.Text,
		From:       domain.ChannelID + ":" + parsed.SenderID,
		To:         domain.ChannelID + ":" + in.accountID,
		SessionKey: route.SessionKey,
		AccountID:  in.accountID,
		MessageSid: strconv.FormatInt(parsed.UpdateID, 10),
		ChatType:   "dm",
		Timestamp:  time.Now(),
		MediaPaths: paths,
		MediaURLs:  parsed.MediaURLs,
		MediaTypes: parsed.MediaTypes,
	}
}

// mediaPlaceholder synthesizes a body for media-only messages so the agent
// runtime always receives non-empty text.
func mediaPlaceholder(parsed *domain.ParsedMessage) string {
	switch {
	case parsed.IsVideo:
		return "<media:video>"
	case parsed.IsDocument:
		return "<media:document>"
	default:
		return "<media:image>"
	}
}

// replyOnce hands out the reply-to update id until a send succeeds, then
// yields zero forever.
type replyOnce struct {
	id int64
}

func (r *replyOnce) peek() int64 { return r.id }
func (r *replyOnce) consume()    { r.id = 0 }

// sendChunk delivers one reply chunk: each media item as its own send call,
// with the chunk text as the caption on the first item when it fits, or as
// a trailing text message otherwise. Item failures are logged and the rest
// of the chunk still goes out.
func (in *Injector) sendChunk(ctx context.Context, chunk domain.ReplyChunk, parsed *domain.ParsedMessage, reply *replyOnce) {
	text := strings.TrimSpace(chunk.Text)

	if len(chunk.MediaURLs) == 0 {
		if text == "" {
			return
		}
		in.sendText(ctx, parsed.SenderID, text, reply)
		return
	}

	captionable := text != "" && utf8.RuneCountInString(text) <= captionLimit

	for i, src := range chunk.MediaURLs {
		mt := ""
		if i < len(chunk.MediaTypes) {
			mt = chunk.MediaTypes[i]
		}

		req := relay.MediaRequest{
			ChatID:      parsed.SenderID,
			Kind:        kindForSource(src, mt),
			ReplyTo:     reply.peek(),
			CallbackURL: parsed.UploadCallbackURL,
		}
		if captionable && i == 0 {
			req.Caption = text
		}

		if media.IsRemoteURL(src) {
			req.SourceURL = src
		} else {
			asset, err := in.transfer.LoadLocal(media.ResolvePath(in.workspace, src))
			if err != nil {
				in.replyFailed(parsed, fmt.Errorf("load media %s: %w", src, err))
				continue
			}
			req.Asset = asset
		}

		if err := in.client.SendMedia(ctx, req); err != nil {
			in.replyFailed(parsed, fmt.Errorf("send media: %w", err))
			continue
		}
		reply.consume()
		in.replySent(parsed)
	}

	if text != "" && !captionable {
		in.sendText(ctx, parsed.SenderID, text, reply)
	}
}

func (in *Injector) sendText(ctx context.Context, chatID, text string, reply *replyOnce) {
	_, err := in.client.SendMessage(ctx, relay.SendMessageRequest{
		ChatID:  chatID,
		Text:    text,
		ReplyTo: reply.peek(),
	})
	if err != nil {
		in.stats.Inc(metrics.ReplyFailuresTotal)
		in.events.Emit(bus.EventReplyFailed, in.accountID, map[string]any{"err": err.Error()})
		in.logger.Error("send reply failed", "account", in.accountID, "err", err)
		return
	}
	reply.consume()
	in.stats.Inc(metrics.RepliesTotal)
	in.events.Emit(bus.EventReplySent, in.accountID, nil)
}

func (in *Injector) replySent(parsed *domain.ParsedMessage) {
	in.stats.Inc(metrics.RepliesTotal)
	in.events.Emit(bus.EventReplySent, in.accountID, map[string]any{"update_id": parsed.UpdateID})
}

func (in *Injector) replyFailed(parsed *domain.ParsedMessage, err error) {
	in.stats.Inc(metrics.ReplyFailuresTotal)
	in.events.Emit(bus.EventReplyFailed, in.accountID, map[string]any{"update_id": parsed.UpdateID, "err": err.Error()})
	in.logger.Error("send reply failed", "account", in.accountID, "err", err)
}

// kindForSource classifies outbound media by declared mime type, falling
// back to the source's file extension.
func kindForSource(src, mimeType string) media.Kind {
	if mimeType != "" {
		return media.KindFromMime(mimeType)
	}
	switch strings.ToLower(filepath.Ext(stripQuery(src))) {
	case ".mp4", ".mov", ".webm", ".avi", ".mkv":
		return media.KindVideo
	case ".mp3", ".ogg", ".wav", ".m4a", ".flac":
		return media.KindAudio
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return media.KindImage
	case "":
		return media.KindImage
	default:
		return media.KindDocument
	}
}

func stripQuery(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		return src[:i]
	}
	return src
}
