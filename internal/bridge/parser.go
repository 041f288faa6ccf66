// Package bridge connects the relay to the agent runtime: it polls
// updates, decodes them, injects them into agent sessions, and dispatches
// the streamed replies back through the relay.
package bridge

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"minibridge/internal/domain"
	"minibridge/internal/relay"
)

var (
	uploadMarkerRe = regexp.MustCompile(`(?i)\[upload_api_url:\s*([^\]]+)\]`)
	blankLinesRe   = regexp.MustCompile(`\n+`)
)

// ParseUpdate decodes one raw relay update into the canonical message form.
// It returns nil when the update carries nothing injectable: no message, no
// identifiable sender, or neither text nor media. Skipped updates still
// advance the poll cursor.
func ParseUpdate(u relay.Update, logger *slog.Logger) *domain.ParsedMessage {
	msg := u.Message
	if msg == nil {
		return nil
	}
	if msg.From == nil {
		logger.Debug("update without sender, skipping", "update_id", u.UpdateID)
		return nil
	}

	// The sender identifier doubles as the reply address on this relay.
	senderID := msg.From.Username
	if senderID == "" {
		senderID = strconv.FormatInt(msg.From.ID, 10)
	}

	callbackURL := ""
	if msg.Chat != nil {
		callbackURL = msg.Chat.UploadAPIURL
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	parsed := &domain.ParsedMessage{
		SenderID:          senderID,
		UpdateID:          u.UpdateID,
		UploadCallbackURL: callbackURL,
	}

	// Media precedence: video, then the largest photo variant, then
	// document. Exactly one media item is extracted per update.
	switch {
	case msg.Video != nil:
		mt := msg.Video.MimeType
		if mt == "" {
			mt = "video/mp4"
		}
		parsed.MediaURLs = []string{msg.Video.FileID}
		parsed.MediaTypes = []string{mt}
		parsed.IsVideo = true
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		parsed.MediaURLs = []string{largest.FileID}
		parsed.MediaTypes = []string{"image/jpeg"}
	case msg.Document != nil:
		mt := msg.Document.MimeType
		if mt == "" {
			mt = "application/octet-stream"
		}
		parsed.MediaURLs = []string{msg.Document.FileID}
		parsed.MediaTypes = []string{mt}
		parsed.IsDocument = true
	}

	parsed.Text = cleanText(text, parsed)

	if parsed.Text == "" && len(parsed.MediaURLs) == 0 {
		logger.Debug("empty update, skipping", "update_id", u.UpdateID)
		return nil
	}
	return parsed
}

// cleanText strips transport artifacts from the message text: embedded
// upload callback markers (harvested into the parsed message when the chat
// did not carry one) and media URLs the relay echoes into captions.
func cleanText(text string, parsed *domain.ParsedMessage) string {
	if m := uploadMarkerRe.FindStringSubmatch(text); m != nil && parsed.UploadCallbackURL == "" {
		parsed.UploadCallbackURL = strings.TrimSpace(m[1])
	}
	text = uploadMarkerRe.ReplaceAllString(text, "")

	for _, u := range parsed.MediaURLs {
		text = strings.ReplaceAll(text, u, "")
	}

	text = blankLinesRe.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}
