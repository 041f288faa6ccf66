package bridge

import (
	"io"
	"log/slog"
	"testing"

	"minibridge/internal/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseUpdateSkips(t *testing.T) {
	tests := []struct {
		name   string
		update relay.Update
	}{
		{"no message", relay.Update{UpdateID: 1}},
		{"no sender", relay.Update{UpdateID: 2, Message: &relay.Message{Text: "hi"}}},
		{"empty message", relay.Update{UpdateID: 3, Message: &relay.Message{
			From: &relay.User{ID: 7},
		}}},
		{"whitespace only", relay.Update{UpdateID: 4, Message: &relay.Message{
			From: &relay.User{ID: 7},
			Text: "   \n  ",
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseUpdate(tt.update, testLogger()); got != nil {
				t.Errorf("expected nil, got %+v", got)
			}
		})
	}
}

func TestParseUpdateSenderFallback(t *testing.T) {
	withUsername := relay.Update{UpdateID: 1, Message: &relay.Message{
		MessageID: 10,
		From:      &relay.User{ID: 7, Username: "alice"},
		Text:      "hi",
	}}
	p := ParseUpdate(withUsername, testLogger())
	if p == nil || p.SenderID != "alice" {
		t.Fatalf("expected sender alice, got %+v", p)
	}

	numericOnly := relay.Update{UpdateID: 2, Message: &relay.Message{
		MessageID: 11,
		From:      &relay.User{ID: 7},
		Text:      "hi",
	}}
	p = ParseUpdate(numericOnly, testLogger())
	if p == nil || p.SenderID != "7" {
		t.Fatalf("expected sender 7, got %+v", p)
	}
}

func TestParseUpdateMediaPrecedence(t *testing.T) {
	from := &relay.User{ID: 7, Username: "alice"}

	// Video wins over photo and document.
	p := ParseUpdate(relay.Update{UpdateID: 1, Message: &relay.Message{
		From:     from,
		Video:    &relay.Video{FileID: "https://cdn/v.mp4", MimeType: "video/quicktime"},
		Photo:    []relay.PhotoSize{{FileID: "https://cdn/p.jpg"}},
		Document: &relay.Document{FileID: "https://cdn/d.pdf"},
	}}, testLogger())
	if p == nil || !p.IsVideo {
		t.Fatalf("expected video, got %+v", p)
	}
	if p.MediaURLs[0] != "https://cdn/v.mp4" || p.MediaTypes[0] != "video/quicktime" {
		t.Errorf("unexpected video media: %v %v", p.MediaURLs, p.MediaTypes)
	}

	// Largest (last) photo variant is selected.
	p = ParseUpdate(relay.Update{UpdateID: 2, Message: &relay.Message{
		From: from,
		Photo: []relay.PhotoSize{
			{FileID: "https://cdn/small.jpg", Width: 90},
			{FileID: "https://cdn/large.jpg", Width: 1280},
		},
	}}, testLogger())
	if p == nil || p.MediaURLs[0] != "https://cdn/large.jpg" {
		t.Fatalf("expected largest photo, got %+v", p)
	}
	if p.MediaTypes[0] != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", p.MediaTypes[0])
	}

	// Document mime defaults to octet-stream.
	p = ParseUpdate(relay.Update{UpdateID: 3, Message: &relay.Message{
		From:     from,
		Document: &relay.Document{FileID: "https://cdn/d"},
	}}, testLogger())
	if p == nil || !p.IsDocument {
		t.Fatalf("expected document, got %+v", p)
	}
	if p.MediaTypes[0] != "application/octet-stream" {
		t.Errorf("expected octet-stream default, got %s", p.MediaTypes[0])
	}
}

func TestParseUpdateCaptionCleanup(t *testing.T) {
	p := ParseUpdate(relay.Update{UpdateID: 1, Message: &relay.Message{
		From:    &relay.User{ID: 7, Username: "alice"},
		Caption: "look at this https://cdn/p.jpg\n\n\n[upload_api_url: https://cb.example.com/u/1/sendPhoto]",
		Photo:   []relay.PhotoSize{{FileID: "https://cdn/p.jpg"}},
	}}, testLogger())
	if p == nil {
		t.Fatal("expected parsed message")
	}
	if p.Text != "look at this" {
		t.Errorf("expected cleaned caption, got %q", p.Text)
	}
	if p.UploadCallbackURL != "https://cb.example.com/u/1/sendPhoto" {
		t.Errorf("expected harvested callback url, got %q", p.UploadCallbackURL)
	}
}

func TestParseUpdateChatCallbackWins(t *testing.T) {
	p := ParseUpdate(relay.Update{UpdateID: 1, Message: &relay.Message{
		From: &relay.User{ID: 7, Username: "alice"},
		Chat: &relay.Chat{ID: 42, UploadAPIURL: "https://chat-cb/sendPhoto"},
		Text: "hi [upload_api_url: https://text-cb/sendPhoto]",
	}}, testLogger())
	if p == nil {
		t.Fatal("expected parsed message")
	}
	if p.UploadCallbackURL != "https://chat-cb/sendPhoto" {
		t.Errorf("expected chat callback to win, got %q", p.UploadCallbackURL)
	}
	if p.Text != "hi" {
		t.Errorf("expected marker stripped, got %q", p.Text)
	}
}

func TestParseUpdateBlankLineCollapse(t *testing.T) {
	p := ParseUpdate(relay.Update{UpdateID: 1, Message: &relay.Message{
		From: &relay.User{ID: 7, Username: "alice"},
		Text: "line one\n\n\nline two\n\nline three",
	}}, testLogger())
	if p == nil {
		t.Fatal("expected parsed message")
	}
	if p.Text != "line one\nline two\nline three" {
		t.Errorf("expected collapsed newlines, got %q", p.Text)
	}
}
