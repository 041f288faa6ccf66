// Package relay is the HTTP client for the message relay. The relay speaks
// a Telegram-Bot-API-compatible wire format extended with a markProcessed
// ack call, a typing presence call, and per-chat upload callback URLs.
package relay

import "encoding/json"

// Update is one raw wire record returned by getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message carries the message payload of an update.
type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from,omitempty"`
	Chat      *Chat       `json:"chat,omitempty"`
	Text      string      `json:"text,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
	Video     *Video      `json:"video,omitempty"`
	Document  *Document   `json:"document,omitempty"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Chat is the conversation the message belongs to. UploadAPIURL is a relay
// extension: an out-of-band endpoint for sending media back into this chat.
type Chat struct {
	ID           int64  `json:"id"`
	UploadAPIURL string `json:"upload_api_url,omitempty"`
}

// PhotoSize is one size variant of a photo. The relay orders variants
// ascending, so the last element is the largest. FileID doubles as the
// fetch URL in this relay's implementation.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	FileSize int    `json:"file_size,omitempty"`
}

type Video struct {
	FileID   string `json:"file_id"`
	MimeType string `json:"mime_type,omitempty"`
}

type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// apiResponse is the envelope every relay call returns.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}
