package domain

import "time"

// ChannelID identifies this bridge surface in session keys and addresses.
const ChannelID = "miniprogram"

// ParsedMessage is the canonical decoded form of one relay update.
// MediaURLs and MediaTypes are always aligned by index.
type ParsedMessage struct {
	SenderID          string
	UpdateID          int64
	Text              string
	MediaURLs         []string
	MediaTypes        []string
	UploadCallbackURL string
	IsVideo           bool
	IsDocument        bool
}

// MsgContext is the inbound context handed to the agent runtime.
// MediaPaths hold local copies of downloaded media and are preferred over
// MediaURLs when both are present.
type MsgContext struct {
	Body       string    `json:"body"`
	RawBody    string    `json:"rawBody,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	SessionKey string    `json:"sessionKey"`
	AccountID  string    `json:"accountId"`
	MessageSid string    `json:"messageSid"`
	ChatType   string    `json:"chatType"`
	Timestamp  time.Time `json:"timestamp"`
	MediaPaths []string  `json:"mediaPaths,omitempty"`
	MediaURLs  []string  `json:"mediaUrls,omitempty"`
	MediaTypes []string  `json:"mediaTypes,omitempty"`
}

// ReplyChunk is one deliverable piece of a reply generated by the agent
// runtime. A logical reply may span several chunks; each chunk is consumed
// exactly once by the dispatcher as it arrives.
type ReplyChunk struct {
	Text       string
	MediaURLs  []string
	MediaTypes []string
}
