package domain

import "context"

// Peer identifies the remote party of a conversation.
type Peer struct {
	Kind string // "dm"
	ID   string
}

// Route is the session routing decision for one inbound message.
type Route struct {
	SessionKey     string
	MainSessionKey string
	AgentID        string
	FromRouter     bool
}

// Router resolves the session route for an account/peer pair. The host
// agent gateway provides the production implementation; the bridge falls
// back to its local session resolver when no router is available.
type Router interface {
	ResolveRoute(ctx context.Context, accountID string, peer Peer) (Route, error)
}

// AgentRuntime accepts an inbound message context and streams back reply
// chunks in order. The returned channel is closed when the reply is
// complete; it is never restarted.
type AgentRuntime interface {
	Dispatch(ctx context.Context, msg MsgContext) (<-chan ReplyChunk, error)
}

// SessionRecorder persists inbound messages to the session store.
// Recording is best-effort: callers log failures and continue.
type SessionRecorder interface {
	RecordInbound(ctx context.Context, msg MsgContext, route Route) error
}
