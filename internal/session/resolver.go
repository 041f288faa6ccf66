// Package session validates and resolves agent session keys. A session key
// has the shape "agent:<agentId>:<rest>", where rest may itself contain
// colons.
package session

import (
	"context"
	"strings"

	"minibridge/internal/domain"
)

// DefaultSessionKey is the fallback used when no configured or routed key
// is available.
const DefaultSessionKey = "agent:main:main"

// IsValidKey reports whether key is a well-formed session key: at least
// three colon-separated segments, the first being "agent" (case-insensitive),
// the second a non-empty agent id, and the remainder non-empty.
func IsValidKey(key string) bool {
	parts := strings.Split(key, ":")
	if len(parts) < 3 {
		return false
	}
	if !strings.EqualFold(parts[0], "agent") {
		return false
	}
	if parts[1] == "" {
		return false
	}
	rest := strings.Join(parts[2:], ":")
	return rest != ""
}

// AgentIDFromKey extracts the agent id from a valid session key, or "main"
// when the key is malformed.
func AgentIDFromKey(key string) string {
	if !IsValidKey(key) {
		return "main"
	}
	return strings.Split(key, ":")[1]
}

// Resolver produces routes from statically configured session keys. It is
// the fallback path used when no routing service is wired, and the last
// resort when a wired router fails.
type Resolver struct {
	defaultKey string
}

// NewResolver creates a Resolver. An empty or invalid configured key falls
// back to DefaultSessionKey.
func NewResolver(configuredKey string) *Resolver {
	key := configuredKey
	if !IsValidKey(key) {
		key = DefaultSessionKey
	}
	return &Resolver{defaultKey: key}
}

// Resolve returns the static route for a peer. It never fails; the
// context and peer parameters exist to satisfy the Router interface.
func (r *Resolver) Resolve(ctx context.Context, accountID string, peer domain.Peer) domain.Route {
	return domain.Route{
		SessionKey:     r.defaultKey,
		MainSessionKey: r.defaultKey,
		AgentID:        AgentIDFromKey(r.defaultKey),
		FromRouter:     false,
	}
}
