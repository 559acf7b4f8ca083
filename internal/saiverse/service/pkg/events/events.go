package events

import (
	"context"
	"time"
)

// Type enumerates the runtime's event stream.
type Type string

const (
	Status            Type = "status"
	StreamingChunk    Type = "streaming_chunk"
	StreamingThinking Type = "streaming_thinking"
	StreamingComplete Type = "streaming_complete"
	StreamingDiscard  Type = "streaming_discard"
	Say               Type = "say"
	Activity          Type = "activity"
	Warning           Type = "warning"
	Error             Type = "error"
	TweetConfirmation Type = "tweet_confirmation"
	Metabolism        Type = "metabolism"
	StelisStart       Type = "stelis_start"
	StelisEnd         Type = "stelis_end"
)

// Event is one callback emission. Payload keys follow the event type's
// documented shape.
type Event struct {
	Type    Type           `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// PermissionDecision is a user's answer to a permission prompt.
type PermissionDecision string

const (
	DecisionAllow       PermissionDecision = "allow"
	DecisionAlwaysAllow PermissionDecision = "always_allow"
	DecisionDeny        PermissionDecision = "deny"
	DecisionNeverUse    PermissionDecision = "never_use"
)

// PermissionTimeout is how long a permission prompt waits before the
// request is treated as denied.
const PermissionTimeout = 120 * time.Second

// PermissionFunc asks the user whether a playbook may run. It blocks
// until the user answers or ctx expires.
type PermissionFunc func(ctx context.Context, personaID, playbookName string) (PermissionDecision, error)

// Callback carries a request's event sink and optional permission
// prompter. The zero value is safe: emissions are dropped and
// permission prompts time out to deny.
type Callback struct {
	OnEvent    func(ev *Event)
	Permission PermissionFunc
}

// Emit delivers one event, tolerating a nil callback or handler.
func (c *Callback) Emit(t Type, payload map[string]any) {
	if c == nil || c.OnEvent == nil {
		return
	}
	c.OnEvent(&Event{Type: t, Payload: payload})
}

// AskPermission prompts the user with the standard timeout. A missing
// prompter or a timeout reads as deny.
func (c *Callback) AskPermission(ctx context.Context, personaID, playbookName string) PermissionDecision {
	if c == nil || c.Permission == nil {
		return DecisionDeny
	}
	ctx, cancel := context.WithTimeout(ctx, PermissionTimeout)
	defer cancel()
	decision, err := c.Permission(ctx, personaID, playbookName)
	if err != nil {
		return DecisionDeny
	}
	return decision
}
