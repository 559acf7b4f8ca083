package entity

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/events"
)

// Tool is one callable capability. Args arrive decoded from JSON;
// results are stringified by the caller when fed back to an LLM.
type Tool interface {
	Info() *schema.ToolInfo
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Binding is the scoped per-call tool context: who is calling, from
// where, and with which event sink. It travels on the context so nested
// tool calls see the right values, and it disappears with the call
// frame. Tools must tolerate a missing binding.
type Binding struct {
	PersonaID    string
	PersonaDir   string
	Manager      any
	PlaybookName string
	AutoMode     bool
	Events       *events.Callback
}

type bindingKey struct{}

// WithBinding attaches a binding to the context.
func WithBinding(ctx context.Context, b *Binding) context.Context {
	return context.WithValue(ctx, bindingKey{}, b)
}

// BindingFrom returns the call's binding, or an empty one.
func BindingFrom(ctx context.Context) *Binding {
	if b, ok := ctx.Value(bindingKey{}).(*Binding); ok && b != nil {
		return b
	}
	return &Binding{}
}

// ActivePersonaID returns the bound persona id, or "".
func ActivePersonaID(ctx context.Context) string {
	return BindingFrom(ctx).PersonaID
}

// ActivePersonaPath returns the bound persona's data directory, or "".
func ActivePersonaPath(ctx context.Context) string {
	return BindingFrom(ctx).PersonaDir
}

// ActiveManager returns the bound manager reference, or nil.
func ActiveManager(ctx context.Context) any {
	return BindingFrom(ctx).Manager
}

// AutoMode reports whether the bound call runs unattended.
func AutoMode(ctx context.Context) bool {
	return BindingFrom(ctx).AutoMode
}

// EventCallback returns the bound event sink, or nil.
func EventCallback(ctx context.Context) *events.Callback {
	return BindingFrom(ctx).Events
}
