package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/entity"
)

// DefaultTimeout bounds a single tool invocation.
const DefaultTimeout = 120 * time.Second

// Registry is the process-wide tool registry. Reads dominate; updates
// (external tool registration, shutdown) take the write lock briefly.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entity.Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entity.Tool)}
}

// Register adds a tool. Re-registering a name replaces the old tool.
func (r *Registry) Register(t entity.Tool) {
	info := t.Info()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[info.Name] = t
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (entity.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errno.ErrToolNotFound, name)
	}
	return t, nil
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Infos resolves tool metadata for the named tools, for exposing them
// to an LLM call.
func (r *Registry) Infos(names []string) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		t, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, t.Info())
	}
	return infos, nil
}

// Invoke runs a tool under the binding already present on ctx, bounded
// by the per-tool timeout.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return t.Invoke(ctx, args)
}
