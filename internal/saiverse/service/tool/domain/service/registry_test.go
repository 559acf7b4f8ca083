package service

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/entity"
)

type stubTool struct {
	name string
	fn   func(ctx context.Context, args map[string]any) (any, error)
}

func (t *stubTool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{Name: t.name, Desc: "stub"}
}

func (t *stubTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return t.fn(ctx, args)
}

func TestRegistryRegisterGetUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "echo"})

	tool, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", tool.Info().Name)

	r.Unregister("echo")
	_, err = r.Get("echo")
	assert.ErrorIs(t, err, errno.ErrToolNotFound)
}

func TestRegistryReplaceOnReregister(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "echo", fn: func(context.Context, map[string]any) (any, error) {
		return "old", nil
	}})
	r.Register(&stubTool{name: "echo", fn: func(context.Context, map[string]any) (any, error) {
		return "new", nil
	}})

	out, err := r.Invoke(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "new", out)
	assert.Len(t, r.List(), 1)
}

func TestRegistryInfos(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "a"})
	r.Register(&stubTool{name: "b"})

	infos, err := r.Infos([]string{"b", "a"})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "b", infos[0].Name)
	assert.Equal(t, "a", infos[1].Name)

	_, err = r.Infos([]string{"a", "missing"})
	assert.ErrorIs(t, err, errno.ErrToolNotFound)
}

func TestRegistryInvokeSeesBinding(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "whoami", fn: func(ctx context.Context, _ map[string]any) (any, error) {
		return entity.ActivePersonaID(ctx), nil
	}})

	ctx := entity.WithBinding(context.Background(), &entity.Binding{PersonaID: "p1"})
	out, err := r.Invoke(ctx, "whoami", nil)
	require.NoError(t, err)
	assert.Equal(t, "p1", out)

	// Without a binding the accessors fall back to zero values.
	out, err = r.Invoke(context.Background(), "whoami", nil)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestRegistryInvokeAppliesTimeout(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "deadline", fn: func(ctx context.Context, _ map[string]any) (any, error) {
		_, ok := ctx.Deadline()
		return ok, nil
	}})

	out, err := r.Invoke(context.Background(), "deadline", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}
