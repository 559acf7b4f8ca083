package service

import (
	"context"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

// einoTool adapts a registered tool to Eino's tool.InvokableTool so it
// can be offered to a tool-calling chat model.
type einoTool struct {
	t entity.Tool
}

var _ einotool.InvokableTool = (*einoTool)(nil)

func (e *einoTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return e.t.Info(), nil
}

func (e *einoTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args map[string]any
	if argumentsInJSON != "" && argumentsInJSON != "{}" {
		if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
			return "", fmt.Errorf("failed to unmarshal arguments JSON: %w", err)
		}
	}
	if args == nil {
		args = make(map[string]any)
	}

	result, err := e.t.Invoke(ctx, args)
	if err != nil {
		return "", err
	}
	return StringifyResult(result)
}

// AsEinoTool wraps a registered tool for use with an Eino chat model.
func AsEinoTool(t entity.Tool) einotool.InvokableTool {
	return &einoTool{t: t}
}

// StringifyResult renders a tool result for feeding back to an LLM.
// Strings pass through untouched; everything else is marshalled.
func StringifyResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(result)
		if err != nil {
			return "", fmt.Errorf("failed to marshal tool result: %w", err)
		}
		return string(b), nil
	}
}

// externalTool wraps an Eino tool (typically discovered over MCP) as a
// registry tool under a namespaced name.
type externalTool struct {
	backend einotool.InvokableTool
	info    *schema.ToolInfo
}

var _ entity.Tool = (*externalTool)(nil)

func (x *externalTool) Info() *schema.ToolInfo { return x.info }

func (x *externalTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
	}
	return x.backend.InvokableRun(ctx, string(raw))
}

// WrapExternal adapts an Eino tool into a registry tool, overriding its
// advertised name and description.
func WrapExternal(ctx context.Context, backend einotool.BaseTool, name, desc string) (entity.Tool, error) {
	invokable, ok := backend.(einotool.InvokableTool)
	if !ok {
		return nil, fmt.Errorf("tool %q is not invokable", name)
	}
	info, err := backend.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get tool info for %q: %w", name, err)
	}
	renamed := *info
	renamed.Name = name
	if desc != "" {
		renamed.Desc = desc
	}
	return &externalTool{backend: invokable, info: &renamed}, nil
}
