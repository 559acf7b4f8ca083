package runtime

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/events"
	pbentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
	toolentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/entity"
	toolservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/service"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
)

// toolContext attaches the persona binding every tool invocation runs
// under.
func (inv *invocation) toolContext(ctx context.Context) context.Context {
	return toolentity.WithBinding(ctx, &toolentity.Binding{
		PersonaID:    inv.persona.ID,
		PersonaDir:   inv.personaDir(),
		Manager:      inv.r,
		PlaybookName: inv.pb.Name,
		AutoMode:     inv.autoMode,
		Events:       inv.events,
	})
}

func (inv *invocation) runTool(ctx context.Context, node *pbentity.Node) error {
	args := make(map[string]any, len(node.ArgsInput))
	for argName, source := range node.ArgsInput {
		if v, ok := inv.state.Get(source); ok {
			args[argName] = v
		} else {
			// Unresolvable sources are literals.
			args[argName] = source
		}
	}

	result, err := inv.r.tools.Invoke(inv.toolContext(ctx), node.Action, args)
	if err != nil {
		inv.state[KeyLast] = err.Error()
		inv.emitActivity("tool", node.Action, "error")
		return fmt.Errorf("tool %s failed: %w", node.Action, err)
	}

	rendered, serr := toolservice.StringifyResult(result)
	if serr != nil {
		rendered = fmt.Sprintf("%v", result)
	}
	inv.state[KeyLast] = rendered
	if node.OutputKey != "" {
		inv.state[node.OutputKey] = result
	}
	if node.OutputKeys != nil && len(node.OutputKeys.List) > 0 {
		bindPositional(inv.state, node.OutputKeys.List, result)
	}

	if !inv.pb.DevOnly {
		inv.state.AppendActivity("tool", node.Action, inv.pb.Name)
	}
	inv.emitActivity("tool", node.Action, "ok")
	return nil
}

// bindPositional maps a tuple-style result onto the listed state keys.
func bindPositional(state State, keys []string, result any) {
	elems, ok := result.([]any)
	if !ok {
		if len(keys) > 0 {
			state[keys[0]] = result
		}
		return
	}
	for i, key := range keys {
		if i < len(elems) {
			state[key] = elems[i]
		}
	}
}

func (inv *invocation) runToolCall(ctx context.Context, node *pbentity.Node) error {
	source := node.CallSource
	if source == "" {
		source = "fc"
	}

	name := inv.state.GetString(source + ".name")
	argsVal, _ := inv.state.Get(source + ".args")
	if name == "" {
		// Legacy binding written by an LLM node without output_keys.
		name = inv.state.GetString("tool_name")
		argsVal, _ = inv.state.Get("tool_args")
	}
	if name == "" {
		inv.state[KeyLast] = "tool_call: no tool selected"
		return nil
	}
	args, _ := argsVal.(map[string]any)

	callID, _ := inv.state[KeyLastToolCallID].(string)

	result, err := inv.r.tools.Invoke(inv.toolContext(ctx), name, args)
	var content string
	if err != nil {
		// The failure is fed back to the LLM as the tool result so the
		// agent can react to it.
		content = fmt.Sprintf("ツール実行エラー: %v", err)
		logger.WarnX(runtimeModule, "tool_call %s failed: %v", name, err)
		inv.emitActivity("tool_call", name, "error")
	} else {
		rendered, serr := toolservice.StringifyResult(result)
		if serr != nil {
			rendered = fmt.Sprintf("%v", result)
		}
		content = rendered
		if node.OutputKey != "" {
			inv.state[node.OutputKey] = result
		}
		if !inv.pb.DevOnly {
			inv.state.AppendActivity("tool_call", name, inv.pb.Name)
		}
		inv.emitActivity("tool_call", name, "ok")
	}
	inv.state[KeyLast] = content

	toolMsg := &schema.Message{
		Role:       schema.Tool,
		Content:    content,
		ToolCallID: callID,
	}
	inv.appendMessage(toolMsg)
	inv.appendIntermediate(toolMsg)
	return nil
}

func (inv *invocation) emitActivity(action, name, status string) {
	inv.events.Emit(events.Activity, map[string]any{
		"action":       action,
		"name":         name,
		"playbook":     inv.pb.Name,
		"status":       status,
		"persona_id":   inv.persona.ID,
		"persona_name": inv.persona.Name,
	})
}
