package runtime

import (
	"context"
	"fmt"
	"strings"

	mementity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/events"
	pbentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
)

func (inv *invocation) runSet(node *pbentity.Node) error {
	for key, value := range node.Assignments {
		if s, ok := value.(string); ok && strings.Contains(s, "{") {
			expanded, undefined := FormatTemplate(s, inv.state)
			if len(undefined) > 0 {
				logger.DebugX(runtimeModule, "set node %s: undefined refs %v", node.ID, undefined)
			}
			inv.state[key] = expanded
			continue
		}
		inv.state[key] = value
	}
	return nil
}

func (inv *invocation) runMemorize(ctx context.Context, node *pbentity.Node) error {
	tmpl := node.Action
	if tmpl == "" {
		tmpl = "{last}"
	}
	content, _ := FormatTemplate(tmpl, inv.state)
	role := node.Role
	if role == "" {
		role = mementity.RoleAssistant
	}

	md := mementity.Metadata{mementity.MetaPulseID: inv.pulseID}
	if node.MetadataKey != "" {
		if extra, ok := inv.state[node.MetadataKey].(map[string]any); ok {
			for k, v := range extra {
				md[k] = v
			}
		}
	}

	if _, err := inv.r.memory.Remember(ctx, inv.persona.ID, role, content, node.Tags, md); err != nil {
		inv.state[KeyLast] = err.Error()
		return fmt.Errorf("memorize node %s failed: %w", node.ID, err)
	}
	inv.state.AppendActivity("memorize", node.ID, inv.pb.Name)
	inv.emitActivity("memorize", node.ID, "ok")
	return nil
}

func (inv *invocation) runSpeak(ctx context.Context, node *pbentity.Node) error {
	text := inv.state.GetString("speak_content")
	if text == "" {
		text = inv.state.GetString(KeyLast)
	}
	if text == "" {
		return nil
	}
	inv.emitSpoken(ctx, node, text)
	return nil
}

func (inv *invocation) runSay(ctx context.Context, node *pbentity.Node) error {
	tmpl := node.Action
	if tmpl == "" {
		tmpl = "{last}"
	}
	text, _ := FormatTemplate(tmpl, inv.state)
	if text == "" {
		return nil
	}
	inv.emitSpoken(ctx, node, text)
	return nil
}

// emitSpoken is the shared speak/say tail: say event, building history,
// outputs.
func (inv *invocation) emitSpoken(ctx context.Context, node *pbentity.Node, text string) {
	reasoning, _ := inv.state[KeyReasoningText].(string)
	details, _ := inv.state[KeyReasoningDetails].([]map[string]any)
	md := inv.speakMetadata(node, reasoning, details)

	payload := map[string]any{
		"content":    text,
		"persona_id": inv.persona.ID,
		"metadata":   md,
	}
	if reasoning != "" {
		payload["reasoning"] = reasoning
	}
	if trace, ok := inv.state[KeyActivityTrace].([]map[string]any); ok && len(trace) > 0 {
		payload["activity_trace"] = trace
	}
	inv.events.Emit(events.Say, payload)
	inv.recordSpoken(ctx, text, md)
}

func (inv *invocation) runThink(ctx context.Context, node *pbentity.Node) error {
	tmpl := node.Action
	if tmpl == "" {
		tmpl = "{last}"
	}
	content, _ := FormatTemplate(tmpl, inv.state)
	if content == "" {
		return nil
	}
	tags := append([]string{"internal", mementity.PulseTag(inv.pulseID)}, node.Tags...)
	inv.r.memory.TryRemember(ctx, inv.persona.ID, mementity.RoleAssistant, content, tags, mementity.Metadata{
		mementity.MetaPulseID: inv.pulseID,
	})
	return nil
}

func (inv *invocation) runStelisStart(ctx context.Context, node *pbentity.Node) error {
	maxDepth := inv.persona.StelisMaxDepth
	if maxDepth <= 0 {
		maxDepth = inv.r.stelisMaxDepth
	}
	sub, err := inv.r.memory.StartStelis(ctx, inv.persona.ID, maxDepth)
	if err != nil {
		inv.state[KeyLast] = err.Error()
		return fmt.Errorf("stelis start failed: %w", err)
	}
	inv.state["stelis_thread_id"] = sub.ID
	inv.state["stelis_parent_thread_id"] = sub.ParentThreadID
	inv.state["stelis_depth"] = sub.Depth
	inv.state["stelis_available"] = true
	inv.events.Emit(events.StelisStart, map[string]any{
		"persona_id": inv.persona.ID,
		"thread_id":  sub.ID,
		"depth":      sub.Depth,
	})
	return nil
}

func (inv *invocation) runStelisEnd(ctx context.Context, node *pbentity.Node) error {
	threadID, _ := inv.state["stelis_thread_id"].(string)
	if threadID == "" {
		return nil
	}

	if inv.r.metabolism != nil {
		if summary, err := inv.r.metabolism.SummarizeThread(ctx, inv.persona, threadID); err != nil {
			logger.WarnX(runtimeModule, "stelis chronicle for %s failed: %v", threadID, err)
		} else if summary != "" {
			inv.state[KeyLast] = summary
		}
	}

	if err := inv.r.memory.EndStelis(ctx, inv.persona.ID, threadID); err != nil {
		return fmt.Errorf("stelis end failed: %w", err)
	}
	delete(inv.state, "stelis_thread_id")
	delete(inv.state, "stelis_parent_thread_id")
	delete(inv.state, "stelis_depth")
	inv.state["stelis_available"] = false
	inv.events.Emit(events.StelisEnd, map[string]any{
		"persona_id": inv.persona.ID,
		"thread_id":  threadID,
	})
	return nil
}
