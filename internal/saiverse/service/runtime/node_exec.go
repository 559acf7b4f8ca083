package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	mementity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/events"
	pbentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
)

// maxChainDepth bounds nested playbook runs (subplay/exec) regardless of
// graph shape.
const maxChainDepth = 10

// defaultExecPlaybook runs when the router produced no usable selection.
const defaultExecPlaybook = "basic_chat"

func (inv *invocation) chainDepth() int {
	chain, _ := inv.state[KeyPlaybookChain].([]string)
	return len(chain)
}

// runSubplay runs a statically named child playbook, inline on the
// current memory thread or on a detached subagent thread.
func (inv *invocation) runSubplay(ctx context.Context, node *pbentity.Node) error {
	if inv.chainDepth() >= maxChainDepth {
		return fmt.Errorf("subplay %s: %w", node.Playbook, errno.ErrRecursionLimit)
	}
	child, err := inv.r.library.Get(ctx, node.Playbook)
	if err != nil {
		inv.state[KeyLast] = err.Error()
		return fmt.Errorf("subplay node %s: %w", node.ID, err)
	}

	tmpl := node.InputTemplate
	if tmpl == "" {
		tmpl = "{input}"
	}
	childInput, _ := FormatTemplate(tmpl, inv.state)

	// Without propagate_output the child writes its output_schema into a
	// throwaway copy; inheritance (pulse id, accumulator) still flows
	// because those live behind shared pointers.
	parent := inv.state
	if !node.PropagateOutput {
		parent = make(State, len(inv.state))
		for k, v := range inv.state {
			parent[k] = v
		}
	}

	run := func(runCtx context.Context) error {
		result, rerr := inv.r.RunPlaybook(runCtx, &RunInput{
			Playbook:      child,
			Persona:       inv.persona,
			BuildingID:    inv.buildingID,
			UserInput:     childInput,
			AutoMode:      inv.autoMode,
			RecordHistory: inv.recordHist,
			ParentState:   parent,
			Events:        inv.events,
			Token:         inv.token,
			PulseType:     inv.pulseType,
		})
		if rerr != nil {
			return rerr
		}
		if len(result.Outputs) > 0 {
			inv.state[KeyLast] = result.Outputs[len(result.Outputs)-1]
		} else if last, ok := result.State[KeyLast]; ok {
			inv.state[KeyLast] = last
		}
		inv.outputs = append(inv.outputs, result.Outputs...)
		return nil
	}

	if node.Execution == "subagent" {
		return inv.runSubagent(ctx, node, run)
	}

	if err := run(ctx); err != nil {
		if errno.IsCancelled(err) {
			return err
		}
		inv.state[KeyLast] = err.Error()
		return fmt.Errorf("subplay %s failed: %w", node.Playbook, err)
	}
	inv.state.AppendActivity("subplay", node.Playbook, inv.pb.Name)
	return nil
}

// runSubagent executes the child run on its own memory sub-thread and
// optionally distills that thread into _subagent_chronicle afterwards.
func (inv *invocation) runSubagent(ctx context.Context, node *pbentity.Node, run func(context.Context) error) error {
	store, err := inv.r.memory.Manager().ForPersona(ctx, inv.persona.ID)
	if err != nil {
		return err
	}
	prev, err := store.ActiveThread(ctx)
	if err != nil {
		return err
	}
	sub, err := inv.r.memory.CreateSubThread(ctx, inv.persona.ID, "subagent")
	if err != nil {
		return err
	}
	if err := store.SetActiveThread(ctx, sub.ID); err != nil {
		return err
	}

	runErr := run(ctx)

	if err := store.SetActiveThread(ctx, prev.ID); err != nil {
		logger.WarnX(runtimeModule, "subagent: failed to restore thread %s for %s: %v",
			prev.ID, inv.persona.ID, err)
	}
	if runErr != nil {
		if errno.IsCancelled(runErr) {
			return runErr
		}
		inv.state[KeyLast] = runErr.Error()
		return fmt.Errorf("subagent %s failed: %w", node.Playbook, runErr)
	}

	if node.SubagentChronicle && inv.r.metabolism != nil {
		summary, serr := inv.r.metabolism.SummarizeThread(ctx, inv.persona, sub.ID)
		if serr != nil {
			logger.WarnX(runtimeModule, "subagent chronicle for %s failed: %v", sub.ID, serr)
		} else if summary != "" {
			inv.state[KeySubagentChronicle] = summary
		}
	}
	inv.state.AppendActivity("subagent", node.Playbook, inv.pb.Name)
	return nil
}

// runExec runs a playbook chosen at runtime, typically by a router LLM
// node. Execution failures do not fail the node: they set _exec_error
// so the graph can route through error_next.
func (inv *invocation) runExec(ctx context.Context, node *pbentity.Node) error {
	source := node.PlaybookSource
	if source == "" {
		source = "selected_playbook"
	}
	name := strings.TrimSpace(inv.state.GetString(source))
	if name == "" {
		name = strings.TrimSpace(inv.state.GetString(KeyLast))
	}
	if name == "" {
		name = defaultExecPlaybook
	}

	if inv.chainDepth() >= maxChainDepth {
		inv.markExecFailed(ctx, name, errno.ErrRecursionLimit)
		return nil
	}

	child, err := inv.r.library.Get(ctx, name)
	if err != nil {
		inv.markExecFailed(ctx, name, err)
		return nil
	}

	if name != defaultExecPlaybook {
		allowed, denial := inv.checkPermission(ctx, name)
		if !allowed {
			// Denial is not an execution failure: the denial text takes
			// the success edge so the conversation can continue.
			inv.state[KeyExecError] = false
			inv.state[KeyLast] = denial
			inv.r.memory.TryRemember(ctx, inv.persona.ID, mementity.RoleSystem, denial,
				[]string{"error", "exec", name},
				mementity.Metadata{mementity.MetaPulseID: inv.pulseID})
			inv.closeToolCallPair(denial)
			inv.emitActivity("exec", name, "denied")
			return nil
		}
	}

	argsSource := node.ArgsSource
	if argsSource == "" {
		argsSource = "selected_args"
	}
	var initial map[string]any
	if raw, ok := inv.state.Get(argsSource); ok {
		if m, isMap := raw.(map[string]any); isMap {
			initial = m
		}
	}
	childInput := inv.state.GetString(KeyInput)
	if v, ok := initial["input"].(string); ok && v != "" {
		childInput = v
	}

	result, rerr := inv.r.RunPlaybook(ctx, &RunInput{
		Playbook:      child,
		Persona:       inv.persona,
		BuildingID:    inv.buildingID,
		UserInput:     childInput,
		AutoMode:      inv.autoMode,
		RecordHistory: inv.recordHist,
		ParentState:   inv.state,
		Events:        inv.events,
		Token:         inv.token,
		PulseType:     inv.pulseType,
		InitialParams: initial,
	})
	if rerr != nil {
		if errno.IsCancelled(rerr) {
			return rerr
		}
		inv.markExecFailed(ctx, name, rerr)
		return nil
	}

	inv.state[KeyExecError] = false
	delete(inv.state, KeyExecErrorDetail)
	if executed, ok := inv.state["executed_playbooks"].([]string); ok {
		inv.state["executed_playbooks"] = append(executed, name)
	}
	if len(result.Outputs) > 0 {
		inv.state[KeyLast] = result.Outputs[len(result.Outputs)-1]
	}
	inv.outputs = append(inv.outputs, result.Outputs...)
	inv.closeToolCallPair(fmt.Sprintf("プレイブック「%s」を実行しました。", name))
	inv.state.AppendActivity("exec", name, inv.pb.Name)
	inv.emitActivity("exec", name, "ok")
	return nil
}

// markExecFailed records an exec failure in state and memory; routing
// then takes error_next.
func (inv *invocation) markExecFailed(ctx context.Context, name string, err error) {
	logger.WarnX(runtimeModule, "exec %s failed: %v", name, err)
	inv.state[KeyExecError] = true
	inv.state[KeyExecErrorDetail] = err.Error()
	inv.state[KeyLast] = fmt.Sprintf("プレイブック「%s」の実行に失敗しました: %v", name, err)
	inv.r.memory.TryRemember(ctx, inv.persona.ID, mementity.RoleAssistant,
		fmt.Sprintf("(プレイブック「%s」の実行に失敗: %v)", name, err),
		[]string{"error", "exec", name},
		mementity.Metadata{mementity.MetaPulseID: inv.pulseID})
	inv.closeToolCallPair(inv.state.GetString(KeyLast))
	inv.emitActivity("exec", name, "error")
}

// closeToolCallPair appends a synthetic tool message so an assistant
// message carrying the routing tool call never dangles unanswered.
func (inv *invocation) closeToolCallPair(content string) {
	callID, _ := inv.state[KeyLastToolCallID].(string)
	if callID == "" {
		return
	}
	msg := &schema.Message{
		Role:       schema.Tool,
		Content:    content,
		ToolCallID: callID,
	}
	inv.appendMessage(msg)
	inv.appendIntermediate(msg)
	delete(inv.state, KeyLastToolCallID)
}

// checkPermission applies the per-city permission level for a playbook
// about to run via EXEC. The second return value is the denial message
// shown to the persona when the first is false.
func (inv *invocation) checkPermission(ctx context.Context, name string) (bool, string) {
	cityID := ""
	if inv.buildingID != "" {
		if b, err := inv.r.buildings.Get(ctx, inv.buildingID); err == nil {
			cityID = b.CityID
		}
	}

	level := pbentity.PermissionAutoAllow
	if inv.r.permissions != nil {
		if got, err := inv.r.permissions.Get(ctx, cityID, name); err == nil && got.Valid() {
			level = got
		}
	}

	switch level {
	case pbentity.PermissionBlocked:
		return false, fmt.Sprintf("(プレイブック「%s」は管理者によりブロックされています)", name)
	case pbentity.PermissionUserOnly:
		return false, fmt.Sprintf("(プレイブック「%s」はユーザーの明示的な指示でのみ実行できます)", name)
	case pbentity.PermissionAutoAllow:
		return true, ""
	case pbentity.PermissionAskEveryTime:
		// Unattended pulses cannot prompt anyone; they proceed.
		if inv.autoMode || inv.pulseType == "schedule" {
			return true, ""
		}
		decision := inv.events.AskPermission(ctx, inv.persona.ID, name)
		switch decision {
		case events.DecisionAllow:
			return true, ""
		case events.DecisionAlwaysAllow:
			inv.setPermission(ctx, cityID, name, pbentity.PermissionAutoAllow)
			return true, ""
		case events.DecisionNeverUse:
			inv.setPermission(ctx, cityID, name, pbentity.PermissionUserOnly)
			return false, fmt.Sprintf("(プレイブック「%s」の実行はユーザーにより恒久的に拒否されました)", name)
		default:
			return false, fmt.Sprintf("(プレイブック「%s」の実行はユーザーに許可されませんでした)", name)
		}
	}
	return true, ""
}

func (inv *invocation) setPermission(ctx context.Context, cityID, name string, level pbentity.PermissionLevel) {
	if inv.r.permissions == nil {
		return
	}
	err := inv.r.permissions.Set(ctx, &pbentity.Permission{
		CityID:       cityID,
		PlaybookName: name,
		Level:        level,
	})
	if err != nil {
		logger.WarnX(runtimeModule, "failed to persist permission %s=%s: %v", name, level, err)
	}
}
