package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	llmentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/entity"
	llmservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/service"
	mementity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/events"
	pbentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
	usageentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/usage/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

// streamEmptyRetries bounds how often an empty streamed response is
// retried before giving up.
const streamEmptyRetries = 3

func (inv *invocation) runLLM(ctx context.Context, node *pbentity.Node) error {
	profileBased := node.ContextProfile != ""

	var msgs []*schema.Message
	if profileBased {
		base, err := inv.profileBase(ctx, node.ContextProfile)
		if err != nil {
			return err
		}
		msgs = append(msgs, base...)
		msgs = append(msgs, inv.intermediateMsgs()...)
	} else {
		msgs = append(msgs, inv.messages()...)
	}

	var prompt string
	if node.Action != "" {
		expanded, _ := FormatTemplate(node.Action, inv.state)
		prompt = WrapSystem(expanded)
		msgs = append(msgs, &schema.Message{Role: schema.User, Content: prompt})
	}

	respSchema := inv.injectPlaybookEnum(node.ResponseSchema)
	structured := respSchema != nil

	modelID := inv.persona.EffectiveModelID(node.ModelType)
	client, err := inv.r.llm.ClientFor(ctx, modelID, structured)
	if err != nil {
		inv.state[KeyLast] = err.Error()
		return err
	}
	cfg := client.Config()
	cache := llmentity.CacheOptions{
		Enabled: cfg.Cache.Supported && cfg.Cache.DefaultEnabled,
		TTL:     cfg.Cache.DefaultTTL,
	}

	var toolInfos []*schema.ToolInfo
	if len(node.AvailableTools) > 0 {
		toolInfos, err = inv.r.tools.Infos(node.AvailableTools)
		if err != nil {
			inv.state[KeyLast] = err.Error()
			return err
		}
	}

	opts := llmservice.GenerateOptions{Tools: toolInfos, Cache: cache}

	var result *llmentity.GenerateResult
	streamed := false
	if len(toolInfos) == 0 && node.Speak && !structured && inv.r.streamingEnabled {
		result, err = inv.streamText(ctx, client, msgs, opts, node)
		streamed = true
	} else {
		result, err = client.Generate(ctx, msgs, opts)
	}
	if err != nil {
		// A cancelled or failed call may still have billed tokens: the
		// stream's Close finalizes whatever the provider reported before
		// the cut, and that partial usage must be booked too.
		inv.recordUsage(client, cfg, node)
		inv.state[KeyLast] = err.Error()
		return err
	}

	inv.recordUsage(client, cfg, node)

	reasoning := client.ConsumeReasoning()
	details := client.ConsumeReasoningDetails()
	if reasoning != "" {
		inv.state[KeyReasoningText] = reasoning
	}
	if len(details) > 0 {
		inv.state[KeyReasoningDetails] = details
	}

	text := result.Content
	toolCalled := result.ToolName != "" && result.Type != llmentity.ResultText

	var argsMap map[string]any
	if toolCalled && result.ToolArgs != "" {
		if uerr := json.Unmarshal([]byte(result.ToolArgs), &argsMap); uerr != nil {
			logger.WarnX(runtimeModule, "tool args not valid JSON from %s: %v", modelID, uerr)
		}
	}

	// Output binding.
	switch {
	case structured:
		parsed, perr := llmservice.ParseStructured(text, respSchema)
		if perr != nil {
			inv.state[KeyLast] = text
			return fmt.Errorf("structured output of node %s invalid: %w", node.ID, perr)
		}
		key := node.OutputKey
		if key == "" {
			key = node.ID
		}
		inv.state[key] = parsed
		flattenInto(inv.state, key, parsed)
		inv.state["has_speak_content"] = true
		inv.state[KeyLast] = text

	case node.OutputKeys != nil && node.OutputKeys.Mapping != nil:
		mapping := node.OutputKeys.Mapping
		if textKey, ok := mapping["text"]; ok && text != "" {
			inv.state[textKey] = text
		}
		if fcKey, ok := mapping["function_call"]; ok && toolCalled {
			call := map[string]any{"name": result.ToolName, "args": argsMap}
			inv.state[fcKey] = call
			inv.state[fcKey+".name"] = result.ToolName
			inv.state[fcKey+".args"] = argsMap
			for argName, argValue := range argsMap {
				inv.state[fcKey+".args."+argName] = argValue
			}
		}
		if thoughtKey, ok := mapping["thought"]; ok && reasoning != "" {
			inv.state[thoughtKey] = reasoning
		}
		inv.state[KeyLast] = text

	case toolCalled:
		inv.state["tool_called"] = true
		inv.state["tool_name"] = result.ToolName
		inv.state["tool_args"] = argsMap
		for argName, argValue := range argsMap {
			inv.state["tool_arg_"+argName] = argValue
		}
		inv.state[KeyLast] = text

	default:
		inv.state[KeyLast] = text
	}

	if toolCalled {
		inv.state[KeyLastToolCallID] = uuid.NewString()
		inv.state[KeyLastToolName] = result.ToolName
		inv.state[KeyLastToolArgsJSON] = result.ToolArgs
		inv.state[KeyLastThoughtSignature] = result.ThoughtSignature
		if result.Type == llmentity.ResultBoth && text != "" {
			if textKey, ok := mappedTextKey(node); ok {
				inv.state[textKey] = text
			} else {
				inv.state["speak_content"] = text
			}
		}
	}

	// Follow-up conversation entries.
	if toolCalled {
		callID, _ := inv.state[KeyLastToolCallID].(string)
		assistant := &schema.Message{
			Role:    schema.Assistant,
			Content: text,
			ToolCalls: []schema.ToolCall{{
				ID: callID,
				Function: schema.FunctionCall{
					Name:      result.ToolName,
					Arguments: result.ToolArgs,
				},
			}},
		}
		inv.appendMessage(assistant)
		if profileBased {
			inv.appendIntermediate(assistant)
		}
	} else {
		assistant := &schema.Message{Role: schema.Assistant, Content: text}
		inv.appendMessage(assistant)
		if profileBased {
			inv.appendIntermediate(assistant)
		}
	}

	// Speak without streaming: emit a say event and record the utterance.
	if node.Speak && !streamed && !toolCalled && !structured && text != "" {
		md := inv.speakMetadata(node, reasoning, details)
		inv.events.Emit(events.Say, map[string]any{
			"content":    text,
			"persona_id": inv.persona.ID,
			"reasoning":  reasoning,
			"metadata":   md,
		})
		inv.recordSpoken(ctx, text, md)
	}

	if node.Memorize != nil {
		inv.memorizeExchange(ctx, node, prompt, text, structured, reasoning, details)
	}
	return nil
}

// profileBase computes (or reuses) the base context for a profile name.
// One invocation builds each profile at most once.
func (inv *invocation) profileBase(ctx context.Context, profileName string) ([]*schema.Message, error) {
	if cached, ok := inv.profileCache[profileName]; ok {
		return cached, nil
	}
	profile, ok := pbentity.ProfileByName(profileName)
	if !ok {
		return nil, fmt.Errorf("unknown context profile %q", profileName)
	}
	model, err := inv.r.models.Get(inv.persona.ModelID)
	if err != nil {
		return nil, err
	}
	result, err := inv.r.builder.Build(ctx, &BuildRequest{
		Persona:    inv.persona,
		BuildingID: inv.buildingID,
		UserInput:  inv.state.GetString(KeyInput),
		Profile:    profile,
		PulseID:    inv.pulseID,
		Model:      model,
		AutoMode:   inv.autoMode,
	})
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		inv.events.Emit(events.Warning, map[string]any{
			"warning_code": w.Code,
			"content":      w.Content,
			"display":      w.Display,
		})
	}
	inv.profileCache[profileName] = result.Messages
	return result.Messages, nil
}

// injectPlaybookEnum narrows the selected_playbook property of a
// routing schema to the playbooks actually available this pulse.
func (inv *invocation) injectPlaybookEnum(schemaDoc map[string]any) map[string]any {
	if schemaDoc == nil {
		return nil
	}
	available, ok := inv.state["available_playbooks"]
	if !ok {
		return schemaDoc
	}
	names := toStringList(available)
	if len(names) == 0 {
		return schemaDoc
	}
	props, ok := schemaDoc["properties"].(map[string]any)
	if !ok {
		return schemaDoc
	}
	prop, ok := props["selected_playbook"].(map[string]any)
	if !ok {
		return schemaDoc
	}
	enum := make([]any, 0, len(names))
	for _, n := range names {
		enum = append(enum, n)
	}
	// The node's schema belongs to the stored playbook definition, which
	// is shared across pulses and personas. The per-pulse enum goes into
	// copies along the path, never into the definition itself.
	propCopy := make(map[string]any, len(prop)+1)
	for k, v := range prop {
		propCopy[k] = v
	}
	propCopy["enum"] = enum
	propsCopy := make(map[string]any, len(props))
	for k, v := range props {
		propsCopy[k] = v
	}
	propsCopy["selected_playbook"] = propCopy
	doc := make(map[string]any, len(schemaDoc))
	for k, v := range schemaDoc {
		doc[k] = v
	}
	doc["properties"] = propsCopy
	return doc
}

// streamText runs the streaming path, forwarding chunks as events and
// retrying empty completions.
func (inv *invocation) streamText(ctx context.Context, client *llmservice.Client, msgs []*schema.Message, opts llmservice.GenerateOptions, node *pbentity.Node) (*llmentity.GenerateResult, error) {
	for attempt := 1; attempt <= streamEmptyRetries; attempt++ {
		if err := inv.state.CheckCancelled(); err != nil {
			return nil, err
		}
		text, err := inv.streamOnce(ctx, client, msgs, opts, node)
		if err != nil {
			return nil, err
		}
		if text != "" {
			reasoning := client.ConsumeReasoning()
			if reasoning != "" {
				// Put it back for the caller's consume.
				inv.state[KeyReasoningText] = reasoning
			}
			md := inv.speakMetadata(node, reasoning, nil)
			inv.events.Emit(events.StreamingComplete, map[string]any{
				"persona_id": inv.persona.ID,
				"node_id":    node.ID,
				"reasoning":  reasoning,
				"metadata":   md,
			})
			inv.recordSpoken(ctx, text, md)
			return &llmentity.GenerateResult{Type: llmentity.ResultText, Content: text}, nil
		}
		// Empty completion: discard the attempt's usage and retry.
		client.ConsumeUsage()
		inv.events.Emit(events.StreamingDiscard, map[string]any{
			"persona_id": inv.persona.ID,
			"node_id":    node.ID,
		})
		logger.WarnX(runtimeModule, "empty streamed response from %s (attempt %d/%d)",
			client.Config().ID, attempt, streamEmptyRetries)
	}
	return &llmentity.GenerateResult{Type: llmentity.ResultText, Content: ""}, nil
}

func (inv *invocation) streamOnce(ctx context.Context, client *llmservice.Client, msgs []*schema.Message, opts llmservice.GenerateOptions, node *pbentity.Node) (string, error) {
	stream, err := client.GenerateStream(ctx, msgs, opts)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var text string
	for {
		if cerr := inv.state.CheckCancelled(); cerr != nil {
			// Closing the stream disconnects the transport and stops
			// token billing.
			return "", cerr
		}
		chunk, rerr := stream.Recv()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return "", rerr
		}
		if chunk.Thinking {
			inv.events.Emit(events.StreamingThinking, map[string]any{
				"content":    chunk.Content,
				"persona_id": inv.persona.ID,
				"node_id":    node.ID,
			})
			continue
		}
		if chunk.Content == "" {
			continue
		}
		text += chunk.Content
		inv.events.Emit(events.StreamingChunk, map[string]any{
			"content":    chunk.Content,
			"persona_id": inv.persona.ID,
			"node_id":    node.ID,
		})
	}
	return text, nil
}

// recordUsage consumes the call's usage record, prices it, and books it
// into both the tracker and the pulse accumulator.
func (inv *invocation) recordUsage(client *llmservice.Client, cfg *llmentity.ModelConfig, node *pbentity.Node) {
	usage := client.ConsumeUsage()
	if usage == nil {
		return
	}
	cost := cfg.CostUSD(*usage)
	if inv.r.usage != nil {
		inv.r.usage.Record(&usageentity.Record{
			PersonaID:        inv.persona.ID,
			BuildingID:       inv.buildingID,
			ModelID:          usage.ModelID,
			InputTokens:      usage.InputTokens,
			OutputTokens:     usage.OutputTokens,
			CachedTokens:     usage.CachedTokens,
			CacheWriteTokens: usage.CacheWriteTokens,
			CostUSD:          cost,
			NodeType:         string(node.Type),
			PlaybookName:     inv.pb.Name,
			Category:         inv.pulseType,
		})
	}
	if acc := inv.accumulator(); acc != nil {
		acc.Add(usage, cost)
	}
}

// speakMetadata merges reasoning and the node's metadata_key payload.
func (inv *invocation) speakMetadata(node *pbentity.Node, reasoning string, details []map[string]any) mementity.Metadata {
	md := mementity.Metadata{}
	if node.MetadataKey != "" {
		if extra, ok := inv.state[node.MetadataKey].(map[string]any); ok {
			for k, v := range extra {
				md[k] = v
			}
		}
	}
	if reasoning != "" {
		md[mementity.MetaReasoning] = reasoning
	}
	if len(details) > 0 {
		md[mementity.MetaReasoningDetails] = details
	}
	if trace, ok := inv.state[KeyActivityTrace].([]map[string]any); ok && len(trace) > 0 {
		md[mementity.MetaActivityTrace] = trace
	}
	md[mementity.MetaPulseID] = inv.pulseID
	return md
}

// recordSpoken appends a spoken utterance to the building history and
// to the run's outputs.
func (inv *invocation) recordSpoken(ctx context.Context, text string, md mementity.Metadata) {
	inv.outputs = append(inv.outputs, text)
	if !inv.recordHist || inv.buildingID == "" || inv.r.history == nil {
		return
	}
	if _, err := inv.r.history.Append(ctx, inv.buildingID, inv.persona.ID, mementity.RoleAssistant, text, nil, md.Clone()); err != nil {
		logger.WarnX(runtimeModule, "failed to record utterance for %s: %v", inv.persona.ID, err)
	}
}

// memorizeExchange saves the prompt/response pair per the node's
// memorize option.
func (inv *invocation) memorizeExchange(ctx context.Context, node *pbentity.Node, prompt, response string, structured bool, reasoning string, details []map[string]any) {
	tags := node.Memorize.Tags
	if prompt != "" {
		inv.r.memory.TryRemember(ctx, inv.persona.ID, mementity.RoleUser, prompt, tags, mementity.Metadata{
			mementity.MetaPulseID: inv.pulseID,
		})
	}
	md := mementity.Metadata{mementity.MetaPulseID: inv.pulseID}
	if reasoning != "" {
		md[mementity.MetaReasoning] = reasoning
	}
	if len(details) > 0 {
		md[mementity.MetaReasoningDetails] = details
	}
	inv.r.memory.TryRemember(ctx, inv.persona.ID, mementity.RoleAssistant, response, tags, md)
	inv.state.AppendActivity("memorize", node.ID, inv.pb.Name)
	inv.events.Emit(events.Activity, map[string]any{
		"action":       "memorize",
		"name":         node.ID,
		"playbook":     inv.pb.Name,
		"status":       "ok",
		"persona_id":   inv.persona.ID,
		"persona_name": inv.persona.Name,
	})
}

func mappedTextKey(node *pbentity.Node) (string, bool) {
	if node.OutputKeys != nil && node.OutputKeys.Mapping != nil {
		k, ok := node.OutputKeys.Mapping["text"]
		return k, ok
	}
	return "", false
}

func toStringList(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
