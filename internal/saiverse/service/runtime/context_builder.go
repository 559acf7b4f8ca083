package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	cityentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/entity"
	cityrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/repo"
	llmentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/entity"
	mementity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	memrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
	pbentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
	pbservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/service"
	toolentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/entity"
	toolservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/service"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

const ctxModule = "context"

// sectionSeparator joins system prompt sections.
const sectionSeparator = "\n\n---\n\n"

// metabolismLowWatermark is the minimal history load used the first
// time a chronicle-enabled persona builds context for a model, before
// an anchor exists.
const metabolismLowWatermark = 20

// approachingLimitRatio triggers the soft context warning.
const approachingLimitRatio = 0.85

// Warning codes emitted by the builder.
const (
	WarnContextAutoTrimmed      = "context_auto_trimmed"
	WarnContextApproachingLimit = "context_approaching_limit"
)

// Warning is one non-fatal condition noticed during a context build.
type Warning struct {
	Code    string
	Content string
	Display bool
}

// messageKind classifies built messages for trim protection.
type messageKind int

const (
	kindSystem messageKind = iota
	kindWeave
	kindVisual
	kindHistory
	kindRealtime
	kindUser
)

type contextMessage struct {
	msg  *schema.Message
	kind messageKind
}

// BuildRequest are the inputs of one context build.
type BuildRequest struct {
	Persona     *cityentity.Persona
	BuildingID  string
	UserInput   string
	Profile     *pbentity.ContextRequirements
	PulseID     string
	PreviewOnly bool
	Model       *llmentity.ModelConfig
	AutoMode    bool
}

// BuildResult is the ordered message array plus bookkeeping.
type BuildResult struct {
	Messages        []*schema.Message
	Warnings        []Warning
	EstimatedTokens int
}

// RealtimeInfoFunc supplies extra bullet lines for the realtime context
// message (spatial info from an external gateway, etc.).
type RealtimeInfoFunc func(ctx context.Context, personaID string) []string

// ContextBuilder assembles the message array an LLM node sees,
// according to a context requirements profile and a token budget.
type ContextBuilder struct {
	personas  cityrepo.PersonaRepository
	buildings cityrepo.BuildingRepository
	memory    memrepo.Manager
	library   *pbservice.Library
	tools     *toolservice.Registry
	realtime  RealtimeInfoFunc

	// basePrompt is the common prompt template; placeholders are
	// substituted by literal replacement.
	basePrompt string
}

func NewContextBuilder(
	personas cityrepo.PersonaRepository,
	buildings cityrepo.BuildingRepository,
	memory memrepo.Manager,
	library *pbservice.Library,
	tools *toolservice.Registry,
	basePrompt string,
) *ContextBuilder {
	return &ContextBuilder{
		personas:   personas,
		buildings:  buildings,
		memory:     memory,
		library:    library,
		tools:      tools,
		basePrompt: basePrompt,
	}
}

// SetRealtimeInfo installs the optional realtime info source.
func (b *ContextBuilder) SetRealtimeInfo(fn RealtimeInfoFunc) {
	b.realtime = fn
}

// Build assembles the context. See the profile contract for what each
// flag enables.
func (b *ContextBuilder) Build(ctx context.Context, req *BuildRequest) (*BuildResult, error) {
	profile := req.Profile
	if profile == nil {
		profile, _ = pbentity.ProfileByName("full")
	}
	result := &BuildResult{}

	building, err := b.resolveBuilding(ctx, req.BuildingID)
	if err != nil {
		return nil, err
	}

	var built []contextMessage

	if profile.SystemPrompt {
		sys, err := b.buildSystemPrompt(ctx, req.Persona, building, profile)
		if err != nil {
			return nil, err
		}
		built = append(built, contextMessage{
			msg:  &schema.Message{Role: schema.System, Content: sys},
			kind: kindSystem,
		})
	}

	if profile.MemoryWeave && req.Persona.ChronicleEnabled {
		built = append(built, b.toolMessages(ctx, req, "get_memory_weave_context", kindWeave)...)
	}

	if profile.VisualContext {
		built = append(built, b.toolMessages(ctx, req, "get_visual_context", kindVisual)...)
	}

	history, err := b.loadHistory(ctx, req, building, profile)
	if err != nil {
		return nil, err
	}
	built = append(built, history...)

	if req.UserInput != "" {
		built = append(built, contextMessage{
			msg:  &schema.Message{Role: schema.User, Content: req.UserInput},
			kind: kindUser,
		})
	}

	if profile.RealtimeContext {
		built = insertRealtime(built, b.buildRealtimeMessage(ctx, req.Persona, history))
	}

	built = b.enforceBudget(built, req.Model, result)

	result.Messages = make([]*schema.Message, 0, len(built))
	for _, cm := range built {
		result.Messages = append(result.Messages, cm.msg)
	}
	return result, nil
}

func (b *ContextBuilder) resolveBuilding(ctx context.Context, id string) (*cityentity.Building, error) {
	if id == "" {
		return nil, nil
	}
	return b.buildings.Get(ctx, id)
}

func (b *ContextBuilder) buildSystemPrompt(ctx context.Context, p *cityentity.Persona, building *cityentity.Building, profile *pbentity.ContextRequirements) (string, error) {
	var sections []string

	if b.basePrompt != "" {
		values := map[string]string{
			"current_persona_name":               p.Name,
			"current_persona_id":                 p.ID,
			"current_persona_system_instruction": p.SystemInstruction,
			"linked_user_name":                   p.LinkedUserName,
		}
		if building != nil {
			values["current_building_name"] = building.Name
			values["current_city_name"] = building.CityID
			values["current_building_system_instruction"] = building.SystemInstruction
		}
		sections = append(sections, ReplaceLiterals(b.basePrompt, values))
	}

	about := "## あなたについて\n" + p.SystemInstruction
	if profile.Inventory && len(p.Inventory) > 0 {
		about += "\n\n### インベントリ\n" + bulletList(p.Inventory)
	}
	sections = append(sections, about)

	if building != nil {
		sec := fmt.Sprintf("## %s (ID: %s)\n%s", building.Name, building.ID, building.SystemInstruction)
		if profile.BuildingItems && len(building.Items) > 0 {
			sec += "\n\n### 建物内のアイテム\n" + bulletList(building.Items)
		}
		sections = append(sections, sec)
	}

	if profile.AvailablePlaybooks && b.library != nil {
		available, err := b.library.Available(ctx, p.ID, buildingIDOf(building))
		if err != nil {
			return "", err
		}
		if len(available) > 0 {
			type capability struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			caps := make([]capability, 0, len(available))
			for _, pb := range available {
				caps = append(caps, capability{Name: pb.Name, Description: pb.Description})
			}
			raw, err := json.MarshalIndent(caps, "", "  ")
			if err != nil {
				return "", err
			}
			sections = append(sections, "## 利用可能な能力\n```json\n"+string(raw)+"\n```")
		}
	}

	if profile.WorkingMemory {
		working := map[string]any{
			"current_building_id": p.CurrentBuildingID,
			"execution_state":     p.Execution,
			"anchors":             p.Anchors,
		}
		raw, err := json.MarshalIndent(working, "", "  ")
		if err != nil {
			return "", err
		}
		sections = append(sections, "## 現在の状況\n```json\n"+string(raw)+"\n```")
	}

	return strings.Join(sections, sectionSeparator), nil
}

// toolMessages invokes a context-provider tool under the persona
// binding and converts its messages. Tool failures degrade to a log
// line: a missing weave never blocks a pulse.
func (b *ContextBuilder) toolMessages(ctx context.Context, req *BuildRequest, toolName string, kind messageKind) []contextMessage {
	if b.tools == nil {
		return nil
	}
	ctx = toolentity.WithBinding(ctx, &toolentity.Binding{
		PersonaID: req.Persona.ID,
		AutoMode:  req.AutoMode,
	})
	result, err := b.tools.Invoke(ctx, toolName, nil)
	if err != nil {
		logger.WarnX(ctxModule, "%s failed for %s: %v", toolName, req.Persona.ID, err)
		return nil
	}
	msgs, ok := result.([]*mementity.Message)
	if !ok {
		return nil
	}
	out := make([]contextMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, contextMessage{msg: toSchemaMessage(m), kind: kind})
	}
	return out
}

func (b *ContextBuilder) loadHistory(ctx context.Context, req *BuildRequest, building *cityentity.Building, profile *pbentity.ContextRequirements) ([]contextMessage, error) {
	maxMessages, maxChars, skip := b.resolveHistoryLimits(req, profile)
	if skip {
		return nil, nil
	}

	store, err := b.memory.ForPersona(ctx, req.Persona.ID)
	if err != nil {
		return nil, err
	}
	thread, err := store.ActiveThread(ctx)
	if err != nil {
		return nil, err
	}

	tags := []string{"conversation"}
	if profile.IncludeInternal {
		tags = append(tags, "internal")
	}

	var msgs []*mementity.Message
	modelID := modelIDOf(req.Model)
	metabolism := profile.HistoryDepth == "full" && req.Persona.ChronicleEnabled

	if metabolism {
		if anchorID, ok := req.Persona.AnchorFor(modelID); ok {
			msgs, err = store.FromMessage(ctx, thread.ID, anchorID)
			if err == nil {
				msgs = filterByTags(msgs, tags)
			} else {
				logger.WarnX(ctxModule, "anchor %s unusable for %s, falling back: %v", anchorID, req.Persona.ID, err)
				msgs = nil
			}
		}
		if msgs == nil {
			msgs, err = store.Recent(ctx, memrepo.RecentQuery{
				ThreadID:    thread.ID,
				Tags:        tags,
				MaxMessages: metabolismLowWatermark,
			})
			if err != nil {
				return nil, err
			}
			if len(msgs) > 0 && !req.PreviewOnly {
				req.Persona.SetAnchor(modelID, msgs[0].ID)
				if uerr := b.personas.Update(ctx, req.Persona); uerr != nil {
					logger.WarnX(ctxModule, "failed to persist anchor for %s: %v", req.Persona.ID, uerr)
				}
			}
		}
	} else {
		msgs, err = store.Recent(ctx, memrepo.RecentQuery{
			ThreadID:    thread.ID,
			Tags:        tags,
			MaxMessages: maxMessages,
			MaxChars:    maxChars,
		})
		if err != nil {
			return nil, err
		}
	}

	if profile.HistoryBalanced && maxMessages > 0 && building != nil {
		occupants, oerr := b.buildings.Occupants(ctx, building.ID)
		if oerr == nil {
			msgs = balanceHistory(msgs, req.Persona.ID, occupants, maxMessages)
		}
	}

	out := make([]contextMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, contextMessage{msg: toSchemaMessage(m), kind: kindHistory})
	}
	return out, nil
}

// resolveHistoryLimits interprets history_depth: "full", "none",
// "<N>messages", or a bare integer meaning a character budget.
func (b *ContextBuilder) resolveHistoryLimits(req *BuildRequest, profile *pbentity.ContextRequirements) (maxMessages, maxChars int, skip bool) {
	depth := profile.HistoryDepth
	switch {
	case depth == "" || depth == "none" || depth == "0":
		return 0, 0, true
	case depth == "full":
		if req.Model != nil && req.Model.DefaultMaxHistoryMsgs > 0 {
			return req.Model.DefaultMaxHistoryMsgs, 0, false
		}
		if req.Persona.MaxHistoryMessages > 0 {
			return req.Persona.MaxHistoryMessages, 0, false
		}
		chars := req.Persona.MaxHistoryChars
		if chars <= 0 {
			chars = 8000
		}
		return 0, chars, false
	case strings.HasSuffix(depth, "messages"):
		n, err := strconv.Atoi(strings.TrimSuffix(depth, "messages"))
		if err != nil || n <= 0 {
			return 0, 0, true
		}
		return n, 0, false
	default:
		n, err := strconv.Atoi(depth)
		if err != nil || n <= 0 {
			return 0, 0, true
		}
		return 0, n, false
	}
}

// balanceHistory distributes the message budget evenly across the user
// and the other occupants, so one chatty neighbor cannot crowd out the
// rest.
func balanceHistory(msgs []*mementity.Message, selfID string, occupants []string, limit int) []*mementity.Message {
	speakers := map[string]bool{"user": true}
	for _, id := range occupants {
		if id != selfID {
			speakers[id] = true
		}
	}
	if len(speakers) <= 1 || len(msgs) <= limit {
		return msgs
	}
	quota := limit / len(speakers)
	if quota == 0 {
		quota = 1
	}

	kept := make(map[*mementity.Message]bool)
	perSpeaker := make(map[string]int)
	// Walk newest-first so each speaker keeps its most recent quota.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		speaker := m.PersonaID
		if m.Role == mementity.RoleUser {
			speaker = "user"
		}
		if !speakers[speaker] {
			speaker = "user"
		}
		if perSpeaker[speaker] < quota {
			perSpeaker[speaker]++
			kept[m] = true
		}
	}

	out := make([]*mementity.Message, 0, limit)
	for _, m := range msgs {
		if kept[m] {
			out = append(out, m)
		}
	}
	return out
}

// buildRealtimeMessage produces the single realtime context message.
func (b *ContextBuilder) buildRealtimeMessage(ctx context.Context, p *cityentity.Persona, history []contextMessage) contextMessage {
	loc := time.Local
	if p.Timezone != "" {
		if l, err := time.LoadLocation(p.Timezone); err == nil {
			loc = l
		}
	}
	now := time.Now().In(loc)
	_, offset := now.Zone()

	lines := []string{
		"- 現在時刻: " + now.Format("2006-01-02 15:04:05"),
		fmt.Sprintf("- タイムゾーン: UTC%+03d:00", offset/3600),
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].msg.Role == schema.Assistant {
			lines = append(lines, "- 前回の発言: "+history[i].msg.Content)
			break
		}
	}
	if b.realtime != nil {
		lines = append(lines, b.realtime(ctx, p.ID)...)
	}

	return contextMessage{
		msg: &schema.Message{
			Role:    schema.User,
			Content: strings.Join(lines, "\n"),
			Extra:   map[string]any{mementity.MetaRealtimeContext: true},
		},
		kind: kindRealtime,
	}
}

// insertRealtime places the realtime message immediately before the
// last user message, so the user's words stay last.
func insertRealtime(built []contextMessage, rt contextMessage) []contextMessage {
	for i := len(built) - 1; i >= 0; i-- {
		if built[i].kind == kindUser || (built[i].kind == kindHistory && built[i].msg.Role == schema.User) {
			out := make([]contextMessage, 0, len(built)+1)
			out = append(out, built[:i]...)
			out = append(out, rt)
			out = append(out, built[i:]...)
			return out
		}
	}
	return append(built, rt)
}

// enforceBudget trims oldest history messages until the estimate fits
// the model's context length. System, weave, visual, realtime and the
// last user message are never trimmed.
func (b *ContextBuilder) enforceBudget(built []contextMessage, model *llmentity.ModelConfig, result *BuildResult) []contextMessage {
	if model == nil || model.ContextLength <= 0 {
		return built
	}
	estimator := NewTokenEstimator(model.Provider)

	estimate := func(cms []contextMessage) int {
		total := 0
		for _, cm := range cms {
			total += estimator.EstimateMessage(cm.msg)
		}
		return total
	}

	total := estimate(built)
	trimmed := 0
	for total > model.ContextLength {
		idx := -1
		for i, cm := range built {
			if cm.kind == kindHistory {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		built = append(built[:idx], built[idx+1:]...)
		trimmed++
		total = estimate(built)
	}

	result.EstimatedTokens = total
	if trimmed > 0 {
		result.Warnings = append(result.Warnings, Warning{
			Code:    WarnContextAutoTrimmed,
			Content: fmt.Sprintf("コンテキストが上限を超えたため、古い履歴%d件を削除しました", trimmed),
			Display: true,
		})
	}
	if float64(total) > approachingLimitRatio*float64(model.ContextLength) {
		result.Warnings = append(result.Warnings, Warning{
			Code:    WarnContextApproachingLimit,
			Content: fmt.Sprintf("コンテキスト使用量が上限の85%%に近づいています (%d/%d tokens)", total, model.ContextLength),
			Display: false,
		})
	}
	return built
}

// toSchemaMessage converts a memory message into the wire form an LLM
// call expects, carrying image attachments into MultiContent.
func toSchemaMessage(m *mementity.Message) *schema.Message {
	msg := &schema.Message{
		Role:    schema.RoleType(m.Role),
		Content: m.Content,
	}
	media, _ := m.Metadata[mementity.MetaMedia].([]any)
	if len(media) > 0 {
		parts := []schema.ChatMessagePart{}
		if m.Content != "" {
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeText,
				Text: m.Content,
			})
		}
		for _, item := range media {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			url, _ := entry["url"].(string)
			if url == "" {
				continue
			}
			parts = append(parts, schema.ChatMessagePart{
				Type:     schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{URL: url},
			})
		}
		msg.MultiContent = parts
		msg.Content = ""
	}
	return msg
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func buildingIDOf(b *cityentity.Building) string {
	if b == nil {
		return ""
	}
	return b.ID
}

func modelIDOf(m *llmentity.ModelConfig) string {
	if m == nil {
		return ""
	}
	return m.ID
}

func filterByTags(msgs []*mementity.Message, allowed []string) []*mementity.Message {
	out := make([]*mementity.Message, 0, len(msgs))
	for _, m := range msgs {
		tags := m.Metadata.Tags()
		if len(tags) == 0 {
			out = append(out, m)
			continue
		}
		for _, t := range tags {
			keep := false
			for _, a := range allowed {
				if t == a || strings.HasPrefix(t, "pulse:") {
					keep = true
					break
				}
			}
			if keep {
				out = append(out, m)
				break
			}
		}
	}
	return out
}
