package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"

	mementity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	memrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/entity"
)

// chronicleLimit caps how many chronicle entries the weave surfaces.
const chronicleLimit = 5

// WeaveTool assembles the memory weave: recent chronicle summaries plus
// the persona's most vivid memopedia pages, rendered as system messages
// the context builder splices in above the live history.
type WeaveTool struct {
	memory memrepo.Manager
}

func NewWeaveTool(memory memrepo.Manager) *WeaveTool {
	return &WeaveTool{memory: memory}
}

func (t *WeaveTool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        "get_memory_weave_context",
		Desc:        "長期記憶(クロニクルとメモペディア)をコンテキストとして取得する",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}
}

func (t *WeaveTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	personaID := entity.ActivePersonaID(ctx)
	if personaID == "" {
		return []*mementity.Message{}, nil
	}
	store, err := t.memory.ForPersona(ctx, personaID)
	if err != nil {
		return nil, err
	}

	var out []*mementity.Message

	entries, err := store.ListChronicle(ctx, chronicleLimit)
	if err != nil {
		return nil, err
	}
	// ListChronicle returns newest first; the weave reads oldest first.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		content := fmt.Sprintf("【過去の記憶 %s〜%s】\n%s",
			e.StartTime.Format("2006-01-02 15:04"), e.EndTime.Format("2006-01-02 15:04"), e.Content)
		out = append(out, weaveMessage(personaID, content, "chronicle", e.CreatedAt))
	}

	pages, err := store.ListPages(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		if p.Vividness.Rank() < mementity.VividnessRough.Rank() {
			continue
		}
		content := fmt.Sprintf("【メモペディア: %s (%s)】\n%s", p.Title, p.Category, p.Summary)
		if p.Vividness == mementity.VividnessVivid && p.Content != "" {
			content = fmt.Sprintf("【メモペディア: %s (%s)】\n%s", p.Title, p.Category, p.Content)
		}
		out = append(out, weaveMessage(personaID, content, "memopedia", p.UpdatedAt))
	}

	return out, nil
}

func weaveMessage(personaID, content, weaveType string, at time.Time) *mementity.Message {
	return &mementity.Message{
		PersonaID: personaID,
		Role:      mementity.RoleSystem,
		Content:   content,
		CreatedAt: at,
		Metadata: mementity.Metadata{
			mementity.MetaMemoryWeave:     true,
			mementity.MetaMemoryWeaveType: weaveType,
		},
	}
}
