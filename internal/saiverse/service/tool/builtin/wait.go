package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"

	cityrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/repo"
	memservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/service"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/entity"
)

// WaitTool records a "nothing to do, waiting" marker in memory.
// Repeated calls within the consolidation window collapse into one
// message with an incremented count.
type WaitTool struct {
	memory   *memservice.Service
	personas cityrepo.PersonaRepository
}

func NewWaitTool(memory *memservice.Service, personas cityrepo.PersonaRepository) *WaitTool {
	return &WaitTool{memory: memory, personas: personas}
}

func (t *WaitTool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "record_wait",
		Desc: "今は行動せず待機することを記録する",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"reason": {
				Desc:     "待機する理由",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
}

func (t *WaitTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	personaID := entity.ActivePersonaID(ctx)
	if personaID == "" {
		return nil, fmt.Errorf("no active persona bound")
	}
	reason, _ := args["reason"].(string)
	if reason == "" {
		reason = "特に理由なし"
	}

	loc := time.Local
	if p, err := t.personas.Get(ctx, personaID); err == nil && p.Timezone != "" {
		if l, lerr := time.LoadLocation(p.Timezone); lerr == nil {
			loc = l
		}
	}

	msg, err := t.memory.RecordWait(ctx, personaID, reason, loc)
	if err != nil {
		return nil, err
	}
	return msg.Content, nil
}
