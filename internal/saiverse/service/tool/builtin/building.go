package builtin

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	cityrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/repo"
	histservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/history/domain/service"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/entity"
)

// BuildingMessagesTool pulls unread building utterances into the bound
// persona's memory. Re-invocation is a no-op when nothing new was said.
type BuildingMessagesTool struct {
	history   *histservice.Service
	personas  cityrepo.PersonaRepository
	buildings cityrepo.BuildingRepository
}

func NewBuildingMessagesTool(history *histservice.Service, personas cityrepo.PersonaRepository, buildings cityrepo.BuildingRepository) *BuildingMessagesTool {
	return &BuildingMessagesTool{history: history, personas: personas, buildings: buildings}
}

func (t *BuildingMessagesTool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        "get_building_messages",
		Desc:        "現在いる建物で交わされた未取り込みの発言を記憶に取り込む",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}
}

func (t *BuildingMessagesTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	personaID := entity.ActivePersonaID(ctx)
	if personaID == "" {
		return nil, fmt.Errorf("no active persona bound")
	}
	p, err := t.personas.Get(ctx, personaID)
	if err != nil {
		return nil, err
	}
	if p.CurrentBuildingID == "" {
		return map[string]any{"ingested": 0}, nil
	}
	occupants, err := t.buildings.Occupants(ctx, p.CurrentBuildingID)
	if err != nil {
		return nil, err
	}
	n, err := t.history.Ingest(ctx, personaID, p.CurrentBuildingID, occupants)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ingested": n}, nil
}
