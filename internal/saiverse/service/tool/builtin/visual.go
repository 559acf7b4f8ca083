package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"

	cityrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/repo"
	mementity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/entity"
)

// VisualTool returns the bound persona's current room image as a
// context message. Buildings without an interior image yield nothing.
type VisualTool struct {
	personas  cityrepo.PersonaRepository
	buildings cityrepo.BuildingRepository
}

func NewVisualTool(personas cityrepo.PersonaRepository, buildings cityrepo.BuildingRepository) *VisualTool {
	return &VisualTool{personas: personas, buildings: buildings}
}

func (t *VisualTool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        "get_visual_context",
		Desc:        "現在いる建物の内観画像を視覚コンテキストとして取得する",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}
}

func (t *VisualTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	personaID := entity.ActivePersonaID(ctx)
	if personaID == "" {
		return []*mementity.Message{}, nil
	}
	p, err := t.personas.Get(ctx, personaID)
	if err != nil {
		return nil, err
	}
	if p.CurrentBuildingID == "" {
		return []*mementity.Message{}, nil
	}
	b, err := t.buildings.Get(ctx, p.CurrentBuildingID)
	if err != nil {
		return nil, err
	}
	if b.InteriorImage == "" {
		return []*mementity.Message{}, nil
	}
	msg := &mementity.Message{
		PersonaID: personaID,
		Role:      mementity.RoleUser,
		Content:   fmt.Sprintf("(視覚情報: %sの内観)", b.Name),
		CreatedAt: time.Now(),
		Metadata: mementity.Metadata{
			mementity.MetaVisualContext: true,
			mementity.MetaMedia: []any{
				map[string]any{"type": "image", "url": b.InteriorImage},
			},
		},
	}
	return []*mementity.Message{msg}, nil
}
