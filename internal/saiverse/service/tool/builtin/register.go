package builtin

import (
	cityrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/repo"
	histservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/history/domain/service"
	memrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
	memservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/service"
	toolservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/service"
	toolsqlite "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/store/sqlite"
)

// Deps are the services the builtin tools are wired to.
type Deps struct {
	Memory        memrepo.Manager
	MemoryService *memservice.Service
	History       *histservice.Service
	Personas      cityrepo.PersonaRepository
	Buildings     cityrepo.BuildingRepository
	XReplies      *toolsqlite.XReplyStore
	Gateway       PostGateway
}

// RegisterAll installs every builtin tool into the registry. Tools whose
// dependencies are absent are skipped.
func RegisterAll(reg *toolservice.Registry, deps Deps) {
	if deps.Memory != nil {
		reg.Register(NewWeaveTool(deps.Memory))
		reg.Register(NewMemopediaSaveTool(deps.Memory))
		reg.Register(NewMemopediaOpenTool(deps.Memory))
		reg.Register(NewMemopediaSearchTool(deps.Memory))
		reg.Register(NewMemopediaListTool(deps.Memory))
	}
	if deps.Personas != nil && deps.Buildings != nil {
		reg.Register(NewVisualTool(deps.Personas, deps.Buildings))
		if deps.History != nil {
			reg.Register(NewBuildingMessagesTool(deps.History, deps.Personas, deps.Buildings))
		}
	}
	if deps.MemoryService != nil && deps.Personas != nil {
		reg.Register(NewWaitTool(deps.MemoryService, deps.Personas))
	}
	if deps.XReplies != nil {
		reg.Register(NewReplyTool(deps.XReplies, deps.Gateway))
	}
}
