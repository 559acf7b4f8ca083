package saiverse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/config"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/options"
	cityrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/repo"
	cityboltdb "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/store/boltdb"
	cityinmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/store/inmemory"
	histservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/history/domain/service"
	histinmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/history/store/inmemory"
	llmservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/service"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/mcp"
	memrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
	memservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/service"
	meminmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/store/inmemory"
	memsqlite "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/store/sqlite"
	pbrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/repo"
	pbservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/service"
	pbboltdb "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/store/boltdb"
	pbinmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/store/inmemory"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pulse"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/runtime"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/builtin"
	toolservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/service"
	toolsqlite "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/store/sqlite"
	usageservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/usage/domain/service"
	usagesqlite "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/usage/store/sqlite"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/safego"
)

const appModule = "app"

// App is the wired saiversed daemon: every service constructed, stores
// opened, tools registered. The pulse Controller is the entry surface
// stimulus sources submit into.
type App struct {
	cfg *config.Config

	Personas   cityrepo.PersonaRepository
	Buildings  cityrepo.BuildingRepository
	Playbooks  pbrepo.PlaybookRepository
	Library    *pbservice.Library
	Loader     *pbservice.Loader
	Memory     memrepo.Manager
	MemorySvc  *memservice.Service
	History    *histservice.Service
	Tools      *toolservice.Registry
	Models     *llmservice.ConfigRegistry
	LLM        *llmservice.Manager
	Usage      *usageservice.Tracker
	Runner     *runtime.Runner
	Controller *pulse.Controller
	MCP        *mcp.Manager

	permissions pbrepo.PermissionRepository

	cityDB     *cityboltdb.DB
	playbookDB *pbboltdb.DB
	sqlDB      *sql.DB
}

// NewApp wires the daemon from a completed configuration. Nothing is
// started: Run brings up the background pieces.
func NewApp(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	if err := a.openStores(); err != nil {
		a.closeStores()
		return nil, err
	}

	memSvc := memservice.New(a.Memory)
	a.MemorySvc = memSvc

	historyStore := histinmemory.NewHistoryStore()
	a.History = histservice.New(historyStore, a.Memory)

	a.Models = llmservice.NewConfigRegistry()
	if path := cfg.Models.ConfigFile; path != "" {
		if err := a.Models.LoadFile(path); err != nil {
			a.closeStores()
			return nil, fmt.Errorf("failed to load model catalog: %w", err)
		}
	}
	a.LLM = llmservice.NewManager(a.Models, provider.NewInTreeRegistry())

	usageStore, err := usagesqlite.NewUsageStore(a.sqlDB)
	if err != nil {
		a.closeStores()
		return nil, err
	}
	a.Usage = usageservice.NewTracker(usageStore, cfg.Usage.FlushInterval)

	a.Tools = toolservice.NewRegistry()
	xreplies, err := toolsqlite.NewXReplyStore(a.sqlDB)
	if err != nil {
		a.closeStores()
		return nil, err
	}
	builtin.RegisterAll(a.Tools, builtin.Deps{
		Memory:        a.Memory,
		MemoryService: memSvc,
		History:       a.History,
		Personas:      a.Personas,
		Buildings:     a.Buildings,
		XReplies:      xreplies,
		Gateway:       builtin.NopGateway{},
	})

	a.Loader = pbservice.NewLoader(cfg.Playbook.Dir, a.Playbooks)
	a.Library = pbservice.NewLibrary(a.Playbooks)

	basePrompt, err := loadBasePrompt(cfg.Playbook.BasePromptFile)
	if err != nil {
		a.closeStores()
		return nil, err
	}
	builder := runtime.NewContextBuilder(
		a.Personas, a.Buildings, a.Memory, a.Library, a.Tools, basePrompt)

	metabolism := runtime.NewMetabolism(runtime.MetabolismConfig{
		Personas:      a.Personas,
		Memory:        memSvc,
		LLM:           a.LLM,
		Models:        a.Models,
		Usage:         a.Usage,
		HighWatermark: cfg.Pulse.MetabolismHighWatermark,
	})

	a.Runner = runtime.NewRunner(runtime.RunnerConfig{
		Personas:         a.Personas,
		Buildings:        a.Buildings,
		Library:          a.Library,
		Permissions:      a.permissions,
		Memory:           memSvc,
		History:          a.History,
		LLM:              a.LLM,
		Models:           a.Models,
		Tools:            a.Tools,
		Usage:            a.Usage,
		Builder:          builder,
		Metabolism:       metabolism,
		DataDir:          filepath.Join(cfg.Store.DataDir, "personas"),
		StreamingEnabled: cfg.Models.StreamingEnabled,
		StelisMaxDepth:   cfg.Pulse.StelisMaxDepth,
	})

	a.Controller = pulse.NewController(pulse.ControllerConfig{
		Personas:        a.Personas,
		Library:         a.Library,
		Runner:          a.Runner,
		Memory:          memSvc,
		DefaultPlaybook: cfg.Playbook.DefaultPlaybook,
	})

	mcpCfg, err := mcp.LoadConfig(cfg.MCP.ConfigFile)
	if err != nil {
		a.closeStores()
		return nil, err
	}
	for _, verr := range mcpCfg.Validate() {
		logger.WarnX(appModule, "mcp config: %v", verr)
	}
	a.MCP = mcp.NewManager(mcpCfg, a.Tools)

	return a, nil
}

// Run starts the background pieces and blocks until ctx is cancelled,
// then shuts down in reverse order.
func (a *App) Run(ctx context.Context) error {
	if n, err := a.Loader.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load playbooks: %w", err)
	} else if n == 0 {
		logger.WarnX(appModule, "no playbooks found under %s", a.cfg.Playbook.Dir)
	}
	if a.cfg.Playbook.Watch {
		if err := a.Loader.Watch(ctx); err != nil {
			logger.WarnX(appModule, "playbook watch disabled: %v", err)
		}
	}

	a.Usage.Start(ctx)

	if len(a.MCP.ServerNames()) > 0 {
		safego.Go(ctx, func() {
			if err := a.MCP.Initialize(ctx); err != nil {
				logger.WarnX(appModule, "mcp initialization: %v", err)
			}
		})
	}

	logger.InfoX(appModule, "saiversed up (store=%s, data=%s)",
		a.cfg.Store.Type, a.cfg.Store.DataDir)

	<-ctx.Done()
	return a.Shutdown(context.WithoutCancel(ctx))
}

// Shutdown flushes and closes everything the app opened. Safe to call
// once, after Run's context ended.
func (a *App) Shutdown(ctx context.Context) error {
	logger.InfoX(appModule, "shutting down")
	a.Usage.Close(ctx)
	if err := a.MCP.Close(); err != nil {
		logger.WarnX(appModule, "mcp close: %v", err)
	}
	return a.closeStores()
}

func (a *App) openStores() error {
	cfg := a.cfg
	switch options.StoreType(cfg.Store.Type) {
	case options.StoreInMemory:
		a.Personas = cityinmemory.NewPersonaStore()
		a.Buildings = cityinmemory.NewBuildingStore()
		a.Playbooks = pbinmemory.NewPlaybookStore()
		a.permissions = pbinmemory.NewPermissionStore()
		a.Memory = meminmemory.NewManager()
	default:
		cityDB, err := cityboltdb.Open(filepath.Join(cfg.Store.DataDir, "city.db"))
		if err != nil {
			return err
		}
		a.cityDB = cityDB
		a.Personas = cityboltdb.NewPersonaStore(cityDB)
		a.Buildings = cityboltdb.NewBuildingStore(cityDB)

		pbDB, err := pbboltdb.Open(filepath.Join(cfg.Store.DataDir, "playbook.db"))
		if err != nil {
			return err
		}
		a.playbookDB = pbDB
		a.Playbooks = pbboltdb.NewPlaybookStore(pbDB)
		a.permissions = pbboltdb.NewPermissionStore(pbDB)

		a.Memory = memsqlite.NewManager(filepath.Join(cfg.Store.DataDir, "personas"))
	}

	dsn := filepath.Join(cfg.Store.DataDir, "city.sqlite")
	if options.StoreType(cfg.Store.Type) == options.StoreInMemory {
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open city sqlite database: %w", err)
	}
	a.sqlDB = db
	return nil
}

func (a *App) closeStores() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Memory != nil {
		record(a.Memory.CloseAll())
	}
	if a.sqlDB != nil {
		record(a.sqlDB.Close())
	}
	if a.playbookDB != nil {
		record(a.playbookDB.Close())
	}
	if a.cityDB != nil {
		record(a.cityDB.Close())
	}
	return firstErr
}

func loadBasePrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.WarnX(appModule, "base prompt file %s missing; using empty prompt", path)
			return "", nil
		}
		return "", fmt.Errorf("failed to read base prompt file: %w", err)
	}
	return string(data), nil
}
