package runtime

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cityentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/entity"
	cityinmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/store/inmemory"
	llmentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/entity"
	llmservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/service"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/spi"
	memservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/service"
	meminmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/store/inmemory"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	pbentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
	pbservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/service"
	pbinmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/store/inmemory"
	toolservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/service"
	usageentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/usage/domain/entity"
	usageservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/usage/domain/service"
)

type captureSink struct {
	mu      sync.Mutex
	records []*usageentity.Record
}

func (s *captureSink) InsertRecords(ctx context.Context, recs []*usageentity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, recs...)
	return nil
}

// interruptedModel streams one chunk with usage attached, then cancels
// the run's token the way a preempting request would.
type interruptedModel struct {
	token *CancellationToken
}

func (m *interruptedModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return &schema.Message{Role: schema.Assistant, Content: "unused"}, nil
}

func (m *interruptedModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](0)
	go func() {
		defer sw.Close()
		sw.Send(&schema.Message{
			Role:    schema.Assistant,
			Content: "こんにち",
			ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{
				PromptTokens:     24,
				CompletionTokens: 5,
			}},
		}, nil)
		m.token.Cancel("user")
		for {
			if closed := sw.Send(&schema.Message{Role: schema.Assistant, Content: "は"}, nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

func (m *interruptedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

type scriptedPlugin struct {
	m model.ToolCallingChatModel
}

func (p *scriptedPlugin) Name() string { return "scripted" }

func (p *scriptedPlugin) BuildChatModel(ctx context.Context, cfg *llmentity.ModelConfig, params *llmentity.Params) (model.ToolCallingChatModel, error) {
	return p.m, nil
}

func TestCancelledStreamStillBooksUsage(t *testing.T) {
	ctx := context.Background()
	token := NewCancellationToken()

	providers := provider.NewRegistry()
	providers.MustRegister("scripted", func() spi.ChatModelPlugin {
		return &scriptedPlugin{m: &interruptedModel{token: token}}
	})

	models := llmservice.NewConfigRegistry()
	path := filepath.Join(t.TempDir(), "models.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"models": [{"id": "scripted-1", "provider": "scripted", "model": "scripted-v1",
			"context_length": 8192, "pricing": {"input": 1, "output": 2}}]
	}`), 0o644))
	require.NoError(t, models.LoadFile(path))

	personas := cityinmemory.NewPersonaStore()
	buildings := cityinmemory.NewBuildingStore()
	persona := &cityentity.Persona{ID: "p1", Name: "灯", ModelID: "scripted-1"}
	require.NoError(t, personas.Create(ctx, persona))

	memManager := meminmemory.NewManager()
	pbStore := pbinmemory.NewPlaybookStore()
	library := pbservice.NewLibrary(pbStore)
	registry := toolservice.NewRegistry()

	sink := &captureSink{}
	tracker := usageservice.NewTracker(sink, time.Hour)

	runner := NewRunner(RunnerConfig{
		Personas:         personas,
		Buildings:        buildings,
		Library:          library,
		Memory:           memservice.New(memManager),
		LLM:              llmservice.NewManager(models, providers),
		Models:           models,
		Tools:            registry,
		Usage:            tracker,
		Builder:          NewContextBuilder(personas, buildings, memManager, library, registry, ""),
		StreamingEnabled: true,
	})

	pb := &pbentity.Playbook{
		Name:                "chatty",
		StartNode:           "talk",
		ContextRequirements: noContext(),
		Nodes: []*pbentity.Node{
			{ID: "talk", Type: pbentity.NodeLLM, Speak: true},
		},
	}

	_, err := runner.RunPlaybook(ctx, &RunInput{
		Playbook:  pb,
		Persona:   persona,
		UserInput: "やあ",
		Token:     token,
	})
	require.Error(t, err)
	assert.True(t, errno.IsCancelled(err))

	// The cut-off call still billed tokens; the partial usage must be
	// booked even though the run never finished.
	tracker.Flush(ctx)
	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "scripted-1", rec.ModelID)
	assert.Equal(t, 24, rec.InputTokens)
	assert.Equal(t, "chatty", rec.PlaybookName)
	assert.Greater(t, rec.CostUSD, 0.0)
}
