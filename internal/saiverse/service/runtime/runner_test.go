package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cityentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/entity"
	cityinmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/store/inmemory"
	llmservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/service"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider"
	memservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/service"
	meminmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/store/inmemory"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/events"
	pbentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
	pbservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/service"
	pbinmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/store/inmemory"
	toolentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/entity"
	toolservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/service"
)

// fakeTool is a registry entry with a pluggable body.
type fakeTool struct {
	name string
	fn   func(ctx context.Context, args map[string]any) (any, error)
}

func (t *fakeTool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{Name: t.name, Desc: "test tool"}
}

func (t *fakeTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return t.fn(ctx, args)
}

// eventRecorder collects emitted events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *eventRecorder) callback() *events.Callback {
	return &events.Callback{OnEvent: func(ev *events.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}}
}

func (r *eventRecorder) ofType(t events.Type) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// noContext is the profile playbook tests run under: no system prompt,
// no history, nothing that needs external services.
func noContext() *pbentity.ContextRequirements {
	return &pbentity.ContextRequirements{HistoryDepth: "none"}
}

type runnerFixture struct {
	runner      *Runner
	persona     *cityentity.Persona
	registry    *toolservice.Registry
	memory      *memservice.Service
	playbooks   *pbinmemory.PlaybookStore
	permissions *pbinmemory.PermissionStore
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	ctx := context.Background()

	personas := cityinmemory.NewPersonaStore()
	buildings := cityinmemory.NewBuildingStore()
	persona := &cityentity.Persona{
		ID:      "p1",
		Name:    "灯",
		ModelID: "gpt-4o",
	}
	require.NoError(t, personas.Create(ctx, persona))

	memManager := meminmemory.NewManager()
	memSvc := memservice.New(memManager)

	pbStore := pbinmemory.NewPlaybookStore()
	library := pbservice.NewLibrary(pbStore)
	permissions := pbinmemory.NewPermissionStore()

	registry := toolservice.NewRegistry()
	models := llmservice.NewConfigRegistry()
	llm := llmservice.NewManager(models, provider.NewInTreeRegistry())

	builder := NewContextBuilder(personas, buildings, memManager, library, registry, "")

	runner := NewRunner(RunnerConfig{
		Personas:    personas,
		Buildings:   buildings,
		Library:     library,
		Permissions: permissions,
		Memory:      memSvc,
		LLM:         llm,
		Models:      models,
		Tools:       registry,
		Builder:     builder,
	})
	return &runnerFixture{
		runner:      runner,
		persona:     persona,
		registry:    registry,
		memory:      memSvc,
		playbooks:   pbStore,
		permissions: permissions,
	}
}

func (f *runnerFixture) run(t *testing.T, pb *pbentity.Playbook, in *RunInput) (*RunResult, error) {
	t.Helper()
	if in == nil {
		in = &RunInput{}
	}
	in.Playbook = pb
	if in.Persona == nil {
		in.Persona = f.persona
	}
	return f.runner.RunPlaybook(context.Background(), in)
}

func TestRunPlaybookSetAndSay(t *testing.T) {
	f := newRunnerFixture(t)
	rec := &eventRecorder{}

	pb := &pbentity.Playbook{
		Name:                "greet",
		StartNode:           "fill",
		ContextRequirements: noContext(),
		Nodes: []*pbentity.Node{
			{ID: "fill", Type: pbentity.NodeSet, Assignments: map[string]any{
				"greeting": "こんにちは、{persona_name}です",
			}, Next: "speak"},
			{ID: "speak", Type: pbentity.NodeSay, Action: "{greeting}", Next: pbentity.EndNode},
		},
	}

	result, err := f.run(t, pb, &RunInput{UserInput: "hi", Events: rec.callback()})
	require.NoError(t, err)
	require.Equal(t, []string{"こんにちは、灯です"}, result.Outputs)

	says := rec.ofType(events.Say)
	require.Len(t, says, 1)
	assert.Equal(t, "こんにちは、灯です", says[0].Payload["content"])
	assert.Equal(t, "p1", says[0].Payload["persona_id"])
}

func TestRunPlaybookConditionalRouting(t *testing.T) {
	f := newRunnerFixture(t)

	pbFor := func(answer string) *pbentity.Playbook {
		return &pbentity.Playbook{
			Name:                "router_test",
			StartNode:           "fill",
			ContextRequirements: noContext(),
			Nodes: []*pbentity.Node{
				{ID: "fill", Type: pbentity.NodeSet, Assignments: map[string]any{
					"verdict": map[string]any{"answer": answer},
				}, Next: "branch"},
				{ID: "branch", Type: pbentity.NodePass, ConditionalNext: &pbentity.ConditionalNext{
					Field:   "verdict.answer",
					Cases:   map[string]string{"yes": "say_yes", "no": "say_no"},
					Default: "say_other",
				}},
				{ID: "say_yes", Type: pbentity.NodeSay, Action: "accepted"},
				{ID: "say_no", Type: pbentity.NodeSay, Action: "declined"},
				{ID: "say_other", Type: pbentity.NodeSay, Action: "unknown"},
			},
		}
	}

	result, err := f.run(t, pbFor("yes"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"accepted"}, result.Outputs)

	result, err = f.run(t, pbFor("maybe"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"unknown"}, result.Outputs)
}

func TestRunPlaybookToolNode(t *testing.T) {
	f := newRunnerFixture(t)

	var gotArgs map[string]any
	var gotPersona, gotPlaybook string
	f.registry.Register(&fakeTool{name: "lookup", fn: func(ctx context.Context, args map[string]any) (any, error) {
		gotArgs = args
		gotPersona = toolentity.ActivePersonaID(ctx)
		gotPlaybook = toolentity.BindingFrom(ctx).PlaybookName
		return []any{"first", "second"}, nil
	}})

	pb := &pbentity.Playbook{
		Name:                "tool_test",
		StartNode:           "fill",
		ContextRequirements: noContext(),
		Nodes: []*pbentity.Node{
			{ID: "fill", Type: pbentity.NodeSet, Assignments: map[string]any{
				"query": "weather",
			}, Next: "call"},
			{ID: "call", Type: pbentity.NodeTool, Action: "lookup",
				ArgsInput:  map[string]string{"q": "query", "mode": "exact"},
				OutputKeys: &pbentity.OutputKeys{List: []string{"head", "tail"}},
			},
		},
	}

	result, err := f.run(t, pb, nil)
	require.NoError(t, err)

	// State references resolve; unresolvable sources pass as literals.
	assert.Equal(t, map[string]any{"q": "weather", "mode": "exact"}, gotArgs)
	assert.Equal(t, "p1", gotPersona)
	assert.Equal(t, "tool_test", gotPlaybook)

	assert.Equal(t, "first", result.State["head"])
	assert.Equal(t, "second", result.State["tail"])
	assert.NotEmpty(t, result.State[KeyLast])
}

func TestRunPlaybookToolFailureAborts(t *testing.T) {
	f := newRunnerFixture(t)
	rec := &eventRecorder{}

	f.registry.Register(&fakeTool{name: "broken", fn: func(context.Context, map[string]any) (any, error) {
		return nil, assert.AnError
	}})

	pb := &pbentity.Playbook{
		Name:                "tool_fail",
		StartNode:           "call",
		ContextRequirements: noContext(),
		Nodes: []*pbentity.Node{
			{ID: "call", Type: pbentity.NodeTool, Action: "broken", Next: "never"},
			{ID: "never", Type: pbentity.NodeSay, Action: "unreachable"},
		},
	}

	result, err := f.run(t, pb, &RunInput{Events: rec.callback()})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.NotEmpty(t, rec.ofType(events.Error))
}

func TestRunPlaybookVisitLimitTerminates(t *testing.T) {
	f := newRunnerFixture(t)

	pb := &pbentity.Playbook{
		Name:                "spinner",
		StartNode:           "loop",
		ContextRequirements: noContext(),
		Nodes: []*pbentity.Node{
			{ID: "loop", Type: pbentity.NodePass, Next: "loop"},
		},
	}

	result, err := f.run(t, pb, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Outputs)
}

func TestRunPlaybookCancellation(t *testing.T) {
	f := newRunnerFixture(t)

	pb := &pbentity.Playbook{
		Name:                "interruptible",
		StartNode:           "call",
		ContextRequirements: noContext(),
		Nodes: []*pbentity.Node{
			{ID: "call", Type: pbentity.NodeTool, Action: "sleeper", Next: "speak"},
			{ID: "speak", Type: pbentity.NodeSay, Action: "done"},
		},
	}

	t.Run("cancelled before start", func(t *testing.T) {
		token := NewCancellationToken()
		token.Cancel("user")
		_, err := f.run(t, pb, &RunInput{Token: token})
		assert.True(t, errno.IsCancelled(err))
	})

	t.Run("cancelled mid-run", func(t *testing.T) {
		token := NewCancellationToken()
		f.registry.Register(&fakeTool{name: "sleeper", fn: func(context.Context, map[string]any) (any, error) {
			token.Cancel("user")
			return "ok", nil
		}})

		result, err := f.run(t, pb, &RunInput{Token: token})
		require.Error(t, err)
		assert.True(t, errno.IsCancelled(err))
		assert.Nil(t, result)
	})
}

func TestRunPlaybookInputParams(t *testing.T) {
	f := newRunnerFixture(t)

	pb := &pbentity.Playbook{
		Name:                "child",
		StartNode:           "noop",
		ContextRequirements: noContext(),
		InputSchema: []pbentity.InputParam{
			{Name: "topic"},
			{Name: "hint", Source: "parent.analysis.hint"},
			{Name: "style", Source: "tone"},
		},
		Nodes: []*pbentity.Node{{ID: "noop", Type: pbentity.NodePass}},
	}

	parent := State{
		"analysis": map[string]any{"hint": "short"},
		"tone":     "formal",
	}

	result, err := f.run(t, pb, &RunInput{
		UserInput:     "the weather",
		ParentState:   parent,
		InitialParams: map[string]any{"extra": true},
	})
	require.NoError(t, err)

	assert.Equal(t, "the weather", result.State["topic"])
	assert.Equal(t, "short", result.State["hint"])
	assert.Equal(t, "formal", result.State["style"])
	assert.Equal(t, true, result.State["extra"])
}

func TestRunPlaybookOutputPropagation(t *testing.T) {
	f := newRunnerFixture(t)

	pb := &pbentity.Playbook{
		Name:                "producer",
		StartNode:           "fill",
		ContextRequirements: noContext(),
		OutputSchema:        []string{"report"},
		Nodes: []*pbentity.Node{
			{ID: "fill", Type: pbentity.NodeSet, Assignments: map[string]any{
				"report": map[string]any{
					"verdict": "ok",
					"detail":  map[string]any{"score": 9},
				},
				"private": "not propagated",
			}},
		},
	}

	parent := State{}
	_, err := f.run(t, pb, &RunInput{ParentState: parent})
	require.NoError(t, err)

	// Maps propagate whole and flattened into dot-notation keys.
	assert.Contains(t, parent, "report")
	assert.Equal(t, "ok", parent["report.verdict"])
	assert.Equal(t, 9, parent["report.detail.score"])
	assert.NotContains(t, parent, "private")
}

func TestRunPlaybookSharedAccumulator(t *testing.T) {
	f := newRunnerFixture(t)

	pb := &pbentity.Playbook{
		Name:                "nested",
		StartNode:           "noop",
		ContextRequirements: noContext(),
		Nodes:               []*pbentity.Node{{ID: "noop", Type: pbentity.NodePass}},
	}

	acc := NewUsageAccumulator()
	parent := State{
		KeyUsageAccumulator: acc,
		KeyInternalPulseID:  "pulse-123",
		KeyPlaybookChain:    []string{"root"},
	}

	result, err := f.run(t, pb, &RunInput{ParentState: parent})
	require.NoError(t, err)

	// Nested runs share the pulse id, the accumulator and extend the chain.
	assert.Same(t, acc, result.State[KeyUsageAccumulator])
	assert.Equal(t, "pulse-123", result.State[KeyInternalPulseID])
	assert.Equal(t, []string{"root", "nested"}, result.State[KeyPlaybookChain])
}

func TestRunPlaybookUnknownModel(t *testing.T) {
	f := newRunnerFixture(t)
	f.persona.ModelID = "no-such-model"

	pb := &pbentity.Playbook{
		Name:                "doomed",
		StartNode:           "noop",
		ContextRequirements: noContext(),
		Nodes:               []*pbentity.Node{{ID: "noop", Type: pbentity.NodePass}},
	}

	_, err := f.run(t, pb, nil)
	assert.Error(t, err)
}

func TestRunPlaybookMissingNode(t *testing.T) {
	f := newRunnerFixture(t)

	pb := &pbentity.Playbook{
		Name:                "dangling",
		StartNode:           "ghost",
		ContextRequirements: noContext(),
		Nodes:               []*pbentity.Node{{ID: "real", Type: pbentity.NodePass}},
	}

	_, err := f.run(t, pb, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}
