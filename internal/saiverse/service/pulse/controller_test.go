package pulse

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cityentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/entity"
	cityinmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/store/inmemory"
	llmservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/service"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider"
	memrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
	memservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/service"
	meminmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/store/inmemory"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/events"
	pbentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
	pbservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/service"
	pbinmemory "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/store/inmemory"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/runtime"
	toolservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/service"
)

func TestTypePolicies(t *testing.T) {
	assert.Equal(t, 1, TypeUser.Priority())
	assert.Equal(t, 2, TypeSchedule.Priority())
	assert.Equal(t, 3, TypeAuto.Priority())

	assert.Equal(t, "last", TypeUser.arbitration())
	assert.Equal(t, "first", TypeSchedule.arbitration())
	assert.Equal(t, "first", TypeAuto.arbitration())

	assert.Equal(t, "skip", TypeUser.onBlocked())
	assert.Equal(t, "wait", TypeSchedule.onBlocked())
	assert.Equal(t, "skip", TypeAuto.onBlocked())
}

func TestShouldInterrupt(t *testing.T) {
	cases := []struct {
		running, incoming Type
		want              bool
	}{
		{TypeUser, TypeUser, true}, // user replaces user: last wins
		{TypeSchedule, TypeUser, true},
		{TypeAuto, TypeUser, true},
		{TypeUser, TypeSchedule, false},
		{TypeSchedule, TypeSchedule, false}, // first wins at equal priority
		{TypeAuto, TypeSchedule, true},
		{TypeUser, TypeAuto, false},
		{TypeSchedule, TypeAuto, false},
		{TypeAuto, TypeAuto, false},
	}
	for _, c := range cases {
		got := shouldInterrupt(&Request{Type: c.running}, &Request{Type: c.incoming})
		assert.Equalf(t, c.want, got, "running=%s incoming=%s", c.running, c.incoming)
	}
}

func TestEffectiveInput(t *testing.T) {
	plain := &Request{Type: TypeSchedule, UserInput: "report the news"}
	assert.Equal(t, "report the news", plain.EffectiveInput())

	resumed := plain.resumptionCopy()
	resumed.InterruptedBy = "user"
	in := resumed.EffectiveInput()
	assert.Contains(t, in, "<system>")
	assert.Contains(t, in, "userのリクエストにより一度中断されました")
	assert.Contains(t, in, "report the news")
}

func TestResumptionCopy(t *testing.T) {
	tok := runtime.NewCancellationToken()
	tok.Cancel("user")
	req := &Request{
		Type:      TypeSchedule,
		PersonaID: "p1",
		UserInput: "original",
		Token:     tok,
	}

	cp := req.resumptionCopy()
	assert.True(t, cp.IsResumption)
	assert.Equal(t, "original", cp.OriginalPrompt)
	assert.Equal(t, "user", cp.InterruptedBy)
	assert.Nil(t, cp.Token)

	// A second preemption keeps the first submission's prompt.
	cp.Token = runtime.NewCancellationToken()
	cp.Token.Cancel("user")
	cp2 := cp.resumptionCopy()
	assert.Equal(t, "original", cp2.OriginalPrompt)
}

func TestLaneQueueBound(t *testing.T) {
	l := &lane{}
	for i := 0; i < QueueCapacity; i++ {
		l.enqueueTail(&Request{Type: TypeSchedule, PersonaID: "p1", UserInput: string(rune('a' + i))})
	}
	require.Len(t, l.queue, QueueCapacity)
	oldest := l.queue[0]

	l.enqueueTail(&Request{Type: TypeSchedule, PersonaID: "p1", UserInput: "overflow"})
	require.Len(t, l.queue, QueueCapacity)
	assert.NotContains(t, l.queue, oldest)
	assert.Equal(t, "overflow", l.queue[QueueCapacity-1].UserInput)

	// Head inserts (resumptions) are never dropped by the bound.
	l.enqueueHead(&Request{Type: TypeSchedule, PersonaID: "p1", UserInput: "resumed"})
	assert.Equal(t, "resumed", l.queue[0].UserInput)
	assert.Len(t, l.queue, QueueCapacity+1)
}

// blockingTool parks inside a playbook run until released, so tests can
// hold a persona's lane busy.
type blockingTool struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingTool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{Name: "block", Desc: "test tool"}
}

func (b *blockingTool) Invoke(ctx context.Context, _ map[string]any) (any, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return "released", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type controllerFixture struct {
	controller *Controller
	memory     memrepo.Manager
	block      *blockingTool
	rec        *sayRecorder
}

type sayRecorder struct {
	mu   sync.Mutex
	said []string
}

func (r *sayRecorder) callback() *events.Callback {
	return &events.Callback{OnEvent: func(ev *events.Event) {
		if ev.Type != events.Say {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if s, ok := ev.Payload["content"].(string); ok {
			r.said = append(r.said, s)
		}
	}}
}

func (r *sayRecorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.said...)
}

func noContext() *pbentity.ContextRequirements {
	return &pbentity.ContextRequirements{HistoryDepth: "none"}
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	ctx := context.Background()

	personas := cityinmemory.NewPersonaStore()
	buildings := cityinmemory.NewBuildingStore()
	require.NoError(t, personas.Create(ctx, &cityentity.Persona{
		ID: "p1", Name: "灯", ModelID: "gpt-4o",
	}))

	memManager := meminmemory.NewManager()
	memSvc := memservice.New(memManager)

	pbStore := pbinmemory.NewPlaybookStore()
	library := pbservice.NewLibrary(pbStore)

	registry := toolservice.NewRegistry()
	block := &blockingTool{started: make(chan struct{}), release: make(chan struct{})}
	registry.Register(block)

	require.NoError(t, pbStore.Save(ctx, &pbentity.Playbook{
		Name:                "basic_chat",
		StartNode:           "speak",
		ContextRequirements: noContext(),
		Nodes: []*pbentity.Node{
			{ID: "speak", Type: pbentity.NodeSay, Action: "reply: {input}"},
		},
	}))
	require.NoError(t, pbStore.Save(ctx, &pbentity.Playbook{
		Name:                "long_task",
		StartNode:           "hold",
		ContextRequirements: noContext(),
		Nodes: []*pbentity.Node{
			{ID: "hold", Type: pbentity.NodeTool, Action: "block", Next: "speak"},
			{ID: "speak", Type: pbentity.NodeSay, Action: "task finished"},
		},
	}))

	models := llmservice.NewConfigRegistry()
	llm := llmservice.NewManager(models, provider.NewInTreeRegistry())
	builder := runtime.NewContextBuilder(personas, buildings, memManager, library, registry, "")

	runner := runtime.NewRunner(runtime.RunnerConfig{
		Personas:    personas,
		Buildings:   buildings,
		Library:     library,
		Permissions: pbinmemory.NewPermissionStore(),
		Memory:      memSvc,
		LLM:         llm,
		Models:      models,
		Tools:       registry,
		Builder:     builder,
	})

	controller := NewController(ControllerConfig{
		Personas: personas,
		Library:  library,
		Runner:   runner,
		Memory:   memSvc,
	})
	return &controllerFixture{
		controller: controller,
		memory:     memManager,
		block:      block,
		rec:        &sayRecorder{},
	}
}

func TestSubmitUserIdleLane(t *testing.T) {
	f := newControllerFixture(t)

	outcome, err := f.controller.SubmitUser(context.Background(), "p1", "", "hello", f.rec.callback())
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, outcome.Status)
	assert.Equal(t, []string{"reply: hello"}, outcome.Outputs)
}

func TestSubmitSkipAndQueueWhileBusy(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()

	schedDone := make(chan *Outcome, 1)
	go func() {
		outcome, _ := f.controller.SubmitSchedule(ctx, "p1", "", "tick", "long_task", nil, f.rec.callback())
		schedDone <- outcome
	}()
	<-f.block.started

	// Auto loses and is dropped; its next tick reissues it.
	outcome, err := f.controller.SubmitAuto(ctx, "p1", "", "wander", f.rec.callback())
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, outcome.Status)

	// A second schedule waits its turn.
	outcome, err = f.controller.SubmitSchedule(ctx, "p1", "", "tick2", "basic_chat", nil, f.rec.callback())
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, outcome.Status)

	close(f.block.release)
	first := <-schedDone
	assert.Equal(t, StatusExecuted, first.Status)
	assert.Equal(t, []string{"task finished"}, first.Outputs)

	// The queued schedule run executes once the lane frees up.
	require.Eventually(t, func() bool {
		for _, s := range f.rec.texts() {
			if s == "reply: tick2" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUserPreemptsScheduleAndScheduleResumes(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()

	schedDone := make(chan *Outcome, 1)
	go func() {
		outcome, _ := f.controller.SubmitSchedule(ctx, "p1", "", "daily report", "long_task", nil, f.rec.callback())
		schedDone <- outcome
	}()
	<-f.block.started

	// The user stimulus cancels the schedule run's token and re-queues it
	// at the head of the lane, but must not execute while the cancelled
	// run is still inside its tool node.
	userDone := make(chan *Outcome, 1)
	go func() {
		outcome, _ := f.controller.SubmitUser(ctx, "p1", "", "hello", f.rec.callback())
		userDone <- outcome
	}()
	require.Eventually(t, func() bool {
		l := f.controller.lane("p1")
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.queue) == 1
	}, 5*time.Second, 5*time.Millisecond, "preemption did not enqueue a resumption")

	select {
	case <-userDone:
		t.Fatal("user run finished while the preempted run was still executing")
	case <-time.After(100 * time.Millisecond):
	}

	// Release the blocked tool: the cancelled run unwinds, records its
	// interruption, and only then does the user run start.
	close(f.block.release)
	outcome := <-userDone
	assert.Equal(t, StatusExecuted, outcome.Status)
	assert.Equal(t, []string{"reply: hello"}, outcome.Outputs)

	// The interruption record was written before the user run produced
	// any output, so it is on file by the time SubmitUser returns.
	assert.True(t, interruptionRecorded(t, f.memory, "p1"), "interruption message not recorded")

	preempted := <-schedDone
	assert.Equal(t, StatusExecuted, preempted.Status)
	assert.Empty(t, preempted.Outputs)

	require.Eventually(t, func() bool {
		for _, s := range f.rec.texts() {
			if s == "task finished" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func interruptionRecorded(t *testing.T, manager memrepo.Manager, personaID string) bool {
	t.Helper()
	ctx := context.Background()
	store, err := manager.ForPersona(ctx, personaID)
	require.NoError(t, err)
	thread, err := store.ActiveThread(ctx)
	require.NoError(t, err)
	msgs, err := store.Recent(ctx, memrepo.RecentQuery{ThreadID: thread.ID})
	require.NoError(t, err)
	for _, m := range msgs {
		if strings.Contains(m.Content, "(中断: userからのリクエストを優先しました)") {
			assert.True(t, m.Metadata.HasTag("interrupted"))
			return true
		}
	}
	return false
}

func TestSubmitUnknownPersona(t *testing.T) {
	f := newControllerFixture(t)

	outcome, err := f.controller.SubmitUser(context.Background(), "ghost", "", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, outcome.Status)
	assert.Empty(t, outcome.Outputs)
}
