package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	cityentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/entity"
	cityrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/repo"
	histservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/history/domain/service"
	llmservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/service"
	memservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/service"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/events"
	pbentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/entity"
	pbrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/repo"
	pbservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/service"
	toolservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/service"
	usageservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/usage/domain/service"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
)

const runtimeModule = "runtime"

// ExecMaxLoop bounds per-node visits during execution.
const ExecMaxLoop = 1000

// Runner executes playbook graphs for personas. One Runner serves every
// persona; per-invocation state lives in the invocation struct.
type Runner struct {
	personas    cityrepo.PersonaRepository
	buildings   cityrepo.BuildingRepository
	library     *pbservice.Library
	permissions pbrepo.PermissionRepository
	memory      *memservice.Service
	history     *histservice.Service
	llm         *llmservice.Manager
	models      *llmservice.ConfigRegistry
	tools       *toolservice.Registry
	usage       *usageservice.Tracker
	builder     *ContextBuilder
	metabolism  *Metabolism

	// dataDir is the root under which each persona keeps its files.
	dataDir string

	// streamingEnabled gates the streaming LLM path.
	streamingEnabled bool

	// stelisMaxDepth is the engine default for personas without an
	// explicit limit.
	stelisMaxDepth int
}

// RunnerConfig collects the Runner's dependencies.
type RunnerConfig struct {
	Personas         cityrepo.PersonaRepository
	Buildings        cityrepo.BuildingRepository
	Library          *pbservice.Library
	Permissions      pbrepo.PermissionRepository
	Memory           *memservice.Service
	History          *histservice.Service
	LLM              *llmservice.Manager
	Models           *llmservice.ConfigRegistry
	Tools            *toolservice.Registry
	Usage            *usageservice.Tracker
	Builder          *ContextBuilder
	Metabolism       *Metabolism
	DataDir          string
	StreamingEnabled bool
	StelisMaxDepth   int
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.StelisMaxDepth <= 0 {
		cfg.StelisMaxDepth = 3
	}
	return &Runner{
		personas:         cfg.Personas,
		buildings:        cfg.Buildings,
		library:          cfg.Library,
		permissions:      cfg.Permissions,
		memory:           cfg.Memory,
		history:          cfg.History,
		llm:              cfg.LLM,
		models:           cfg.Models,
		tools:            cfg.Tools,
		usage:            cfg.Usage,
		builder:          cfg.Builder,
		metabolism:       cfg.Metabolism,
		dataDir:          cfg.DataDir,
		streamingEnabled: cfg.StreamingEnabled,
		stelisMaxDepth:   cfg.StelisMaxDepth,
	}
}

// RunInput are the entry parameters of one playbook run.
type RunInput struct {
	Playbook      *pbentity.Playbook
	Persona       *cityentity.Persona
	BuildingID    string
	UserInput     string
	AutoMode      bool
	RecordHistory bool
	ParentState   State
	Events        *events.Callback
	Token         *CancellationToken
	PulseType     string
	InitialParams map[string]any
}

// RunResult is the final state of a completed run plus the spoken
// outputs collected along the way.
type RunResult struct {
	State   State
	Outputs []string
}

// invocation is the per-run execution frame.
type invocation struct {
	r          *Runner
	pb         *pbentity.Playbook
	persona    *cityentity.Persona
	buildingID string
	state      State
	events     *events.Callback
	token      *CancellationToken
	pulseID    string
	pulseType  string
	autoMode   bool
	recordHist bool

	// profileCache holds per-invocation base contexts, one per profile
	// name, so several LLM nodes sharing a profile pay one build.
	profileCache map[string][]*schema.Message

	outputs []string
}

// RunPlaybook runs one playbook to completion against a fresh state.
func (r *Runner) RunPlaybook(ctx context.Context, in *RunInput) (*RunResult, error) {
	if in.Token != nil {
		if err := in.Token.Check(); err != nil {
			return nil, err
		}
	}

	pulseID := r.inheritPulseID(in.ParentState)
	chain := r.extendChain(in.ParentState, in.Playbook.Name)

	state := State{
		KeyInput:           in.UserInput,
		KeyPersonaID:       in.Persona.ID,
		KeyPersonaName:     in.Persona.Name,
		KeyPulseID:         pulseID,
		KeyPulseType:       in.PulseType,
		KeyInternalPulseID: pulseID,
		KeyPlaybookChain:   chain,
	}
	if in.Token != nil {
		state[KeyCancellationToken] = in.Token
	}
	r.inheritShared(state, in.ParentState)
	r.resolveInputParams(state, in)

	model, err := r.models.Get(in.Persona.ModelID)
	if err != nil {
		return nil, err
	}
	base, err := r.builder.Build(ctx, &BuildRequest{
		Persona:    in.Persona,
		BuildingID: in.BuildingID,
		UserInput:  in.UserInput,
		Profile:    in.Playbook.ContextRequirements,
		PulseID:    pulseID,
		Model:      model,
		AutoMode:   in.AutoMode,
	})
	if err != nil {
		return nil, err
	}
	for _, w := range base.Warnings {
		in.Events.Emit(events.Warning, map[string]any{
			"warning_code": w.Code,
			"content":      w.Content,
			"display":      w.Display,
		})
	}
	state[KeyMessages] = base.Messages
	state[KeyIntermediateMsgs] = []*schema.Message{}

	inv := &invocation{
		r:            r,
		pb:           in.Playbook,
		persona:      in.Persona,
		buildingID:   in.BuildingID,
		state:        state,
		events:       in.Events,
		token:        in.Token,
		pulseID:      pulseID,
		pulseType:    in.PulseType,
		autoMode:     in.AutoMode,
		recordHist:   in.RecordHistory,
		profileCache: make(map[string][]*schema.Message),
	}

	r.setExecutionState(ctx, in.Persona, in.Playbook.Name, in.Playbook.StartNode, cityentity.ExecutionRunning)
	runErr := inv.executeGraph(ctx)
	r.setExecutionState(ctx, in.Persona, "", "", cityentity.ExecutionIdle)
	if runErr != nil {
		return nil, runErr
	}

	r.propagateOutputs(in.Playbook, state, in.ParentState)
	return &RunResult{State: state, Outputs: inv.outputs}, nil
}

// inheritPulseID uses the parent's pulse id when nested, minting a new
// one for top-level runs.
func (r *Runner) inheritPulseID(parent State) string {
	if parent != nil {
		if id, ok := parent[KeyInternalPulseID].(string); ok && id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func (r *Runner) extendChain(parent State, name string) []string {
	if parent != nil {
		if chain, ok := parent[KeyPlaybookChain].([]string); ok {
			out := make([]string, len(chain), len(chain)+1)
			copy(out, chain)
			return append(out, name)
		}
	}
	return []string{name}
}

// inheritShared carries the usage accumulator and activity trace across
// nested runs so one pulse accounts as a unit.
func (r *Runner) inheritShared(state, parent State) {
	if parent != nil {
		if acc, ok := parent[KeyUsageAccumulator].(*UsageAccumulator); ok {
			state[KeyUsageAccumulator] = acc
		}
		if trace, ok := parent[KeyActivityTrace].([]map[string]any); ok {
			state[KeyActivityTrace] = trace
		}
	}
	if _, ok := state[KeyUsageAccumulator]; !ok {
		state[KeyUsageAccumulator] = NewUsageAccumulator()
	}
}

// resolveInputParams binds declared input parameters per their sources.
func (r *Runner) resolveInputParams(state State, in *RunInput) {
	for _, param := range in.Playbook.InputSchema {
		var value any
		switch {
		case param.Source == "" || param.Source == "input":
			value = in.UserInput
		case strings.HasPrefix(param.Source, "parent."):
			if in.ParentState != nil {
				v, _ := in.ParentState.Get(strings.TrimPrefix(param.Source, "parent."))
				value = v
			}
		default:
			if in.ParentState != nil {
				value = in.ParentState[param.Source]
			}
		}
		if (value == nil || value == "") && in.ParentState != nil {
			if fallback, ok := in.ParentState[param.Name]; ok && fallback != nil && fallback != "" {
				value = fallback
			}
		}
		if value == nil {
			value = ""
		}
		state[param.Name] = value
	}
	for k, v := range in.InitialParams {
		state[k] = v
	}
}

// propagateOutputs copies output_schema keys into the parent state,
// flattening map values into dot-notation keys.
func (r *Runner) propagateOutputs(pb *pbentity.Playbook, state, parent State) {
	if parent == nil {
		return
	}
	for _, key := range pb.OutputSchema {
		v, ok := state[key]
		if !ok {
			continue
		}
		parent[key] = v
		if m, isMap := v.(map[string]any); isMap {
			flattenInto(parent, key, m)
		}
	}
}

func flattenInto(dst State, prefix string, m map[string]any) {
	for k, v := range m {
		key := prefix + "." + k
		dst[key] = v
		if sub, ok := v.(map[string]any); ok {
			flattenInto(dst, key, sub)
		}
	}
}

func (r *Runner) setExecutionState(ctx context.Context, p *cityentity.Persona, playbook, node string, status cityentity.ExecutionStatus) {
	p.Execution = cityentity.ExecutionState{Playbook: playbook, Node: node, Status: status}
	if err := r.personas.Update(ctx, p); err != nil {
		logger.WarnX(runtimeModule, "failed to persist execution state for %s: %v", p.ID, err)
	}
}

// executeGraph walks the graph from start_node, honoring routing and
// the visit limit.
func (inv *invocation) executeGraph(ctx context.Context) error {
	visits := make(map[string]int)
	cur := inv.pb.StartNode

	for cur != "" && cur != pbentity.EndNode {
		if err := inv.state.CheckCancelled(); err != nil {
			return err
		}
		visits[cur]++
		if visits[cur] > ExecMaxLoop {
			logger.WarnX(runtimeModule, "playbook %s: node %s exceeded %d visits, terminating branch",
				inv.pb.Name, cur, ExecMaxLoop)
			return nil
		}
		node := inv.pb.Node(cur)
		if node == nil {
			return fmt.Errorf("playbook %s: node %q not found", inv.pb.Name, cur)
		}

		inv.events.Emit(events.Status, map[string]any{
			"playbook": inv.pb.Name,
			"node":     node.ID,
			"content":  node.Label,
		})

		if err := inv.runNode(ctx, node); err != nil {
			if errno.IsCancelled(err) {
				return err
			}
			inv.events.Emit(events.Error, map[string]any{
				"content":  err.Error(),
				"playbook": inv.pb.Name,
				"node":     node.ID,
			})
			return err
		}
		cur = inv.route(node)
	}
	return nil
}

// route picks the next node id after a completed node.
func (inv *invocation) route(node *pbentity.Node) string {
	if node.Type == pbentity.NodeExec && node.ErrorNext != "" && inv.state.Bool(KeyExecError) {
		return node.ErrorNext
	}
	if cn := node.ConditionalNext; cn != nil {
		value := inv.state.GetString(cn.Field)
		if next, ok := cn.Cases[value]; ok {
			return next
		}
		if cn.Default != "" {
			return cn.Default
		}
		return pbentity.EndNode
	}
	if node.Next != "" {
		return node.Next
	}
	return pbentity.EndNode
}

// runNode dispatches one node by type.
func (inv *invocation) runNode(ctx context.Context, node *pbentity.Node) error {
	switch node.Type {
	case pbentity.NodeSet:
		return inv.runSet(node)
	case pbentity.NodeLLM:
		return inv.runLLM(ctx, node)
	case pbentity.NodeTool:
		return inv.runTool(ctx, node)
	case pbentity.NodeToolCall:
		return inv.runToolCall(ctx, node)
	case pbentity.NodeMemorize:
		return inv.runMemorize(ctx, node)
	case pbentity.NodeSubplay:
		return inv.runSubplay(ctx, node)
	case pbentity.NodeExec:
		return inv.runExec(ctx, node)
	case pbentity.NodeSpeak:
		return inv.runSpeak(ctx, node)
	case pbentity.NodeSay:
		return inv.runSay(ctx, node)
	case pbentity.NodeThink:
		return inv.runThink(ctx, node)
	case pbentity.NodePass:
		return nil
	case pbentity.NodeStelisStart:
		return inv.runStelisStart(ctx, node)
	case pbentity.NodeStelisEnd:
		return inv.runStelisEnd(ctx, node)
	default:
		return fmt.Errorf("playbook %s: unknown node type %q", inv.pb.Name, node.Type)
	}
}

// personaDir is the bound persona's data directory.
func (inv *invocation) personaDir() string {
	if inv.r.dataDir == "" {
		return ""
	}
	return filepath.Join(inv.r.dataDir, inv.persona.ID)
}

func (inv *invocation) accumulator() *UsageAccumulator {
	acc, _ := inv.state[KeyUsageAccumulator].(*UsageAccumulator)
	return acc
}

func (inv *invocation) messages() []*schema.Message {
	msgs, _ := inv.state[KeyMessages].([]*schema.Message)
	return msgs
}

func (inv *invocation) appendMessage(msg *schema.Message) {
	inv.state[KeyMessages] = append(inv.messages(), msg)
}

func (inv *invocation) intermediateMsgs() []*schema.Message {
	msgs, _ := inv.state[KeyIntermediateMsgs].([]*schema.Message)
	return msgs
}

func (inv *invocation) appendIntermediate(msg *schema.Message) {
	inv.state[KeyIntermediateMsgs] = append(inv.intermediateMsgs(), msg)
}
