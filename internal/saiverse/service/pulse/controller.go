package pulse

import (
	"context"
	"sync"

	cityrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/repo"
	memservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/service"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/events"
	pbservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/playbook/domain/service"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/runtime"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/safego"
)

const pulseModule = "pulse"

// QueueCapacity bounds the per-persona wait queue. Overflow drops the
// oldest entry.
const QueueCapacity = 10

// Controller serializes stimulus handling per persona: at most one
// request runs per persona, lower-priority work is preempted or queued
// per the request type's policies, and preempted schedule work resumes
// after the winner finishes.
type Controller struct {
	personas cityrepo.PersonaRepository
	library  *pbservice.Library
	runner   *runtime.Runner
	memory   *memservice.Service

	// defaultPlaybook runs when a request names no meta playbook.
	defaultPlaybook string

	mu    sync.Mutex
	lanes map[string]*lane
}

// lane is one persona's scheduling unit.
type lane struct {
	mu      sync.Mutex
	current *Request
	queue   []*Request
}

// ControllerConfig collects the controller's dependencies.
type ControllerConfig struct {
	Personas cityrepo.PersonaRepository
	Library  *pbservice.Library
	Runner   *runtime.Runner
	Memory   *memservice.Service

	DefaultPlaybook string
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.DefaultPlaybook == "" {
		cfg.DefaultPlaybook = "basic_chat"
	}
	return &Controller{
		personas:        cfg.Personas,
		library:         cfg.Library,
		runner:          cfg.Runner,
		memory:          cfg.Memory,
		defaultPlaybook: cfg.DefaultPlaybook,
		lanes:           make(map[string]*lane),
	}
}

func (c *Controller) lane(personaID string) *lane {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lanes[personaID]
	if !ok {
		l = &lane{}
		c.lanes[personaID] = l
	}
	return l
}

// SubmitUser handles a direct user stimulus. User requests preempt
// anything running, including another user request ("last wins").
func (c *Controller) SubmitUser(ctx context.Context, personaID, buildingID, input string, cb *events.Callback) (*Outcome, error) {
	return c.Submit(ctx, &Request{
		Type:       TypeUser,
		PersonaID:  personaID,
		BuildingID: buildingID,
		UserInput:  input,
		Events:     cb,
	})
}

// SubmitSchedule handles a scheduled stimulus. Blocked schedule work
// waits in the queue and resumes with a resumption marker.
func (c *Controller) SubmitSchedule(ctx context.Context, personaID, buildingID, input, playbook string, params map[string]any, cb *events.Callback) (*Outcome, error) {
	return c.Submit(ctx, &Request{
		Type:           TypeSchedule,
		PersonaID:      personaID,
		BuildingID:     buildingID,
		UserInput:      input,
		MetaPlaybook:   playbook,
		PlaybookParams: params,
		Events:         cb,
	})
}

// SubmitAuto handles an autonomous tick. Blocked auto work is dropped;
// the next tick reissues it.
func (c *Controller) SubmitAuto(ctx context.Context, personaID, buildingID, input string, cb *events.Callback) (*Outcome, error) {
	return c.Submit(ctx, &Request{
		Type:       TypeAuto,
		PersonaID:  personaID,
		BuildingID: buildingID,
		UserInput:  input,
		Events:     cb,
	})
}

// Submit decides run/queue/skip/preempt for one request and, when it
// wins the lane, executes it to completion on the calling goroutine.
func (c *Controller) Submit(ctx context.Context, req *Request) (*Outcome, error) {
	if req.Token == nil {
		req.Token = runtime.NewCancellationToken()
	}
	if req.done == nil {
		req.done = make(chan struct{})
	}
	l := c.lane(req.PersonaID)

	l.mu.Lock()
	if l.current == nil {
		l.current = req
		l.mu.Unlock()
		return c.execute(ctx, l, req)
	}

	running := l.current
	if shouldInterrupt(running, req) {
		running.Token.Cancel(string(req.Type))
		if running.Type.onBlocked() == "wait" {
			l.enqueueHead(running.resumptionCopy())
		}
		l.current = req
		loserDone := running.done
		l.mu.Unlock()
		// Cancellation is cooperative: the loser notices the token at
		// its next checkpoint. The winner must not start until the loser
		// has unwound and its interruption record is on file.
		<-loserDone
		return c.execute(ctx, l, req)
	}

	if req.Type.onBlocked() == "wait" {
		l.enqueueTail(req)
		l.mu.Unlock()
		logger.InfoX(pulseModule, "queued %s pulse for %s behind running %s",
			req.Type, req.PersonaID, running.Type)
		return &Outcome{Status: StatusQueued}, nil
	}
	l.mu.Unlock()
	logger.DebugX(pulseModule, "skipped %s pulse for %s (running: %s)",
		req.Type, req.PersonaID, running.Type)
	return &Outcome{Status: StatusSkipped}, nil
}

// shouldInterrupt decides whether req preempts running. Lower numeric
// priority wins; at equal priority a "last" policy replaces.
func shouldInterrupt(running, req *Request) bool {
	if req.Type.Priority() < running.Type.Priority() {
		return true
	}
	return req.Type.Priority() == running.Type.Priority() && req.Type.arbitration() == "last"
}

// enqueueHead puts a resumption copy first in line. Head inserts do not
// evict; the bound is enforced on tail inserts.
func (l *lane) enqueueHead(req *Request) {
	l.queue = append([]*Request{req}, l.queue...)
}

func (l *lane) enqueueTail(req *Request) {
	if len(l.queue) >= QueueCapacity {
		dropped := l.queue[0]
		l.queue = l.queue[1:]
		logger.ErrorX(pulseModule, "queue for %s full: dropped %s pulse: %v",
			req.PersonaID, dropped.Type, errno.ErrQueueFull)
	}
	l.queue = append(l.queue, req)
}

// execute runs req outside the lane lock, then hands the lane to the
// next queued request on a fresh goroutine.
func (c *Controller) execute(ctx context.Context, l *lane, req *Request) (*Outcome, error) {
	// A resumption copy arrives without a token; its original one was
	// burned by the preemption.
	if req.Token == nil {
		req.Token = runtime.NewCancellationToken()
	}
	outputs, err := c.doExecute(ctx, req)

	switch {
	case errno.IsCancelled(err):
		interruptedBy := req.Token.InterruptedBy()
		willResume := req.Type.onBlocked() == "wait"
		if merr := c.memory.RecordInterruption(ctx, req.PersonaID, interruptedBy, willResume); merr != nil {
			logger.WarnX(pulseModule, "failed to record interruption for %s: %v", req.PersonaID, merr)
		}
		outputs = nil
	case err != nil:
		logger.ErrorX(pulseModule, "%s pulse for %s failed: %v", req.Type, req.PersonaID, err)
		outputs = nil
	}

	// The interruption record above is on file; a waiting preemptor may
	// proceed.
	close(req.done)

	l.mu.Lock()
	var next *Request
	if l.current == req {
		l.current = nil
		if len(l.queue) > 0 {
			next = l.queue[0]
			l.queue = l.queue[1:]
			if next.done == nil {
				next.done = make(chan struct{})
			}
			l.current = next
		}
	}
	l.mu.Unlock()

	if next != nil {
		workerCtx := context.WithoutCancel(ctx)
		safego.Go(workerCtx, func() {
			if _, werr := c.execute(workerCtx, l, next); werr != nil {
				logger.WarnX(pulseModule, "queued %s pulse for %s failed: %v", next.Type, next.PersonaID, werr)
			}
		})
	}

	return &Outcome{Status: StatusExecuted, Outputs: outputs}, nil
}

// doExecute resolves the persona and entry playbook and runs the graph.
func (c *Controller) doExecute(ctx context.Context, req *Request) ([]string, error) {
	persona, err := c.personas.Get(ctx, req.PersonaID)
	if err != nil {
		return nil, err
	}

	name := req.MetaPlaybook
	if name == "" {
		name = c.defaultPlaybook
	}
	pb, err := c.library.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	buildingID := req.BuildingID
	if buildingID == "" {
		buildingID = persona.CurrentBuildingID
	}

	result, err := c.runner.RunPlaybook(ctx, &runtime.RunInput{
		Playbook:      pb,
		Persona:       persona,
		BuildingID:    buildingID,
		UserInput:     req.EffectiveInput(),
		AutoMode:      req.Type == TypeAuto,
		RecordHistory: true,
		Events:        req.Events,
		Token:         req.Token,
		PulseType:     string(req.Type),
		InitialParams: req.PlaybookParams,
	})
	if err != nil {
		return nil, err
	}
	return result.Outputs, nil
}
