package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
)

const memoryModule = "memory"

// waitWindow bounds how far apart two record_wait calls may be and still
// consolidate into one message.
const waitWindow = 10 * time.Minute

// Service is the write-side API over per-persona memory stores.
type Service struct {
	manager repo.Manager
}

func New(manager repo.Manager) *Service {
	return &Service{manager: manager}
}

// Manager exposes the underlying store manager for read paths that need
// direct store access (context builder, tools).
func (s *Service) Manager() repo.Manager {
	return s.manager
}

// Remember appends one message to the persona's active thread and
// returns it.
func (s *Service) Remember(ctx context.Context, personaID, role, content string, tags []string, md entity.Metadata) (*entity.Message, error) {
	store, err := s.manager.ForPersona(ctx, personaID)
	if err != nil {
		return nil, err
	}
	thread, err := store.ActiveThread(ctx)
	if err != nil {
		return nil, err
	}
	if md == nil {
		md = entity.Metadata{}
	}
	for _, t := range tags {
		md.AddTag(t)
	}
	msg := &entity.Message{
		ID:        uuid.NewString(),
		ThreadID:  thread.ID,
		PersonaID: personaID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
		Metadata:  md,
	}
	if err := store.Append(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// RecordInterruption persists the message a persona sees after its pulse
// was preempted.
func (s *Service) RecordInterruption(ctx context.Context, personaID, interruptedBy string, willResume bool) error {
	content := fmt.Sprintf("(中断: %sからのリクエストを優先しました)", interruptedBy)
	md := entity.Metadata{
		entity.MetaInterruptedBy: interruptedBy,
		entity.MetaWillResume:    willResume,
	}
	_, err := s.Remember(ctx, personaID, entity.RoleAssistant, content,
		[]string{"internal", "interrupted"}, md)
	return err
}

// RecordWait appends a wait marker, consolidating with an immediately
// preceding wait marker when it is recent enough. The thread therefore
// never ends with more than one wait message.
func (s *Service) RecordWait(ctx context.Context, personaID, reason string, loc *time.Location) (*entity.Message, error) {
	store, err := s.manager.ForPersona(ctx, personaID)
	if err != nil {
		return nil, err
	}
	thread, err := store.ActiveThread(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	started := now
	count := 1

	last, err := store.Last(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	if last != nil && last.Metadata.HasTag("wait") {
		latest := last.CreatedAt
		if ts, ok := last.Metadata[entity.MetaWaitLatest].(string); ok {
			if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
				latest = parsed
			}
		}
		if now.Sub(latest) <= waitWindow {
			if ts, ok := last.Metadata[entity.MetaWaitStarted].(string); ok {
				if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
					started = parsed
				}
			} else {
				started = last.CreatedAt
			}
			count = metaInt(last.Metadata, entity.MetaWaitCount) + 1
			if err := store.Delete(ctx, last.ID); err != nil {
				return nil, err
			}
		}
	}

	if loc == nil {
		loc = time.Local
	}
	content := fmt.Sprintf("(待機中: 開始 %s, 最新 %s, %d回目 - %s)",
		started.In(loc).Format("15:04:05"), now.In(loc).Format("15:04:05"), count, reason)
	md := entity.Metadata{
		entity.MetaWaitStarted: started.Format(time.RFC3339Nano),
		entity.MetaWaitLatest:  now.Format(time.RFC3339Nano),
		entity.MetaWaitCount:   count,
	}
	md.AddTag("internal")
	md.AddTag("wait")
	msg := &entity.Message{
		ID:        uuid.NewString(),
		ThreadID:  thread.ID,
		PersonaID: personaID,
		Role:      entity.RoleAssistant,
		Content:   content,
		CreatedAt: now,
		Metadata:  md,
	}
	if err := store.Append(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// StartStelis opens a nested sub-thread, anchors it in the parent thread
// with a system note, and activates it. maxDepth 0 means unlimited.
func (s *Service) StartStelis(ctx context.Context, personaID string, maxDepth int) (*entity.Thread, error) {
	store, err := s.manager.ForPersona(ctx, personaID)
	if err != nil {
		return nil, err
	}
	parent, err := store.ActiveThread(ctx)
	if err != nil {
		return nil, err
	}
	if maxDepth > 0 && parent.Depth+1 > maxDepth {
		return nil, errno.ErrStelisDepthLimit
	}

	sub := &entity.Thread{
		ID:             uuid.NewString(),
		PersonaID:      personaID,
		Suffix:         "stelis",
		ParentThreadID: parent.ID,
		Depth:          parent.Depth + 1,
		CreatedAt:      time.Now(),
	}
	if err := store.CreateThread(ctx, sub); err != nil {
		return nil, err
	}

	anchor := &entity.Message{
		ID:        uuid.NewString(),
		ThreadID:  parent.ID,
		PersonaID: "system",
		Role:      entity.RoleSystem,
		Content:   "(スレッド分岐: ここから先の思考は別スレッドで行われます)",
		CreatedAt: time.Now(),
		Metadata: entity.Metadata{
			entity.MetaTags:    []string{"internal"},
			"stelis_thread_id": sub.ID,
			"stelis_anchor":    true,
		},
	}
	if err := store.Append(ctx, anchor); err != nil {
		return nil, err
	}
	if err := store.SetActiveThread(ctx, sub.ID); err != nil {
		return nil, err
	}
	return sub, nil
}

// EndStelis closes a stelis sub-thread and reactivates its parent.
func (s *Service) EndStelis(ctx context.Context, personaID, threadID string) error {
	store, err := s.manager.ForPersona(ctx, personaID)
	if err != nil {
		return err
	}
	sub, err := store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if err := store.EndThread(ctx, sub.ID); err != nil {
		return err
	}
	if sub.ParentThreadID == "" {
		return nil
	}
	return store.SetActiveThread(ctx, sub.ParentThreadID)
}

// CreateSubThread opens a non-stelis sub-thread (e.g. subagent) without
// activating it.
func (s *Service) CreateSubThread(ctx context.Context, personaID, suffix string) (*entity.Thread, error) {
	store, err := s.manager.ForPersona(ctx, personaID)
	if err != nil {
		return nil, err
	}
	parent, err := store.ActiveThread(ctx)
	if err != nil {
		return nil, err
	}
	sub := &entity.Thread{
		ID:             uuid.NewString(),
		PersonaID:      personaID,
		Suffix:         suffix,
		ParentThreadID: parent.ID,
		CreatedAt:      time.Now(),
	}
	if err := store.CreateThread(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// TryRemember is Remember with failure downgraded to a log line, for
// paths where a memory write must never abort execution.
func (s *Service) TryRemember(ctx context.Context, personaID, role, content string, tags []string, md entity.Metadata) *entity.Message {
	msg, err := s.Remember(ctx, personaID, role, content, tags, md)
	if err != nil {
		logger.WarnX(memoryModule, "memory write failed for %s: %v", personaID, err)
		return nil
	}
	return msg
}

func metaInt(md entity.Metadata, key string) int {
	switch v := md[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
