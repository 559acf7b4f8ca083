package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	cityentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/entity"
	cityrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/city/domain/repo"
	llmservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/domain/service"
	mementity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	memrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
	memservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/service"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/events"
	usageentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/usage/domain/entity"
	usageservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/usage/domain/service"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
)

// Metabolism compresses old conversation into Chronicle entries and
// advances the persona's anchor past the summarized range. Summaries
// are produced by chunked LLM summarization: split by token budget,
// summarize each chunk, merge.
type Metabolism struct {
	personas cityrepo.PersonaRepository
	memory   *memservice.Service
	llm      *llmservice.Manager
	models   *llmservice.ConfigRegistry
	usage    *usageservice.Tracker

	// highWatermark is the message count above which the active thread
	// is metabolized down to the low watermark.
	highWatermark int
	keepRecent    int
}

// MetabolismConfig collects the metabolism dependencies and tuning.
type MetabolismConfig struct {
	Personas cityrepo.PersonaRepository
	Memory   *memservice.Service
	LLM      *llmservice.Manager
	Models   *llmservice.ConfigRegistry
	Usage    *usageservice.Tracker

	// HighWatermark defaults to 100, KeepRecent to the builder's low
	// watermark.
	HighWatermark int
	KeepRecent    int
}

func NewMetabolism(cfg MetabolismConfig) *Metabolism {
	if cfg.HighWatermark <= 0 {
		cfg.HighWatermark = 100
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = metabolismLowWatermark
	}
	return &Metabolism{
		personas:      cfg.Personas,
		memory:        cfg.Memory,
		llm:           cfg.LLM,
		models:        cfg.Models,
		usage:         cfg.Usage,
		highWatermark: cfg.HighWatermark,
		keepRecent:    cfg.KeepRecent,
	}
}

// Run metabolizes the persona's active thread when it has grown past
// the high watermark: everything except the most recent messages is
// summarized into one Chronicle entry and the anchor advances to the
// first kept message.
func (m *Metabolism) Run(ctx context.Context, persona *cityentity.Persona, cb *events.Callback) error {
	if !persona.ChronicleEnabled {
		return nil
	}
	store, err := m.memory.Manager().ForPersona(ctx, persona.ID)
	if err != nil {
		return err
	}
	thread, err := store.ActiveThread(ctx)
	if err != nil {
		return err
	}

	msgs, err := m.loadFromAnchor(ctx, store, thread.ID, persona)
	if err != nil {
		return err
	}
	if len(msgs) <= m.highWatermark {
		return nil
	}

	evicted := msgs[:len(msgs)-m.keepRecent]
	kept := msgs[len(msgs)-m.keepRecent:]

	summary, err := m.summarize(ctx, persona, evicted)
	if err != nil {
		cb.Emit(events.Metabolism, map[string]any{
			"status":  "failed",
			"content": err.Error(),
		})
		return fmt.Errorf("metabolism for %s failed: %w", persona.ID, err)
	}

	entry := &mementity.ChronicleEntry{
		ID:           uuid.NewString(),
		PersonaID:    persona.ID,
		ThreadID:     thread.ID,
		StartTime:    evicted[0].CreatedAt,
		EndTime:      evicted[len(evicted)-1].CreatedAt,
		Level:        0,
		MessageCount: len(evicted),
		Content:      summary,
		CreatedAt:    time.Now(),
	}
	if err := store.AddChronicle(ctx, entry); err != nil {
		return err
	}

	persona.SetAnchor(persona.ModelID, kept[0].ID)
	if err := m.personas.Update(ctx, persona); err != nil {
		return err
	}

	logger.InfoX(runtimeModule, "metabolism: persona=%s evicted=%d kept=%d summary_len=%d",
		persona.ID, len(evicted), len(kept), len(summary))
	cb.Emit(events.Metabolism, map[string]any{
		"status":  "completed",
		"content": summary,
		"evicted": len(evicted),
		"kept":    len(kept),
	})
	return nil
}

// SummarizeThread distills one whole thread (a subagent or stelis
// sub-thread) into a Chronicle entry and returns the summary text.
func (m *Metabolism) SummarizeThread(ctx context.Context, persona *cityentity.Persona, threadID string) (string, error) {
	store, err := m.memory.Manager().ForPersona(ctx, persona.ID)
	if err != nil {
		return "", err
	}
	msgs, err := store.Recent(ctx, memrepo.RecentQuery{ThreadID: threadID})
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", nil
	}

	summary, err := m.summarize(ctx, persona, msgs)
	if err != nil {
		return "", err
	}
	entry := &mementity.ChronicleEntry{
		ID:           uuid.NewString(),
		PersonaID:    persona.ID,
		ThreadID:     threadID,
		StartTime:    msgs[0].CreatedAt,
		EndTime:      msgs[len(msgs)-1].CreatedAt,
		Level:        0,
		MessageCount: len(msgs),
		Content:      summary,
		CreatedAt:    time.Now(),
	}
	if err := store.AddChronicle(ctx, entry); err != nil {
		return "", err
	}
	return summary, nil
}

func (m *Metabolism) loadFromAnchor(ctx context.Context, store memrepo.Store, threadID string, persona *cityentity.Persona) ([]*mementity.Message, error) {
	if anchorID, ok := persona.AnchorFor(persona.ModelID); ok {
		msgs, err := store.FromMessage(ctx, threadID, anchorID)
		if err == nil {
			return msgs, nil
		}
		logger.WarnX(runtimeModule, "metabolism: anchor %s unusable for %s: %v", anchorID, persona.ID, err)
	}
	return store.Recent(ctx, memrepo.RecentQuery{ThreadID: threadID})
}

// summarize runs the staged summarization: single-pass when everything
// fits one chunk, otherwise per-chunk summaries merged at the end.
func (m *Metabolism) summarize(ctx context.Context, persona *cityentity.Persona, msgs []*mementity.Message) (string, error) {
	modelID := persona.EffectiveModelID("lightweight")
	client, err := m.llm.ClientFor(ctx, modelID, false)
	if err != nil {
		return "", err
	}
	cfg := client.Config()

	estimator := NewTokenEstimator(cfg.Provider)
	schemaMsgs := make([]*schema.Message, len(msgs))
	for i, msg := range msgs {
		schemaMsgs[i] = &schema.Message{Role: schema.RoleType(msg.Role), Content: msg.Content}
	}
	totalTokens := estimator.EstimateMessages(schemaMsgs)

	summaryBudget := cfg.ContextLength / 5
	if summaryBudget < 1000 {
		summaryBudget = 1000
	}
	chunkBudget := int(float64(cfg.ContextLength) * 0.4)
	if chunkBudget < 2000 {
		chunkBudget = 2000
	}

	if totalTokens <= chunkBudget {
		return m.summarizeChunk(ctx, client, persona, schemaMsgs, "", summaryBudget)
	}

	chunks := splitByBudget(schemaMsgs, estimator, chunkBudget)
	logger.DebugX(runtimeModule, "metabolism: %d chunks from %d messages (%d est. tokens)",
		len(chunks), len(msgs), totalTokens)

	var partials []string
	for i, chunk := range chunks {
		prefix := strings.Join(partials, "\n\n")
		partial, cerr := m.summarizeChunk(ctx, client, persona, chunk, prefix, summaryBudget/len(chunks))
		if cerr != nil {
			logger.WarnX(runtimeModule, "metabolism: chunk %d/%d failed: %v", i+1, len(chunks), cerr)
			partial = fmt.Sprintf("[%d件のメッセージの要約を生成できませんでした]", len(chunk))
		}
		partials = append(partials, partial)
	}
	if len(partials) == 1 {
		return partials[0], nil
	}
	return m.mergePartials(ctx, client, persona, partials, summaryBudget)
}

func (m *Metabolism) summarizeChunk(ctx context.Context, client *llmservice.Client, persona *cityentity.Persona, msgs []*schema.Message, existing string, maxTokens int) (string, error) {
	var b strings.Builder
	b.WriteString("You are a conversation summarizer. Summarize the following conversation concisely, preserving:\n")
	b.WriteString("- Key decisions and conclusions\n")
	b.WriteString("- Important facts, names and data points\n")
	b.WriteString("- Commitments and plans still in effect\n\n")
	fmt.Fprintf(&b, "Keep the summary under %d tokens. Write in the same language as the conversation.\n\n", maxTokens)
	if existing != "" {
		b.WriteString("Summary so far:\n")
		b.WriteString(existing)
		b.WriteString("\n\n---\n\nNew messages to summarize:\n\n")
	} else {
		b.WriteString("Messages to summarize:\n\n")
	}
	for _, msg := range msgs {
		content := msg.Content
		if runes := []rune(content); len(runes) > 2000 {
			content = string(runes[:1000]) + "\n...\n" + string(runes[len(runes)-500:])
		}
		fmt.Fprintf(&b, "[%s]: %s\n\n", msg.Role, content)
	}

	res, err := client.Generate(ctx, []*schema.Message{
		{Role: schema.System, Content: "You are a precise conversation summarizer. Output only the summary, no preamble."},
		{Role: schema.User, Content: b.String()},
	}, llmservice.GenerateOptions{})
	if err != nil {
		return "", err
	}
	m.recordUsage(client, persona)
	return strings.TrimSpace(res.Content), nil
}

func (m *Metabolism) mergePartials(ctx context.Context, client *llmservice.Client, persona *cityentity.Persona, partials []string, maxTokens int) (string, error) {
	var b strings.Builder
	b.WriteString("Merge the following partial conversation summaries into a single cohesive summary.\n")
	fmt.Fprintf(&b, "Keep the final summary under %d tokens. Preserve all key information.\n\n", maxTokens)
	for i, partial := range partials {
		fmt.Fprintf(&b, "--- Part %d/%d ---\n%s\n\n", i+1, len(partials), partial)
	}

	res, err := client.Generate(ctx, []*schema.Message{
		{Role: schema.System, Content: "You are a precise conversation summarizer. Output only the merged summary, no preamble."},
		{Role: schema.User, Content: b.String()},
	}, llmservice.GenerateOptions{})
	if err != nil {
		logger.WarnX(runtimeModule, "metabolism: merge failed, concatenating partials: %v", err)
		return strings.Join(partials, "\n\n---\n\n"), nil
	}
	m.recordUsage(client, persona)
	return strings.TrimSpace(res.Content), nil
}

func (m *Metabolism) recordUsage(client *llmservice.Client, persona *cityentity.Persona) {
	usage := client.ConsumeUsage()
	if usage == nil || m.usage == nil {
		return
	}
	cfg := client.Config()
	m.usage.Record(&usageentity.Record{
		PersonaID:        persona.ID,
		ModelID:          cfg.ID,
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		CachedTokens:     usage.CachedTokens,
		CacheWriteTokens: usage.CacheWriteTokens,
		CostUSD:          cfg.CostUSD(*usage),
		Category:         "metabolism",
	})
}

// splitByBudget splits messages into chunks whose estimated token cost
// stays under the budget.
func splitByBudget(msgs []*schema.Message, estimator *TokenEstimator, budget int) [][]*schema.Message {
	var chunks [][]*schema.Message
	var current []*schema.Message
	currentTokens := 0
	for _, msg := range msgs {
		tokens := estimator.EstimateMessage(msg)
		if currentTokens+tokens > budget && len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, msg)
		currentTokens += tokens
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
