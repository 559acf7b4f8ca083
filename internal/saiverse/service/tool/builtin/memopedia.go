package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	mementity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/entity"
	memrepo "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/memory/domain/repo"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/pkg/errno"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/entity"
)

// Memopedia tools let a persona curate its own knowledge pages.
// Saving an existing title promotes the page's vividness one step.

func boundStore(ctx context.Context, memory memrepo.Manager) (memrepo.Store, string, error) {
	personaID := entity.ActivePersonaID(ctx)
	if personaID == "" {
		return nil, "", fmt.Errorf("no active persona bound")
	}
	store, err := memory.ForPersona(ctx, personaID)
	if err != nil {
		return nil, "", err
	}
	return store, personaID, nil
}

type MemopediaSaveTool struct {
	memory memrepo.Manager
}

func NewMemopediaSaveTool(memory memrepo.Manager) *MemopediaSaveTool {
	return &MemopediaSaveTool{memory: memory}
}

func (t *MemopediaSaveTool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "memopedia_save_page",
		Desc: "メモペディアにページを作成または更新する(更新時は鮮明度が一段上がる)",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"title": {
				Desc:     "ページタイトル(ペルソナ内で一意)",
				Type:     schema.String,
				Required: true,
			},
			"category": {
				Desc:     "people / terms / plans のいずれか",
				Type:     schema.String,
				Required: true,
			},
			"summary": {
				Desc:     "一行要約",
				Type:     schema.String,
				Required: true,
			},
			"content": {
				Desc:     "ページ本文",
				Type:     schema.String,
				Required: false,
			},
			"keywords": {
				Desc:     "検索用キーワード",
				Type:     schema.Array,
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
				Required: false,
			},
		}),
	}
}

func (t *MemopediaSaveTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	store, personaID, err := boundStore(ctx, t.memory)
	if err != nil {
		return nil, err
	}
	title, _ := args["title"].(string)
	category, _ := args["category"].(string)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	switch category {
	case mementity.CategoryPeople, mementity.CategoryTerms, mementity.CategoryPlans:
	default:
		return nil, fmt.Errorf("unknown memopedia category: %q", category)
	}
	summary, _ := args["summary"].(string)
	content, _ := args["content"].(string)

	page := &mementity.MemopediaPage{
		ID:        uuid.NewString(),
		PersonaID: personaID,
		Title:     title,
		Category:  category,
		Summary:   summary,
		Content:   content,
		Keywords:  stringSlice(args["keywords"]),
		Vividness: mementity.VividnessFaint,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := store.SavePage(ctx, page); err != nil {
		return nil, err
	}
	return fmt.Sprintf("ページ「%s」を保存しました。", title), nil
}

type MemopediaOpenTool struct {
	memory memrepo.Manager
}

func NewMemopediaOpenTool(memory memrepo.Manager) *MemopediaOpenTool {
	return &MemopediaOpenTool{memory: memory}
}

func (t *MemopediaOpenTool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "memopedia_open_page",
		Desc: "メモペディアのページを開いて全文を読む",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"title": {
				Desc:     "開くページのタイトル",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
}

func (t *MemopediaOpenTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	store, _, err := boundStore(ctx, t.memory)
	if err != nil {
		return nil, err
	}
	title, _ := args["title"].(string)
	page, err := store.GetPage(ctx, title)
	if err != nil {
		if errors.Is(err, errno.ErrPageNotFound) {
			return fmt.Sprintf("ページ「%s」は存在しません。", title), nil
		}
		return nil, err
	}
	return map[string]any{
		"title":     page.Title,
		"category":  page.Category,
		"summary":   page.Summary,
		"content":   page.Content,
		"keywords":  page.Keywords,
		"vividness": string(page.Vividness),
	}, nil
}

type MemopediaSearchTool struct {
	memory memrepo.Manager
}

func NewMemopediaSearchTool(memory memrepo.Manager) *MemopediaSearchTool {
	return &MemopediaSearchTool{memory: memory}
}

func (t *MemopediaSearchTool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "memopedia_search",
		Desc: "メモペディアをキーワードで検索する",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"keyword": {
				Desc:     "検索キーワード",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
}

func (t *MemopediaSearchTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	store, _, err := boundStore(ctx, t.memory)
	if err != nil {
		return nil, err
	}
	keyword, _ := args["keyword"].(string)
	pages, err := store.SearchPages(ctx, keyword)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return fmt.Sprintf("「%s」に一致するページは見つかりませんでした。", keyword), nil
	}
	var b strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&b, "- %s (%s): %s\n", p.Title, p.Category, p.Summary)
	}
	return b.String(), nil
}

type MemopediaListTool struct {
	memory memrepo.Manager
}

func NewMemopediaListTool(memory memrepo.Manager) *MemopediaListTool {
	return &MemopediaListTool{memory: memory}
}

func (t *MemopediaListTool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "memopedia_list_pages",
		Desc: "メモペディアのページ一覧を取得する",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"category": {
				Desc:     "絞り込むカテゴリ(省略時は全件)",
				Type:     schema.String,
				Required: false,
			},
		}),
	}
}

func (t *MemopediaListTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	store, _, err := boundStore(ctx, t.memory)
	if err != nil {
		return nil, err
	}
	category, _ := args["category"].(string)
	pages, err := store.ListPages(ctx, category)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(pages))
	for _, p := range pages {
		out = append(out, map[string]any{
			"title":     p.Title,
			"category":  p.Category,
			"summary":   p.Summary,
			"vividness": string(p.Vividness),
		})
	}
	return out, nil
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
