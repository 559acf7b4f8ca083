package entity

import "time"

// Record is one LLM call's accounting row.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	PersonaID        string    `json:"persona_id"`
	BuildingID       string    `json:"building_id,omitempty"`
	ModelID          string    `json:"model_id"`
	InputTokens      int       `json:"input_tokens"`
	OutputTokens     int       `json:"output_tokens"`
	CachedTokens     int       `json:"cached_tokens"`
	CacheWriteTokens int       `json:"cache_write_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	NodeType         string    `json:"node_type,omitempty"`
	PlaybookName     string    `json:"playbook_name,omitempty"`
	Category         string    `json:"category,omitempty"`
}
