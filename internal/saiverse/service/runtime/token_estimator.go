package runtime

import (
	"math"
	"unicode"

	"github.com/cloudwego/eino/schema"
)

// Token estimation is heuristic: the exact count comes back from the
// provider with each response. CJK text tokenizes far denser than
// Latin text, so the two are weighted separately.
const (
	cjkTokensPerRune   = 1.5
	otherTokensPerRune = 0.25

	// PerMessageOverhead accounts for role tokens and framing.
	PerMessageOverhead = 4
)

// Fixed per-image token costs by provider family.
const (
	imageTokensOpenAI    = 765 // hi-detail tile estimate
	imageTokensAnthropic = 1600
	imageTokensGemini    = 258
)

// TokenEstimator estimates token counts for messages with a
// provider-specific image cost.
type TokenEstimator struct {
	imageTokens int
}

// NewTokenEstimator creates an estimator for the given provider name.
func NewTokenEstimator(provider string) *TokenEstimator {
	cost := imageTokensOpenAI
	switch provider {
	case "claude", "anthropic":
		cost = imageTokensAnthropic
	case "gemini":
		cost = imageTokensGemini
	}
	return &TokenEstimator{imageTokens: cost}
}

// EstimateString estimates tokens for a raw string.
func (te *TokenEstimator) EstimateString(s string) int {
	if s == "" {
		return 0
	}
	var tokens float64
	for _, r := range s {
		if isCJK(r) {
			tokens += cjkTokensPerRune
		} else {
			tokens += otherTokensPerRune
		}
	}
	return int(math.Ceil(tokens))
}

// EstimateMessage estimates tokens for one message including tool-call
// payloads and image attachments.
func (te *TokenEstimator) EstimateMessage(msg *schema.Message) int {
	if msg == nil {
		return 0
	}
	tokens := PerMessageOverhead
	tokens += te.EstimateString(msg.Content)
	for _, part := range msg.MultiContent {
		switch part.Type {
		case schema.ChatMessagePartTypeText:
			tokens += te.EstimateString(part.Text)
		case schema.ChatMessagePartTypeImageURL:
			tokens += te.imageTokens
		}
	}
	for _, tc := range msg.ToolCalls {
		tokens += te.EstimateString(tc.Function.Name)
		tokens += te.EstimateString(tc.Function.Arguments)
		tokens += 4 // tool call framing
	}
	return tokens
}

// EstimateMessages estimates total tokens for a message slice.
func (te *TokenEstimator) EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += te.EstimateMessage(m)
	}
	return total
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
