package runtime

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
)

func TestEstimateStringCJKWeighting(t *testing.T) {
	te := NewTokenEstimator("openai")

	assert.Equal(t, 0, te.EstimateString(""))
	// 4 Latin runes at 0.25 each.
	assert.Equal(t, 1, te.EstimateString("abcd"))
	// 5 Hiragana runes at 1.5 each.
	assert.Equal(t, 8, te.EstimateString("こんにちは"))
	// Mixed: 2 Han runes (3.0) + 4 Latin runes (1.0).
	assert.Equal(t, 4, te.EstimateString("東京abcd"))
}

func TestEstimateMessage(t *testing.T) {
	te := NewTokenEstimator("openai")

	assert.Equal(t, 0, te.EstimateMessage(nil))

	msg := &schema.Message{Role: schema.User, Content: "hi"}
	assert.Equal(t, PerMessageOverhead+1, te.EstimateMessage(msg))

	withTool := &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			Function: schema.FunctionCall{Name: "look", Arguments: `{"x":1}`},
		}},
	}
	// 4 overhead + name(1) + args(2) + 4 framing.
	assert.Equal(t, 11, te.EstimateMessage(withTool))
}

func TestEstimateMessageImageCostByProvider(t *testing.T) {
	img := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: "file:///x.png"}},
		},
	}

	assert.Equal(t, PerMessageOverhead+765, NewTokenEstimator("openai").EstimateMessage(img))
	assert.Equal(t, PerMessageOverhead+1600, NewTokenEstimator("anthropic").EstimateMessage(img))
	assert.Equal(t, PerMessageOverhead+1600, NewTokenEstimator("claude").EstimateMessage(img))
	assert.Equal(t, PerMessageOverhead+258, NewTokenEstimator("gemini").EstimateMessage(img))
	// Unknown providers fall back to the OpenAI tile estimate.
	assert.Equal(t, PerMessageOverhead+765, NewTokenEstimator("deepseek").EstimateMessage(img))
}

func TestEstimateMessages(t *testing.T) {
	te := NewTokenEstimator("openai")
	msgs := []*schema.Message{
		{Role: schema.User, Content: "abcd"},
		{Role: schema.Assistant, Content: "abcd"},
	}
	assert.Equal(t, 2*(PerMessageOverhead+1), te.EstimateMessages(msgs))
}
