package provider

import (
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/anthropic"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/deepseek"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/gemini"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/glm"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/kimi"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/ollama"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/openai"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/qwen"
	"github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/llm/provider/spi"
)

// NewInTreeRegistry registers every provider plugin shipped with the
// binary.
func NewInTreeRegistry() *Registry {
	r := NewRegistry()

	r.MustRegister(anthropic.Name, func() spi.ChatModelPlugin { return anthropic.New() })
	r.MustRegister(openai.Name, func() spi.ChatModelPlugin { return openai.New() })
	r.MustRegister(gemini.Name, func() spi.ChatModelPlugin { return gemini.New() })
	r.MustRegister(deepseek.Name, func() spi.ChatModelPlugin { return deepseek.New() })
	r.MustRegister(glm.Name, func() spi.ChatModelPlugin { return glm.New() })
	r.MustRegister(kimi.Name, func() spi.ChatModelPlugin { return kimi.New() })
	r.MustRegister(qwen.Name, func() spi.ChatModelPlugin { return qwen.New() })
	r.MustRegister(ollama.Name, func() spi.ChatModelPlugin { return ollama.New() })
	return r
}
