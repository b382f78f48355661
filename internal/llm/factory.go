package llm

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/beplan/internal/model"
)

// NewProvider builds the configured LLM provider. An empty provider
// name means LLM extraction is disabled; callers get (nil, nil) and
// fall back to deterministic extraction only.
func NewProvider(cfg model.LLMConfig, log *zap.Logger) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIProvider(cfg, log)
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai)", cfg.Provider)
	}
}
