package llm

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const (
	// defaultContextWindow is assumed for any model missing from the catalog.
	defaultContextWindow = 4096
	// inputReserveRatio is the share of the context window reserved for input.
	inputReserveRatio = 0.8
	// charsPerToken is the rough character-to-token conversion used for budgets.
	charsPerToken = 4
)

// ChatModelOption describes a selectable chat model and its capability tags.
type ChatModelOption struct {
	Provider      string   `json:"provider"`
	Name          string   `json:"name"`
	DisplayName   string   `json:"display_name"`
	Description   string   `json:"description,omitempty"`
	ContextWindow int      `json:"context_window,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Recommended   bool     `json:"recommended,omitempty"`
}

var defaultChatModelCatalog = []ChatModelOption{
	{
		Provider:      "ollama",
		Name:          "gemma3:1b",
		DisplayName:   "Gemma 3 1B",
		Description:   "Small local model, fast answers over short transcripts.",
		ContextWindow: 32000,
		Capabilities:  []string{"chat", "stream"},
		Recommended:   true,
	},
	{
		Provider:      "ollama",
		Name:          "qwen3:1.7b",
		DisplayName:   "Qwen 3 1.7B",
		Description:   "Multilingual local model with a slightly larger window.",
		ContextWindow: 40000,
		Capabilities:  []string{"chat", "stream", "multilingual"},
	},
	{
		Provider:      "ollama",
		Name:          "ministral-3:3b",
		DisplayName:   "Ministral 3B",
		Description:   "Long-context model suited to full-episode questions.",
		ContextWindow: 256000,
		Capabilities:  []string{"chat", "stream", "long-context"},
	},
	{
		Provider:      "hosted",
		Name:          "gpt-oss-120b",
		DisplayName:   "GPT-OSS 120B",
		Description:   "Hosted model for answers that need deeper reasoning.",
		ContextWindow: 128000,
		Capabilities:  []string{"chat", "stream", "reasoning"},
	},
}

// MaxInputChars returns the approximate character budget a model accepts as
// input, reserving part of the window for the completion. Unknown models get
// the conservative default window.
func MaxInputChars(catalog []ChatModelOption, modelID string) int {
	window := defaultContextWindow
	name := strings.TrimSpace(modelID)
	for _, option := range catalog {
		if strings.EqualFold(option.Name, name) && option.ContextWindow > 0 {
			window = option.ContextWindow
			break
		}
	}
	return int(float64(window)*inputReserveRatio) * charsPerToken
}

func loadChatModelCatalog() []ChatModelOption {
	if catalog := loadChatModelCatalogFromEnv(); len(catalog) > 0 {
		return catalog
	}
	return append([]ChatModelOption(nil), defaultChatModelCatalog...)
}

func loadChatModelCatalogFromEnv() []ChatModelOption {
	rawInline := strings.TrimSpace(os.Getenv("LLM_MODEL_CATALOG"))
	if rawInline != "" {
		if catalog := parseModelCatalogJSON(rawInline); len(catalog) > 0 {
			return catalog
		}
		log.Printf("llm: failed to parse LLM_MODEL_CATALOG override")
	}

	rawPath := strings.TrimSpace(os.Getenv("LLM_MODEL_CATALOG_FILE"))
	if rawPath != "" {
		data, err := os.ReadFile(filepath.Clean(rawPath))
		if err != nil {
			log.Printf("llm: read LLM_MODEL_CATALOG_FILE failed: %v", err)
		} else if catalog := parseModelCatalogJSON(string(data)); len(catalog) > 0 {
			return catalog
		} else {
			log.Printf("llm: failed to parse catalog file %s", rawPath)
		}
	}

	return nil
}

func parseModelCatalogJSON(raw string) []ChatModelOption {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	var wrapped struct {
		Models []ChatModelOption `json:"models"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapped); err == nil && len(wrapped.Models) > 0 {
		return normalizeModelCatalog(wrapped.Models)
	}

	var list []ChatModelOption
	if err := json.Unmarshal([]byte(trimmed), &list); err == nil && len(list) > 0 {
		return normalizeModelCatalog(list)
	}

	return nil
}

func normalizeModelCatalog(list []ChatModelOption) []ChatModelOption {
	if len(list) == 0 {
		return nil
	}

	result := make([]ChatModelOption, 0, len(list))
	seen := make(map[string]struct{}, len(list))

	for _, item := range list {
		provider := strings.TrimSpace(item.Provider)
		name := strings.TrimSpace(item.Name)
		if provider == "" || name == "" {
			continue
		}

		key := strings.ToLower(provider) + "|" + strings.ToLower(name)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}

		option := ChatModelOption{
			Provider:      provider,
			Name:          name,
			DisplayName:   strings.TrimSpace(item.DisplayName),
			Description:   strings.TrimSpace(item.Description),
			ContextWindow: item.ContextWindow,
			Capabilities:  normalizeStringSlice(item.Capabilities),
			Tags:          normalizeStringSlice(item.Tags),
			Recommended:   item.Recommended,
		}
		if option.DisplayName == "" {
			option.DisplayName = name
		}
		if option.ContextWindow < 0 {
			option.ContextWindow = 0
		}

		result = append(result, option)
	}

	return result
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	result := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		lowered := strings.ToLower(trimmed)
		if _, exists := seen[lowered]; exists {
			continue
		}
		seen[lowered] = struct{}{}
		result = append(result, trimmed)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
