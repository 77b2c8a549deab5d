// ABOUTME: Builds the registered provider client set from configuration.
// ABOUTME: Providers are resolved once at startup; unconfigured ones are skipped.

package provider

import (
	"log/slog"

	"github.com/2389/troupe-gateway/internal/config"
)

// FromConfig builds provider clients in the configured failover order.
// Hosted providers register only when an API key is present; local servers
// (lmstudio, ollama) only when a base URL is set; demo always registers when
// listed. An empty result falls back to the demo client so the daemon can
// always start.
func FromConfig(cfg config.ProvidersConfig, logger *slog.Logger) []Client {
	if logger == nil {
		logger = slog.Default()
	}

	var clients []Client
	add := func(c Client) {
		clients = append(clients, c)
		logger.Info("provider registered", "provider", c.Name())
	}

	for _, name := range cfg.Order {
		switch name {
		case "openai":
			if cfg.OpenAI.APIKey != "" {
				add(NewOpenAI("openai",
					orDefault(cfg.OpenAI.BaseURL, "https://api.openai.com/v1"),
					cfg.OpenAI.APIKey,
					orDefault(cfg.OpenAI.Model, "gpt-3.5-turbo")))
			}
		case "anthropic":
			if cfg.Anthropic.APIKey != "" {
				add(NewAnthropic(cfg.Anthropic.BaseURL, cfg.Anthropic.APIKey,
					orDefault(cfg.Anthropic.Model, "claude-3-haiku-20240307")))
			}
		case "deepseek":
			if cfg.DeepSeek.APIKey != "" {
				add(NewOpenAI("deepseek",
					orDefault(cfg.DeepSeek.BaseURL, "https://api.deepseek.com/v1"),
					cfg.DeepSeek.APIKey,
					orDefault(cfg.DeepSeek.Model, "deepseek-chat")))
			}
		case "gemini":
			if cfg.Gemini.APIKey != "" {
				add(NewGemini(cfg.Gemini.BaseURL, cfg.Gemini.APIKey,
					orDefault(cfg.Gemini.Model, "gemini-pro")))
			}
		case "openrouter":
			if cfg.OpenRouter.APIKey != "" {
				add(NewOpenAI("openrouter",
					orDefault(cfg.OpenRouter.BaseURL, "https://openrouter.ai/api/v1"),
					cfg.OpenRouter.APIKey,
					orDefault(cfg.OpenRouter.Model, "openai/gpt-3.5-turbo")))
			}
		case "lmstudio":
			if cfg.LMStudio.BaseURL != "" {
				add(NewOpenAI("lmstudio", cfg.LMStudio.BaseURL, "",
					orDefault(cfg.LMStudio.Model, "local-model")))
			}
		case "ollama":
			if cfg.Ollama.BaseURL != "" {
				add(NewOllama(cfg.Ollama.BaseURL, cfg.Ollama.Model))
			}
		case "demo":
			add(NewDemo())
		default:
			logger.Warn("unknown provider in order, skipping", "provider", name)
		}
	}

	if len(clients) == 0 {
		logger.Warn("no providers configured, registering demo provider")
		clients = append(clients, NewDemo())
	}
	return clients
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
