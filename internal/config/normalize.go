package config

import "strings"

func normalizeRedisRawURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "redis://") || strings.HasPrefix(trimmed, "rediss://") {
		return trimmed
	}
	return "redis://" + trimmed
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(env string) string {
	trimmed := strings.ToLower(strings.TrimSpace(env))
	if trimmed == "" {
		return defaultEnv
	}
	return trimmed
}

func mergeMongoConfig(cfg, raw MongoConfig) MongoConfig {
	cfg.URI = strings.TrimSpace(raw.URI)
	if v := strings.TrimSpace(raw.Database); v != "" {
		cfg.Database = v
	}
	if v := strings.TrimSpace(raw.Collection); v != "" {
		cfg.Collection = v
	}
	return cfg
}

func mergeAIProvider(cfg, raw AIProvider) AIProvider {
	if v := strings.TrimSpace(raw.Type); v != "" {
		cfg.Type = v
	}
	cfg.APIKey = strings.TrimSpace(raw.APIKey)
	cfg.Endpoint = strings.TrimSpace(raw.Endpoint)
	if v := strings.TrimSpace(raw.ChatModel); v != "" {
		cfg.ChatModel = v
	}
	if v := strings.TrimSpace(raw.TranscriptionModel); v != "" {
		cfg.TranscriptionModel = v
	}
	if v := strings.TrimSpace(raw.SpeechModel); v != "" {
		cfg.SpeechModel = v
	}
	if v := strings.TrimSpace(raw.EmbeddingModel); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := strings.TrimSpace(raw.Voice); v != "" {
		cfg.Voice = v
	}
	return cfg
}

func copyStringMap(input map[string]string) map[string]string {
	if input == nil {
		return nil
	}
	out := make(map[string]string, len(input))
	for key, value := range input {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}
