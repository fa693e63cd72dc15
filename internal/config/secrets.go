package config

import (
	"maps"
	"slices"
)

// RedactedConfig returns a copy of cfg with secrets replaced by "***", safe
// to log. Slices and maps are copied so the result cannot alias cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.WebhookURL)
	redact(&out.Notify.WebhookSecret)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Server.APIKey)

	out.Notify.WebhookHeaders = redactedMap(cfg.Notify.WebhookHeaders)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Arbitrage.Exchanges = slices.Clone(cfg.Arbitrage.Exchanges)
	out.Arbitrage.Symbols = slices.Clone(cfg.Arbitrage.Symbols)

	out.Venues = make([]VenueConfig, len(cfg.Venues))
	for i, v := range cfg.Venues {
		v.Subscribe = slices.Clone(v.Subscribe)
		v.Headers = redactedMap(v.Headers)
		out.Venues[i] = v
	}
	out.Alerts.Rules = make([]RuleConfig, len(cfg.Alerts.Rules))
	for i, r := range cfg.Alerts.Rules {
		r.Exchanges = slices.Clone(r.Exchanges)
		r.Symbols = slices.Clone(r.Symbols)
		r.Channels = slices.Clone(r.Channels)
		out.Alerts.Rules[i] = r
	}
	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactedMap keeps header names and hides their values.
func redactedMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := maps.Clone(in)
	for k := range out {
		v := out[k]
		redact(&v)
		out[k] = v
	}
	return out
}
