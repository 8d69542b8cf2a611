package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices share backing arrays with cfg; copy the ones that are redacted
	// or might be mutated by callers.
	if cfg.Chainlink.Nodes != nil {
		out.Chainlink.Nodes = make([]NodeConfig, len(cfg.Chainlink.Nodes))
		for i, n := range cfg.Chainlink.Nodes {
			redact(&n.AccessKey)
			redact(&n.AccessSecret)
			out.Chainlink.Nodes[i] = n
		}
	}
	if cfg.Identifiers != nil {
		out.Identifiers = make([]IdentifierConfig, len(cfg.Identifiers))
		copy(out.Identifiers, cfg.Identifiers)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
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
