package config

// Redacted returns a shallow copy of cfg with sensitive fields replaced by
// the redaction placeholder. Use this when logging the active configuration
// so secrets are never accidentally exposed.
func Redacted(cfg *Config) Config {
	const mask = "***"

	out := *cfg

	if out.Venue.ApiKey != "" {
		out.Venue.ApiKey = mask
	}
	if out.Venue.ApiSecret != "" {
		out.Venue.ApiSecret = mask
	}
	if out.Venue.ApiPassphrase != "" {
		out.Venue.ApiPassphrase = mask
	}
	if out.Venue.SecretPassword != "" {
		out.Venue.SecretPassword = mask
	}
	if out.Postgres.Password != "" {
		out.Postgres.Password = mask
	}
	if out.Postgres.DSN != "" {
		out.Postgres.DSN = mask
	}
	if out.Redis.Password != "" {
		out.Redis.Password = mask
	}
	if out.S3.SecretKey != "" {
		out.S3.SecretKey = mask
	}
	if out.Notify.TelegramToken != "" {
		out.Notify.TelegramToken = mask
	}
	if out.Notify.DiscordWebhookURL != "" {
		out.Notify.DiscordWebhookURL = mask
	}

	return out
}
