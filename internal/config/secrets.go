package config

// Redacted returns a copy of the Config with every secret field replaced by a
// masked placeholder, safe for logging and for the status API.
func (c Config) Redacted() Config {
	out := c

	out.Exchange.ApiKey = redact(c.Exchange.ApiKey)
	out.Exchange.ApiSecret = redact(c.Exchange.ApiSecret)
	out.Exchange.KeyPassword = redact(c.Exchange.KeyPassword)

	out.Postgres.DSN = redact(c.Postgres.DSN)
	out.Postgres.Password = redact(c.Postgres.Password)

	out.Redis.Password = redact(c.Redis.Password)

	out.S3.AccessKey = redact(c.S3.AccessKey)
	out.S3.SecretKey = redact(c.S3.SecretKey)

	out.Notify.TelegramToken = redact(c.Notify.TelegramToken)
	out.Notify.DiscordWebhookURL = redact(c.Notify.DiscordWebhookURL)
	out.Notify.WebhookURL = redact(c.Notify.WebhookURL)
	out.Notify.WebhookSecret = redact(c.Notify.WebhookSecret)

	return out
}

// redact masks a secret, keeping the first four characters as a hint when the
// value is long enough to stay unguessable.
func redact(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}
