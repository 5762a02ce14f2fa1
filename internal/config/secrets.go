package config

import "net/url"

const redacted = "***"

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	redact(&out.Postgres.Password)
	out.Postgres.DSN = redactURL(cfg.Postgres.DSN)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Fresh slices so the copy cannot alias the original.
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Keeper.Whitelist = append([]string(nil), cfg.Keeper.Whitelist...)
	out.Pricefeed.Feeds = append([]FeedConfig(nil), cfg.Pricefeed.Feeds...)

	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL hides the password of a connection URL and keeps the rest
// readable. Anything that does not parse is hidden entirely.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
