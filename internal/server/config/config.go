// Package config handles configuration for the server component, including
// defaults, environment overlay, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the identity server.
//
// Fields:
//   - EndpointAddrHTTP: bind address for the HTTP API.
//   - DataFile: path of the JSON document holding all identity records.
//   - SecretKey: HMAC secret for signing session tokens (HS256). Do not use
//     the default in prod.
//   - SessionTokenValidity: lifetime of issued bearer tokens.
//   - VerificationTokenValidity / ResetTokenValidity: side-channel token
//     lifetimes.
//   - KafkaBroker / KafkaTopic: mail event broker; when the broker is empty
//     mail events go to the log instead.
type Config struct {
	EndpointAddrHTTP          string
	DataFile                  string
	SecretKey                 string
	SessionTokenValidity      time.Duration
	VerificationTokenValidity time.Duration
	ResetTokenValidity        time.Duration
	KafkaBroker               string
	KafkaTopic                string
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8080"
	c.DataFile = "data/database.json"
	c.SecretKey = "fallback_secret"
	c.SessionTokenValidity = 7 * 24 * time.Hour
	c.VerificationTokenValidity = 24 * time.Hour
	c.ResetTokenValidity = 1 * time.Hour
	c.KafkaBroker = ""
	c.KafkaTopic = "identity-mail"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from the environment, an optional JSON file, and finally command-line
// flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
