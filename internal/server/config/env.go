package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// parseEnv overlays Config fields from environment variables, loading a
// local .env file first when one exists. A missing .env file is not an
// error.
//
// Recognized variables:
//
//	SERVER_ADDR                  HTTP bind address
//	DATA_FILE                    identity document path
//	JWT_SECRET                   session token HMAC secret
//	SESSION_TOKEN_VALIDITY       duration string, e.g. "168h"
//	VERIFICATION_TOKEN_VALIDITY  duration string, e.g. "24h"
//	RESET_TOKEN_VALIDITY         duration string, e.g. "1h"
//	KAFKA_BROKER                 mail event broker address
//	KAFKA_TOPIC                  mail event topic
func parseEnv(config *Config) {
	_ = godotenv.Load()

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setString("SERVER_ADDR", &config.EndpointAddrHTTP)
	setString("DATA_FILE", &config.DataFile)
	setString("JWT_SECRET", &config.SecretKey)
	setDuration("SESSION_TOKEN_VALIDITY", &config.SessionTokenValidity)
	setDuration("VERIFICATION_TOKEN_VALIDITY", &config.VerificationTokenValidity)
	setDuration("RESET_TOKEN_VALIDITY", &config.ResetTokenValidity)
	setString("KAFKA_BROKER", &config.KafkaBroker)
	setString("KAFKA_TOPIC", &config.KafkaTopic)
}
