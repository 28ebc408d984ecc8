package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dkarpov/studenthub/internal/flagx"
	"github.com/dkarpov/studenthub/internal/timex"
)

// JsonConfig is an intermediate DTO for reading JSON configuration files.
// It uses timex.Duration for interval fields so both string values such as
// "24h" and integer nanoseconds parse. After unmarshalling, non-zero fields
// are copied into the runtime Config.
type JsonConfig struct {
	EndpointAddrHTTP          string         `json:"endpoint_addr_http"`
	DataFile                  string         `json:"data_file"`
	SecretKey                 string         `json:"secret_key"`
	SessionTokenValidity      timex.Duration `json:"session_token_validity"`
	VerificationTokenValidity timex.Duration `json:"verification_token_validity"`
	ResetTokenValidity        timex.Duration `json:"reset_token_validity"`
	KafkaBroker               string         `json:"kafka_broker"`
	KafkaTopic                string         `json:"kafka_topic"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config. The file path comes from the -c or -config command-line flags;
// when neither is set, no JSON file is loaded. If the file cannot be read
// or contains invalid JSON, the function panics: a requested config file
// that does not apply is a startup error, not a condition to run past.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddrHTTP != "" {
		config.EndpointAddrHTTP = c.EndpointAddrHTTP
	}
	if c.DataFile != "" {
		config.DataFile = c.DataFile
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.SessionTokenValidity.Duration != 0 {
		config.SessionTokenValidity = time.Duration(c.SessionTokenValidity.Duration)
	}
	if c.VerificationTokenValidity.Duration != 0 {
		config.VerificationTokenValidity = time.Duration(c.VerificationTokenValidity.Duration)
	}
	if c.ResetTokenValidity.Duration != 0 {
		config.ResetTokenValidity = time.Duration(c.ResetTokenValidity.Duration)
	}
	if c.KafkaBroker != "" {
		config.KafkaBroker = c.KafkaBroker
	}
	if c.KafkaTopic != "" {
		config.KafkaTopic = c.KafkaTopic
	}
}
