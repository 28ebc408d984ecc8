package config

import (
	"flag"
	"os"
	"time"

	"github.com/dkarpov/studenthub/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-f string   identity document path
//	-s string   session token HMAC secret
//	-t int      session token validity, hours
//	-k string   Kafka broker address
//	-q string   Kafka mail topic
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with flags owned by other packages.
// The duration flag is accepted as an integer in hours.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-f", "-s", "-t", "-k", "-q"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DataFile, "f", config.DataFile, "identity document path")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	sessionTokenValidity := fs.Int("t", int(config.SessionTokenValidity.Hours()), "session_token_validity (in hours)")

	fs.StringVar(&config.KafkaBroker, "k", config.KafkaBroker, "Kafka broker address")
	fs.StringVar(&config.KafkaTopic, "q", config.KafkaTopic, "Kafka mail topic")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTokenValidity = time.Duration(*sessionTokenValidity) * time.Hour
}
