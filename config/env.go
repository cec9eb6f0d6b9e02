package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables holding credentials.
const (
	EnvKeyID        = "APCA_API_KEY_ID"
	EnvSecretKey    = "APCA_API_SECRET_KEY"
	EnvCryptoAPIKey = "CRYPTOCOMPARE_API_KEY"
)

// LoadEnv reads dotenv files into the process environment. Variables that
// are already set win, and a missing file is not an error.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv copies credentials from the environment into c.
func (c *Config) ApplyEnv() {
	c.Broker.KeyID = os.Getenv(EnvKeyID)
	c.Broker.SecretKey = os.Getenv(EnvSecretKey)
	c.MarketData.APIKey = os.Getenv(EnvCryptoAPIKey)
}

// HasBrokerCredentials reports whether both Alpaca keys are present.
func (c *Config) HasBrokerCredentials() bool {
	return c.Broker.KeyID != "" && c.Broker.SecretKey != ""
}
