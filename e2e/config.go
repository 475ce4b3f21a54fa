package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_LOCAL_USER is the session identity driving the scenarios
	LocalUser string `envconfig:"E2E_LOCAL_USER" default:"@me:call.lab"`
	// E2E_DEBUG_JSON allows dumping request bodies sent to the bridge API
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
