package config

import (
	"fmt"
	"os"
	"strings"
)

const envFileKey = "AAWALLET_ENV_FILE"

type processEnv struct{}

func (processEnv) Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// FromEnviron reads keys from the process environment.
func FromEnviron() EnvSource {
	return processEnv{}
}

// LoadFromEnv loads the process environment. Builds tagged dev first merge
// the env file named by AAWALLET_ENV_FILE (default .env) without overriding
// variables that are already set.
func LoadFromEnv() (Config, error) {
	path := strings.TrimSpace(os.Getenv(envFileKey))
	if path == "" {
		path = ".env"
	}
	if err := loadDotEnv(path); err != nil {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}
	return Load(FromEnviron())
}
