// Package config loads the simulation's ring parameters from environment
// variables, following the same cleanenv+validator pattern as the
// pkg/config package in the microservices-library retrieval pack entry.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the environment-tunable parameters of the simulation. The
// ring's behavior is otherwise fixed; this only controls the size of the
// identifier space and which IPs the demo driver seeds the ring with.
//
// The "8" default mirrors ringid.DefaultM; it's duplicated here as a
// literal because struct tags can't reference a package constant.
type Config struct {
	M    int    `env:"CHORDSIM_M" env-default:"8" validate:"min=1,max=32"`
	Seed string `env:"CHORDSIM_SEED" env-default:""`
}

// Load reads Config from a .env file if present, falling back to process
// environment variables, and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(".env", &cfg); err != nil {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to read env config: %w", err)
		}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
