package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Structs

// Env holds information specific to the
// system where weave is deployed. This
// enables host adaptions without needing
// to maintain two different config files.
// Use the .env file to populate values
// that differ per device.
type Env struct {
	DeviceName     string
	PrometheusAddr string
}

// Functions

// LoadEnv looks for an .env file in the directory
// of weave and reads in all defined values.
func LoadEnv() (*Env, error) {

	// Load environment file.
	err := godotenv.Load(".env")
	if err != nil {
		return nil, fmt.Errorf("[config.LoadEnv] Failed to read in .env file with: %s\n", err.Error())
	}

	env := new(Env)

	// Fill variables from .env into struct.
	env.DeviceName = os.Getenv("DEVICE_NAME")
	env.PrometheusAddr = os.Getenv("PROMETHEUS_ADDR")

	return env, nil
}

// ApplyEnv places the per-device values from the
// environment on top of the file-based config.
func (c *Config) ApplyEnv(env *Env) {

	if env == nil {
		return
	}

	if env.PrometheusAddr != "" {
		c.Sync.PrometheusAddr = env.PrometheusAddr
	}
}
