package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig     = "LAYOUTSTATS_CONFIG"
	EnvStore      = "LAYOUTSTATS_STORE"
	EnvLayoutsDir = "LAYOUTSTATS_LAYOUTS_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // LAYOUTSTATS_CONFIG: override config file path
	StorePath  string // LAYOUTSTATS_STORE: metrics document path
	LayoutsDir string // LAYOUTSTATS_LAYOUTS_DIR: definitions directory
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		StorePath:  os.Getenv(EnvStore),
		LayoutsDir: os.Getenv(EnvLayoutsDir),
	}
}
