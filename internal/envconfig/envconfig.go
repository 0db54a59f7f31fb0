// Package envconfig reads backend credentials from the process environment through viper.
package envconfig

import (
	"strings"

	"github.com/spf13/viper"
)

// Env is a read-only view of configuration values keyed by variable name.
type Env interface {
	Get(key string) string
}

// ViperEnv resolves keys against the process environment via viper's automatic binding.
type ViperEnv struct {
	v *viper.Viper
}

// New returns an Env backed by cfg. A nil cfg creates a fresh viper instance.
func New(cfg *viper.Viper) *ViperEnv {
	if cfg == nil {
		cfg = viper.New()
	}
	cfg.AutomaticEnv()
	return &ViperEnv{v: cfg}
}

// Get returns the trimmed value for key, or "" when unset.
func (e *ViperEnv) Get(key string) string {
	return strings.TrimSpace(e.v.GetString(key))
}

// MapEnv is a fixed set of values, used in tests and for programmatic configuration.
type MapEnv map[string]string

// Get returns the trimmed value for key, or "" when unset.
func (m MapEnv) Get(key string) string {
	return strings.TrimSpace(m[key])
}

// Missing returns the subset of keys whose value is empty, in the order given.
func Missing(env Env, keys ...string) []string {
	var missing []string
	for _, key := range keys {
		if env.Get(key) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}
