package runtime

import "OpenSampler/internal/config"

// DefaultRegistry provides built-in engines.
var DefaultRegistry = Registry{}

// Register adds a new engine factory to the default registry.
func Register(name string, factory EngineFactory) {
	DefaultRegistry[name] = factory
}

// MustManager builds a manager from the default registry and panics on error.
func MustManager(cfg config.Config) *Manager {
	mgr, err := NewManager(cfg, DefaultRegistry, nil)
	if err != nil {
		panic(err)
	}
	return mgr
}

// Registry maps backend keys to engine factories.
type Registry map[string]EngineFactory

// EngineFactory constructs a new engine instance from configuration.
type EngineFactory func(config.EngineConfig) (Engine, error)
