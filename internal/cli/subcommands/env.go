package subcommands

import (
	"go.uber.org/zap"

	"OpenSampler/internal/config"
	"OpenSampler/internal/runtime"
)

// Env is the state shared by every subcommand. The root command fills it
// in before any subcommand runs.
type Env struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry runtime.Registry
}

func (e *Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
