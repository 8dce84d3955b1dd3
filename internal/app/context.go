package app

import (
	"gocloud.dev/blob"

	"github.com/datallboy/stackdl/internal/engine"
	"github.com/datallboy/stackdl/internal/events"
	"github.com/datallboy/stackdl/internal/infra/config"
	"github.com/datallboy/stackdl/internal/infra/logger"
	"github.com/datallboy/stackdl/internal/store"
)

// Context holds the environment and shared resources for stackdl.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	Scheduler *engine.Scheduler
	Store     store.Store
	// Output receives finished payloads under <group>/<id>.
	Output *blob.Bucket
	Events events.Emitter
}

// NewContext initializes the base environment. Events default to a no-op
// emitter until a hub is attached.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config: cfg,
		Logger: log,
		Events: events.Nop{},
	}
}
