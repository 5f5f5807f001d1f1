// Package monolith provides the application container and module interface.
package monolith

import (
	"context"

	"github.com/tqthu/web3-thu-duc/internal/asset"
	"github.com/tqthu/web3-thu-duc/internal/config"
	"github.com/tqthu/web3-thu-duc/internal/di"
	"github.com/tqthu/web3-thu-duc/internal/logger"
)

// Monolith is the main application container providing access to shared infrastructure.
type Monolith interface {
	Config() *config.Config
	Logger() logger.LoggerInterface
	AssetRegistry() *asset.Registry
	Services() di.ServiceRegistry
}

// Module represents a bounded context module that can register services and start up.
type Module interface {
	RegisterServices(di.Container) error
	Startup(context.Context, Monolith) error
}

// Closer is implemented by modules that hold resources past Startup.
type Closer interface {
	Shutdown(context.Context) error
}

// app implements the Monolith interface.
type app struct {
	config        *config.Config
	logger        logger.LoggerInterface
	assetRegistry *asset.Registry
	container     di.Container
	started       []Module
}

// New creates a new Monolith instance.
func New(cfg *config.Config, log logger.LoggerInterface) *app {
	assetRegistry := asset.DefaultRegistry()

	container := di.NewContainer()

	// Register global services
	container.Register("config", cfg)
	container.Register("logger", log)
	container.Register("assetRegistry", assetRegistry)

	return &app{
		config:        cfg,
		logger:        log,
		assetRegistry: assetRegistry,
		container:     container,
	}
}

func (a *app) Config() *config.Config {
	return a.config
}

func (a *app) Logger() logger.LoggerInterface {
	return a.logger
}

func (a *app) AssetRegistry() *asset.Registry {
	return a.assetRegistry
}

func (a *app) Services() di.ServiceRegistry {
	return a.container
}

// Container returns the DI container for module registration.
func (a *app) Container() di.Container {
	return a.container
}

// RegisterModules registers all provided modules.
func (a *app) RegisterModules(modules ...Module) error {
	for _, m := range modules {
		if err := m.RegisterServices(a.container); err != nil {
			return err
		}
	}
	return nil
}

// StartModules starts all provided modules.
func (a *app) StartModules(ctx context.Context, modules ...Module) error {
	for _, m := range modules {
		if err := m.Startup(ctx, a); err != nil {
			return err
		}
		a.started = append(a.started, m)
	}
	return nil
}

// Close shuts started modules down in reverse order.
func (a *app) Close(ctx context.Context) error {
	var first error
	for i := len(a.started) - 1; i >= 0; i-- {
		c, ok := a.started[i].(Closer)
		if !ok {
			continue
		}
		if err := c.Shutdown(ctx); err != nil {
			a.logger.Error(ctx, "module shutdown failed", "error", err)
			if first == nil {
				first = err
			}
		}
	}
	a.started = nil
	return first
}
