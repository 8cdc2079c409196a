// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package driver defines the capability interface every cloud
// provider implements, and the registry through which providers are
// selected. Each provider lives in its own package under
// internal/provider and is only referenced by its registration.
package driver

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/spawn-sh/spawn/internal/creds"
	"github.com/spawn-sh/spawn/internal/interact"
	"github.com/spawn-sh/spawn/internal/manifest"
)

// DefaultRunTimeout bounds one-shot remote commands. Interactive
// sessions are unbounded.
const DefaultRunTimeout = 300 * time.Second

// LaunchSpec carries the per-launch choices a driver needs to create
// a server.
type LaunchSpec struct {
	// Name is the validated kebab-case instance name.
	Name string

	// Tier selects the cloud-init package set baked into userdata.
	Tier manifest.Tier

	// UserData is the rendered first-boot script.
	UserData string

	// Region and Size are optional overrides; empty means the
	// provider default (or the cheapest viable substitute).
	Region string
	Size   string

	// Custom enables interactive size/region pickers.
	Custom bool
}

// Server identifies one provisioned instance.
type Server struct {
	ID       string            `json:"server_id"`
	Name     string            `json:"server_name"`
	IP       string            `json:"ip"`
	User     string            `json:"user"`
	Cloud    string            `json:"cloud"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Driver is the uniform capability surface the orchestrator depends
// on. Implementations hold their credentials internally once
// Authenticate has succeeded; concurrent drivers for different clouds
// never share state.
type Driver interface {
	// Cloud returns the manifest definition this driver serves.
	Cloud() manifest.CloudDef

	// Authenticate loads and validates credentials via the chain
	// env -> saved bundle -> provider CLI session -> CLI OAuth ->
	// interactive prompt. A token counts only after a read-only
	// probe call succeeds.
	Authenticate(ctx context.Context) error

	// PromptSize settles region and machine size on the spec from
	// environment, saved defaults or an interactive picker. Failure
	// is non-fatal; the provider default applies.
	PromptSize(ctx context.Context, spec *LaunchSpec) error

	// CreateServer provisions an instance. On a creation failure
	// that may have left a partial resource behind, the driver
	// destroys it best-effort before returning.
	CreateServer(ctx context.Context, spec *LaunchSpec) (*Server, error)

	// WaitReady blocks until the instance accepts commands and the
	// first-boot script has completed, or the provider ceiling
	// elapses.
	WaitReady(ctx context.Context, srv *Server) error

	// Run executes a shell command on the instance. A zero timeout
	// means DefaultRunTimeout.
	Run(ctx context.Context, srv *Server, command string, timeout time.Duration) error

	// RunCapture is Run with the command's stdout returned.
	RunCapture(ctx context.Context, srv *Server, command string, timeout time.Duration) (string, error)

	// Upload copies a local file to the instance. The remote path
	// must match ^[A-Za-z0-9/_.~-]+$.
	Upload(ctx context.Context, srv *Server, local, remote string) error

	// Interactive hands the terminal to a session running command on
	// the instance and returns the child's exit code.
	Interactive(ctx context.Context, srv *Server, command string) (int, error)

	// Destroy removes the instance. A provider not-found response is
	// success: the resource is already gone.
	Destroy(ctx context.Context, id string) error

	// List returns the instances this provider currently reports.
	List(ctx context.Context) ([]Server, error)
}

// Config carries the collaborators a provider factory needs.
type Config struct {
	CloudDef   manifest.CloudDef
	Creds      *creds.Store
	Clock      clock.Clock
	Interactor *interact.Interactor
}

// Validate checks the config is complete.
func (c Config) Validate() error {
	if c.CloudDef.Key == "" {
		return errors.NotValidf("config without cloud definition")
	}
	if c.Creds == nil {
		return errors.NotValidf("config without credential store")
	}
	if c.Clock == nil {
		return errors.NotValidf("config without clock")
	}
	if c.Interactor == nil {
		return errors.NotValidf("config without interactor")
	}
	return nil
}

// Factory constructs a driver for one cloud.
type Factory func(Config) (Driver, error)

var factories = map[string]Factory{}

// Register makes a provider available under the given cloud key. It
// panics on duplicate registration, mirroring the one-time package
// init it is called from.
func Register(name string, f Factory) {
	if _, ok := factories[name]; ok {
		panic(errors.Errorf("duplicate provider %q", name))
	}
	factories[name] = f
}

// New builds the registered driver for cfg.CloudDef.Key.
func New(cfg Config) (Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	f, ok := factories[cfg.CloudDef.Key]
	if !ok {
		return nil, errors.NotFoundf("provider for cloud %q", cfg.CloudDef.Key)
	}
	return f(cfg)
}

// Registered returns the cloud keys with a registered provider.
func Registered() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
