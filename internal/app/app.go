// Package app wires the installer together: the job controller, the
// broadcaster, the setup-flow state and the fiber application serving them.
package app

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/edulution-io/installer/internal/api/v1/handlers"
	"github.com/edulution-io/installer/internal/api/v1/middleware"
	v1 "github.com/edulution-io/installer/internal/api/v1/routes"
	"github.com/edulution-io/installer/internal/checks"
	"github.com/edulution-io/installer/internal/envfile"
	"github.com/edulution-io/installer/internal/install"
	"github.com/edulution-io/installer/internal/job"
)

// Options configures a new App.
type Options struct {
	Settings install.Settings

	// Shutdown is called (after the configured delay) when a client asks
	// the installer to stop. Nil disables self-shutdown.
	Shutdown func()
}

// App is the assembled installer.
type App struct {
	Fiber       *fiber.App
	Controller  *job.Controller
	Broadcaster *job.Broadcaster
	Store       *install.Store

	settings install.Settings
}

// New assembles the installer from its parts.
func New(opts Options) *App {
	store := install.NewStore()
	broadcaster := job.NewBroadcaster()
	ctrl := job.NewController(job.NewEventLog(), broadcaster)

	// An unattended installer hands its port over to the installed stack
	// once a job succeeds; the interactive setup flow shuts down via
	// POST /finish instead.
	if opts.Shutdown != nil && opts.Settings.ShutdownOnSuccess {
		delay := opts.Settings.ShutdownDelay
		shutdown := opts.Shutdown
		ctrl.SetOnSuccess(func() {
			time.Sleep(delay)
			shutdown()
		})
	}

	h := v1.Handlers{
		Job:         handlers.NewJobHandler(ctrl, broadcaster, opts.Settings),
		Checks:      handlers.NewChecksHandler(store, checks.NewRemote(store), checks.NewSystemChecker(opts.Settings.PlaybookDir)),
		Certificate: handlers.NewCertificateHandler(store, opts.Settings),
		Finish: handlers.NewFinishHandler(store, envfile.NewRenderer(opts.Settings.EdulutionDir),
			opts.Settings.ShutdownDelay, opts.Shutdown),
	}

	f := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware
	f.Use(recover.New())
	f.Use(cors.New())
	f.Use(middleware.Logger(func() string { return string(ctrl.Status().Status) }))

	// Register versioned routes
	v1.Register(f, h)

	return &App{
		Fiber:       f,
		Controller:  ctrl,
		Broadcaster: broadcaster,
		Store:       store,
		settings:    opts.Settings,
	}
}

// Run starts the broadcaster and serves HTTP until ctx is cancelled or the
// listener fails.
func (a *App) Run(ctx context.Context) error {
	go a.Broadcaster.Run(ctx)
	return a.Fiber.Listen(a.settings.ListenAddr)
}

// Stop gracefully shuts the HTTP server down.
func (a *App) Stop() error {
	return a.Fiber.Shutdown()
}
