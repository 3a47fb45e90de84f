package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/edulution-io/installer/internal/envfile"
	"github.com/edulution-io/installer/internal/install"
	"github.com/edulution-io/installer/internal/logger"
)

// FinishHandler finalizes the installation: it renders the runtime
// configuration files and then shuts the installer down so the installed
// stack can take over the port.
type FinishHandler struct {
	store         *install.Store
	renderer      *envfile.Renderer
	shutdownDelay time.Duration
	shutdown      func()
}

// NewFinishHandler creates a new finish handler instance. shutdown is
// invoked after shutdownDelay once a shutdown has been requested; it may be
// nil in tests.
func NewFinishHandler(store *install.Store, renderer *envfile.Renderer, shutdownDelay time.Duration, shutdown func()) *FinishHandler {
	return &FinishHandler{
		store:         store,
		renderer:      renderer,
		shutdownDelay: shutdownDelay,
		shutdown:      shutdown,
	}
}

// Finish writes the environment and proxy configuration files and arms the
// delayed self-shutdown. The delay leaves the client time to receive this
// response.
func (h *FinishHandler) Finish(c *fiber.Ctx) error {
	conf := h.store.Get()
	if !conf.Complete() {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput("configuration is incomplete"))
	}

	if err := h.renderer.Render(conf); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errServer(err.Error()))
	}

	h.armShutdown()
	return c.JSON(success("installation finished, server is shutting down"))
}

// Shutdown stops the installer without rendering anything
func (h *FinishHandler) Shutdown(c *fiber.Ctx) error {
	h.armShutdown()
	return c.JSON(success("server is shutting down"))
}

func (h *FinishHandler) armShutdown() {
	if h.shutdown == nil {
		return
	}
	logger.Infof("Shutting down in %s", h.shutdownDelay)
	shutdown := h.shutdown
	delay := h.shutdownDelay
	go func() {
		time.Sleep(delay)
		shutdown()
	}()
}
