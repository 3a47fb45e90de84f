package handlers

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"github.com/edulution-io/installer/internal/install"
	"github.com/edulution-io/installer/internal/job"
	"github.com/edulution-io/installer/internal/logger"
	"github.com/edulution-io/installer/internal/runner"
	"github.com/edulution-io/installer/internal/types"
)

// JobHandler handles HTTP requests for job execution and streaming
type JobHandler struct {
	ctrl        *job.Controller
	broadcaster *job.Broadcaster
	settings    install.Settings
}

// NewJobHandler creates a new job handler instance
func NewJobHandler(ctrl *job.Controller, broadcaster *job.Broadcaster, settings install.Settings) *JobHandler {
	return &JobHandler{
		ctrl:        ctrl,
		broadcaster: broadcaster,
		settings:    settings,
	}
}

// GetStatus returns the current controller snapshot
func (h *JobHandler) GetStatus(c *fiber.Ctx) error {
	return c.JSON(success(h.ctrl.Status()))
}

// StartPlaybook launches an ansible-playbook job
func (h *JobHandler) StartPlaybook(c *fiber.Ctx) error {
	var req types.PlaybookStartRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}

	// Reject unknown playbooks before touching the controller so a typo
	// does not reset the previous job's log.
	if filepath.Base(req.Playbook) != req.Playbook {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput("invalid playbook name"))
	}
	if _, err := os.Stat(filepath.Join(h.settings.PlaybookDir, req.Playbook)); err != nil {
		if os.IsNotExist(err) {
			return c.Status(fiber.StatusNotFound).JSON(errNotFound("playbook not found: " + req.Playbook))
		}
		return c.Status(fiber.StatusInternalServerError).JSON(errServer(err.Error()))
	}

	r := runner.NewPlaybookRunner(req.Playbook, h.settings.PlaybookDir, h.settings.PrivateDataDir, req.ExtraVars)
	return h.start(c, r, "playbook "+req.Playbook)
}

// Bootstrap launches an SSH bootstrap job against a remote host
func (h *JobHandler) Bootstrap(c *fiber.Ctx) error {
	var req types.BootstrapRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}

	r := runner.NewBootstrapRunner(req.Host, req.Port, req.User, req.Password)
	if h.settings.BootstrapBranch != "" {
		r.Branch = h.settings.BootstrapBranch
	}
	r.HealthAttempts = h.settings.HealthAttempts
	return h.start(c, r, "bootstrap "+req.Host)
}

func (h *JobHandler) start(c *fiber.Ctx, r runner.Runner, desc string) error {
	// The job must outlive the request, so it does not run under the
	// request context.
	id, err := h.ctrl.Start(context.Background(), r)
	if err != nil {
		if errors.Is(err, job.ErrAlreadyRunning) {
			return c.Status(fiber.StatusConflict).JSON(errConflict(err.Error()))
		}
		return c.Status(fiber.StatusInternalServerError).JSON(errServer(err.Error()))
	}

	logger.Infof("Started job %s (%s)", id, desc)
	return c.Status(fiber.StatusAccepted).JSON(success(types.StartResponse{
		JobID:   id.String(),
		Status:  string(job.StatusRunning),
		Message: "job started",
	}))
}
