package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/edulution-io/installer/internal/checks"
	"github.com/edulution-io/installer/internal/install"
	"github.com/edulution-io/installer/internal/logger"
	"github.com/edulution-io/installer/internal/types"
)

// ChecksHandler handles setup-flow configuration and pre-install probes
type ChecksHandler struct {
	store  *install.Store
	remote *checks.Remote
	system *checks.SystemChecker
}

// NewChecksHandler creates a new checks handler instance
func NewChecksHandler(store *install.Store, remote *checks.Remote, system *checks.SystemChecker) *ChecksHandler {
	return &ChecksHandler{
		store:  store,
		remote: remote,
		system: system,
	}
}

// CheckToken validates a setup token and, when valid, seeds the
// configuration with the connection details it carries.
func (h *ChecksHandler) CheckToken(c *fiber.Ctx) error {
	var req types.TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}

	data, err := install.ParseToken(req.Token)
	if err != nil {
		logger.Debugf("Setup token rejected: %v", err)
		return c.JSON(success(fiber.Map{"valid": false}))
	}

	h.store.Update(func(conf *install.Configuration) {
		conf.LmnExternalDomain = data.ExternalDomain
		conf.LmnBinduserDN = data.BinduserDN
		conf.LmnBinduserPW = data.BinduserPassword
	})
	return c.JSON(success(fiber.Map{"valid": true}))
}

// Configure stores the setup-flow configuration
func (h *ChecksHandler) Configure(c *fiber.Ctx) error {
	var req types.ConfigureRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}

	// Fields seeded by the setup token survive reconfiguration.
	next := req.Configuration()
	h.store.Update(func(conf *install.Configuration) {
		prev := *conf
		*conf = next
		conf.InitialAdminGroup = prev.InitialAdminGroup
		conf.LetsEncryptUsed = prev.LetsEncryptUsed
		conf.LetsEncryptEmail = prev.LetsEncryptEmail
		conf.ProxyUsed = prev.ProxyUsed
	})

	logger.Infof("Configuration updated for domain %s", next.EdulutionExternalDomain)
	return c.JSON(success("configuration saved"))
}

// SetAdminGroup stores the initial admin group
func (h *ChecksHandler) SetAdminGroup(c *fiber.Ctx) error {
	var req types.AdminGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}
	if req.AdminGroup == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput("admin_group is required"))
	}

	h.store.Update(func(conf *install.Configuration) {
		conf.InitialAdminGroup = req.AdminGroup
	})
	return c.JSON(success("admin group saved"))
}

// ProxyCheck reports whether the request arrived through a reverse proxy
// and records the result; the finish step skips the ACME setup behind a
// proxy because TLS terminates there.
func (h *ChecksHandler) ProxyCheck(c *fiber.Ctx) error {
	detected := c.Get(fiber.HeaderXForwardedFor) != ""
	h.store.Update(func(conf *install.Configuration) {
		conf.ProxyUsed = detected
	})
	return c.JSON(success(fiber.Map{"proxyDetected": detected}))
}

// CheckAPI probes the Linuxmuster API
func (h *ChecksHandler) CheckAPI(c *fiber.Ctx) error {
	if err := h.requireDomain(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}
	return c.JSON(success(h.remote.CheckAPI(c.Context())))
}

// CheckWebDAV probes the WebDAV server
func (h *ChecksHandler) CheckWebDAV(c *fiber.Ctx) error {
	if err := h.requireDomain(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}
	return c.JSON(success(h.remote.CheckWebDAV(c.Context())))
}

// CheckLDAP probes LDAP reachability
func (h *ChecksHandler) CheckLDAP(c *fiber.Ctx) error {
	if err := h.requireDomain(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}
	return c.JSON(success(h.remote.CheckLDAP(c.Context())))
}

// CheckLDAPAccess verifies the binduser credentials against LDAP
func (h *ChecksHandler) CheckLDAPAccess(c *fiber.Ctx) error {
	if err := h.requireDomain(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}
	return c.JSON(success(h.remote.CheckLDAPAccess(c.Context())))
}

// Requirements evaluates the host against a playbook's requirement manifest
func (h *ChecksHandler) Requirements(c *fiber.Ctx) error {
	playbook := c.Params("playbook")
	result, err := h.system.Check(playbook)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}
	return c.JSON(success(result))
}

func (h *ChecksHandler) requireDomain() error {
	if h.store.Get().LmnExternalDomain == "" {
		return fmt.Errorf("no external domain configured")
	}
	return nil
}
