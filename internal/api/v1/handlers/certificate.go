package handlers

import (
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"github.com/edulution-io/installer/internal/certs"
	"github.com/edulution-io/installer/internal/install"
	"github.com/edulution-io/installer/internal/logger"
	"github.com/edulution-io/installer/internal/types"
)

// CertificateHandler handles TLS certificate setup for the reverse proxy
type CertificateHandler struct {
	store    *install.Store
	settings install.Settings
}

// NewCertificateHandler creates a new certificate handler instance
func NewCertificateHandler(store *install.Store, settings install.Settings) *CertificateHandler {
	return &CertificateHandler{
		store:    store,
		settings: settings,
	}
}

func (h *CertificateHandler) sslDir() string {
	return filepath.Join(h.settings.EdulutionDir, "data", "traefik", "ssl")
}

// CreateSelfSigned generates a self-signed certificate for the configured
// external domain and drops it where traefik expects it.
func (h *CertificateHandler) CreateSelfSigned(c *fiber.Ctx) error {
	var req certs.Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}
	if req.CommonName == "" {
		req.CommonName = h.store.Get().EdulutionExternalDomain
	}
	if req.CommonName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput("no common name given and no external domain configured"))
	}

	dir := h.sslDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errServer(err.Error()))
	}
	keyPath := filepath.Join(dir, "cert.key")
	certPath := filepath.Join(dir, "cert.cert")
	if err := certs.GenerateSelfSigned(req, keyPath, certPath); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errServer(err.Error()))
	}

	logger.Infof("Generated self-signed certificate for %s", req.CommonName)
	return c.JSON(success("certificate created"))
}

// CreateLetsEncrypt marks the installation for Let's Encrypt issuance. The
// actual certificate is requested by traefik on first start.
func (h *CertificateHandler) CreateLetsEncrypt(c *fiber.Ctx) error {
	var req types.LetsEncryptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput(err.Error()))
	}
	if req.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput("email is required"))
	}

	h.store.Update(func(conf *install.Configuration) {
		conf.LetsEncryptUsed = true
		conf.LetsEncryptEmail = req.Email
	})
	return c.JSON(success("lets encrypt enabled"))
}

// UploadCertificate accepts a PEM certificate and key as multipart form
// files and stores them for traefik.
func (h *CertificateHandler) UploadCertificate(c *fiber.Ctx) error {
	certFile, err := c.FormFile("cert")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput("cert file is required"))
	}
	keyFile, err := c.FormFile("key")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errInvalidInput("key file is required"))
	}

	dir := h.sslDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errServer(err.Error()))
	}
	if err := c.SaveFile(certFile, filepath.Join(dir, "cert.cert")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errServer(err.Error()))
	}
	if err := c.SaveFile(keyFile, filepath.Join(dir, "cert.key")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(errServer(err.Error()))
	}

	logger.Info("Stored uploaded certificate")
	return c.JSON(success("certificate stored"))
}
