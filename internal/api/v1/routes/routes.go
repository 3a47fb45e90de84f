package v1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/edulution-io/installer/internal/api/v1/handlers"
)

// DefaultPort is the port the installer listens on by default
const DefaultPort = "8000"

// DefaultBaseURL is the default base URL of the installer API
const DefaultBaseURL = "http://localhost:" + DefaultPort

// URL helpers used by the API client

func HealthCheckURL() string { return "/api/v1/health" }

func StatusURL() string { return "/api/v1/status" }

func StreamURL() string { return "/api/v1/stream" }

func PlaybookStartURL() string { return "/api/v1/playbook/start" }

func BootstrapURL() string { return "/api/v1/bootstrap" }

func CheckTokenURL() string { return "/api/v1/check-token" }

func ConfigureURL() string { return "/api/v1/configure" }

func RequirementsURL(playbook string) string { return "/api/v1/requirements/" + playbook }

func FinishURL() string { return "/api/v1/finish" }

func ShutdownURL() string { return "/api/v1/shutdown" }

// Handlers bundles the handler instances the routes dispatch to.
type Handlers struct {
	Job         *handlers.JobHandler
	Checks      *handlers.ChecksHandler
	Certificate *handlers.CertificateHandler
	Finish      *handlers.FinishHandler
}

// SetupRoutes configures all the v1 routes
func SetupRoutes(router fiber.Router, h Handlers) {
	router.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Job execution and streaming
	router.Get("/status", h.Job.GetStatus)
	router.Get("/stream", h.Job.Stream)
	router.Post("/playbook/start", h.Job.StartPlaybook)
	router.Post("/bootstrap", h.Job.Bootstrap)

	// Setup flow
	router.Post("/check-token", h.Checks.CheckToken)
	router.Post("/configure", h.Checks.Configure)
	router.Post("/set-admin-group", h.Checks.SetAdminGroup)
	router.Get("/proxy-check", h.Checks.ProxyCheck)
	router.Get("/check-api-status", h.Checks.CheckAPI)
	router.Get("/check-webdav-status", h.Checks.CheckWebDAV)
	router.Get("/check-ldap-status", h.Checks.CheckLDAP)
	router.Get("/check-ldap-access-status", h.Checks.CheckLDAPAccess)
	router.Get("/requirements/:playbook", h.Checks.Requirements)

	// Certificates
	router.Post("/certificate/self-signed", h.Certificate.CreateSelfSigned)
	router.Post("/certificate/lets-encrypt", h.Certificate.CreateLetsEncrypt)
	router.Post("/certificate/upload", h.Certificate.UploadCertificate)

	// Finalization
	router.Post("/finish", h.Finish.Finish)
	router.Post("/shutdown", h.Finish.Shutdown)
}

// Register registers the v1 routes and the websocket endpoint
func Register(app *fiber.App, h Handlers) {
	// API v1 routes
	v1Group := app.Group("/api/v1")
	SetupRoutes(v1Group, h)

	// Websocket push stream
	app.Use("/ws", handlers.WebsocketUpgrade)
	app.Get("/ws/output", h.Job.StreamWS())
}
