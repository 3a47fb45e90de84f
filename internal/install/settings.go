// Package install holds the installer's runtime settings and the in-memory
// configuration collected from the setup flow.
package install

import (
	"time"

	"github.com/edulution-io/installer/config"
)

// Settings are the process-level settings, read from EDULUTION_* environment
// variables.
type Settings struct {
	ListenAddr      string
	PlaybookDir     string
	PrivateDataDir  string
	EdulutionDir    string
	BootstrapBranch string
	HealthAttempts  int
	ShutdownDelay   time.Duration

	// ShutdownOnSuccess stops the installer once a job completes, so the
	// installed stack can take over the port.
	ShutdownOnSuccess bool
}

// LoadSettings reads the settings from the environment, applying defaults.
func LoadSettings() Settings {
	return Settings{
		ListenAddr:      config.GetEnv("EDULUTION_LISTEN_ADDR", ":8000"),
		PlaybookDir:     config.GetEnv("EDULUTION_PLAYBOOK_DIR", "/opt/edulution-installer/playbooks"),
		PrivateDataDir:  config.GetEnv("EDULUTION_PRIVATE_DATA_DIR", "/opt/edulution-installer/ansible"),
		EdulutionDir:    config.GetEnv("EDULUTION_DIRECTORY", "/srv/docker/edulution-ui"),
		BootstrapBranch: config.GetEnv("BOOTSTRAP_BRANCH", "main"),
		HealthAttempts:  config.GetEnvInt("EDULUTION_HEALTH_ATTEMPTS", 30),
		ShutdownDelay:   config.GetEnvDuration("EDULUTION_SHUTDOWN_DELAY", 5*time.Second),

		ShutdownOnSuccess: config.GetEnvBool("EDULUTION_SHUTDOWN_ON_SUCCESS", false),
	}
}
