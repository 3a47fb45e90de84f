// Package types contains the request and response bodies of the installer
// API, shared between the handlers and the API client.
package types

import (
	"fmt"

	"github.com/edulution-io/installer/internal/install"
)

// PlaybookStartRequest asks for a playbook job.
type PlaybookStartRequest struct {
	Playbook  string            `json:"playbook"`
	ExtraVars map[string]string `json:"extra_vars,omitempty"`
}

// Validate checks the request for obvious errors.
func (r *PlaybookStartRequest) Validate() error {
	if r.Playbook == "" {
		return fmt.Errorf("playbook is required")
	}
	return nil
}

// BootstrapRequest asks for an SSH bootstrap job.
type BootstrapRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password"`
}

// Validate checks the request and fills in the SSH defaults.
func (r *BootstrapRequest) Validate() error {
	if r.Host == "" {
		return fmt.Errorf("host is required")
	}
	if r.Password == "" {
		return fmt.Errorf("password is required")
	}
	if r.Port == 0 {
		r.Port = 22
	}
	if r.User == "" {
		r.User = "root"
	}
	return nil
}

// StartResponse confirms an accepted job.
type StartResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TokenRequest carries a setup token for validation.
type TokenRequest struct {
	Token string `json:"token"`
}

// ConfigureRequest carries the setup-flow configuration.
type ConfigureRequest struct {
	DeploymentTarget        string `json:"deploymentTarget"`
	LmnExternalDomain       string `json:"lmnExternalDomain"`
	LmnBinduserDN           string `json:"lmnBinduserDn"`
	LmnBinduserPW           string `json:"lmnBinduserPw"`
	LmnLdapSchema           string `json:"lmnLdapSchema"`
	LmnLdapPort             int    `json:"lmnLdapPort"`
	EdulutionExternalDomain string `json:"edulutionExternalDomain"`
}

// Validate checks the configuration for obvious errors.
func (r *ConfigureRequest) Validate() error {
	if r.LmnExternalDomain == "" {
		return fmt.Errorf("lmnExternalDomain is required")
	}
	if r.LmnBinduserDN == "" {
		return fmt.Errorf("lmnBinduserDn is required")
	}
	if r.LmnBinduserPW == "" {
		return fmt.Errorf("lmnBinduserPw is required")
	}
	switch r.LmnLdapSchema {
	case "ldap", "ldaps":
	default:
		return fmt.Errorf("lmnLdapSchema must be ldap or ldaps")
	}
	if r.LmnLdapPort <= 0 || r.LmnLdapPort > 65535 {
		return fmt.Errorf("lmnLdapPort must be a valid port")
	}
	if r.EdulutionExternalDomain == "" {
		return fmt.Errorf("edulutionExternalDomain is required")
	}
	return nil
}

// Configuration converts the request into the stored configuration.
func (r *ConfigureRequest) Configuration() install.Configuration {
	return install.Configuration{
		DeploymentTarget:        r.DeploymentTarget,
		LmnExternalDomain:       r.LmnExternalDomain,
		LmnBinduserDN:           r.LmnBinduserDN,
		LmnBinduserPW:           r.LmnBinduserPW,
		LmnLdapSchema:           r.LmnLdapSchema,
		LmnLdapPort:             r.LmnLdapPort,
		EdulutionExternalDomain: r.EdulutionExternalDomain,
	}
}

// AdminGroupRequest sets the initial admin group.
type AdminGroupRequest struct {
	AdminGroup string `json:"admin_group"`
}

// LetsEncryptRequest enables certificate issuance on first proxy start.
type LetsEncryptRequest struct {
	Email string `json:"email"`
}
