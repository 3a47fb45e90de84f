package install

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
)

// Configuration is the installer configuration collected from the setup
// flow. It lives in memory only; a restart starts the flow over.
type Configuration struct {
	DeploymentTarget        string `json:"deploymentTarget"`
	LmnExternalDomain       string `json:"lmnExternalDomain"`
	LmnBinduserDN           string `json:"lmnBinduserDn"`
	LmnBinduserPW           string `json:"lmnBinduserPw"`
	LmnLdapSchema           string `json:"lmnLdapSchema"`
	LmnLdapPort             int    `json:"lmnLdapPort"`
	EdulutionExternalDomain string `json:"edulutionExternalDomain"`
	InitialAdminGroup       string `json:"initialAdminGroup,omitempty"`
	LetsEncryptUsed         bool   `json:"letsEncryptUsed,omitempty"`
	LetsEncryptEmail        string `json:"letsEncryptEmail,omitempty"`
	ProxyUsed               bool   `json:"proxyUsed,omitempty"`
}

// Complete reports whether everything the finish step needs has been set.
func (c Configuration) Complete() bool {
	return c.LmnExternalDomain != "" &&
		c.LmnBinduserDN != "" &&
		c.LmnBinduserPW != "" &&
		c.LmnLdapSchema != "" &&
		c.LmnLdapPort != 0 &&
		c.EdulutionExternalDomain != ""
}

// Store is the mutex-guarded holder of the current configuration. Handlers
// share one instance.
type Store struct {
	mu   sync.RWMutex
	conf Configuration
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Set replaces the stored configuration.
func (s *Store) Set(conf Configuration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conf = conf
}

// Get returns a copy of the stored configuration.
func (s *Store) Get() Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conf
}

// Update applies fn to the stored configuration under the lock.
func (s *Store) Update(fn func(*Configuration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.conf)
}

// TokenData is the payload of an Edulution setup token: a base64-encoded
// JSON document handed to the user by the management server.
type TokenData struct {
	ExternalDomain   string `json:"external_domain"`
	BinduserDN       string `json:"binduser_dn"`
	BinduserPassword string `json:"binduser_password"`
}

// ParseToken decodes and validates a setup token.
func ParseToken(token string) (TokenData, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return TokenData{}, fmt.Errorf("decode token: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal(raw, &data); err != nil {
		return TokenData{}, fmt.Errorf("parse token: %w", err)
	}
	if data.ExternalDomain == "" || data.BinduserDN == "" || data.BinduserPassword == "" {
		return TokenData{}, fmt.Errorf("token is missing required fields")
	}
	return data, nil
}
