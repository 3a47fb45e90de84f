// Package envfile renders the environment file and the reverse-proxy
// configuration the installed stack boots from.
package envfile

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/edulution-io/installer/internal/install"
	"github.com/edulution-io/installer/internal/logger"
)

const (
	secretCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenCharset  = "abcdefghijklmnopqrstuvwxyz"
)

var rootDNPattern = regexp.MustCompile(`(DC=.*$)`)

// Secret returns a random alphanumeric string of the given length.
func Secret(length int) (string, error) {
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(secretCharset))))
		if err != nil {
			return "", fmt.Errorf("generate secret: %w", err)
		}
		out[i] = secretCharset[n.Int64()]
	}
	return string(out), nil
}

// MailcowToken returns an API token in the shape mailcow expects: five
// dash-separated groups of five lowercase letters.
func MailcowToken() (string, error) {
	groups := make([]string, 5)
	for i := range groups {
		g := make([]byte, 5)
		for j := range g {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(tokenCharset))))
			if err != nil {
				return "", fmt.Errorf("generate token: %w", err)
			}
			g[j] = tokenCharset[n.Int64()]
		}
		groups[i] = string(g)
	}
	return strings.Join(groups, "-"), nil
}

// Renderer writes the generated configuration below the edulution directory.
type Renderer struct {
	Dir string
}

// NewRenderer returns a renderer rooted at dir.
func NewRenderer(dir string) *Renderer {
	return &Renderer{Dir: dir}
}

// Render produces edulution.env, the patched Keycloak realm file and the
// traefik configuration from the stored installer configuration. Secrets are
// freshly generated on every call.
func (r *Renderer) Render(conf install.Configuration) error {
	if !conf.Complete() {
		return fmt.Errorf("configuration is incomplete")
	}

	rootDN := rootDNPattern.FindString(conf.LmnBinduserDN)
	if rootDN == "" {
		return fmt.Errorf("bind user DN %q has no DC components", conf.LmnBinduserDN)
	}

	secrets := make(map[string]string)
	for _, name := range []string{
		"mongodb", "postgres", "keycloakAdmin", "eduUI", "eduAPI",
		"eduMailcowSync", "guacMySQLRoot", "guacMySQL", "guacAdmin",
		"onlyofficeJWT", "onlyofficePostgres", "encryption",
	} {
		secret, err := Secret(32)
		if err != nil {
			return err
		}
		secrets[name] = secret
	}
	mailcowToken, err := MailcowToken()
	if err != nil {
		return err
	}

	if err := r.patchRealm(conf, rootDN, secrets); err != nil {
		return err
	}
	if err := r.writeEnv(conf, secrets, mailcowToken); err != nil {
		return err
	}
	if err := r.writeTraefik(conf); err != nil {
		return err
	}
	if err := r.writeCertConfig(conf); err != nil {
		return err
	}

	logger.InfoWithFields("Environment rendered", map[string]interface{}{
		"dir":          r.Dir,
		"domain":       conf.EdulutionExternalDomain,
		"lets_encrypt": conf.LetsEncryptUsed,
	})
	return nil
}

// patchRealm rewrites the Keycloak realm export in place: fresh client
// secrets, the installation's redirect URLs and the school server's LDAP
// federation settings. A missing realm file is skipped so the finish step
// works on hosts provisioned without Keycloak.
func (r *Renderer) patchRealm(conf install.Configuration, rootDN string, secrets map[string]string) error {
	path := filepath.Join(r.Dir, "realm-edulution.json")
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debugf("No realm file at %s, skipping realm patch", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var realm map[string]interface{}
	if err := json.Unmarshal(raw, &realm); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	base := "https://" + conf.EdulutionExternalDomain

	if clients, ok := realm["clients"].([]interface{}); ok {
		for _, entry := range clients {
			client, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			switch client["clientId"] {
			case "edu-api":
				client["secret"] = secrets["eduAPI"]
			case "edu-ui":
				client["secret"] = secrets["eduUI"]
				client["rootUrl"] = base + "/"
				client["adminUrl"] = base + "/"
				client["redirectUris"] = []string{base + "/*"}
			case "edu-mailcow-sync":
				client["secret"] = secrets["eduMailcowSync"]
			}
		}
	}

	if components, ok := realm["components"].(map[string]interface{}); ok {
		if providers, ok := components["org.keycloak.storage.UserStorageProvider"].([]interface{}); ok {
			for _, entry := range providers {
				comp, ok := entry.(map[string]interface{})
				if !ok || comp["name"] != "ldap" {
					continue
				}
				patchLDAPMappers(comp, rootDN)
				if cfg, ok := comp["config"].(map[string]interface{}); ok {
					cfg["usersDn"] = []string{rootDN}
					cfg["bindDn"] = []string{conf.LmnBinduserDN}
					cfg["bindCredential"] = []string{conf.LmnBinduserPW}
					cfg["connectionUrl"] = []string{fmt.Sprintf("%s://%s:%d",
						conf.LmnLdapSchema, conf.LmnExternalDomain, conf.LmnLdapPort)}
				}
			}
		}
	}

	if attrs, ok := realm["attributes"].(map[string]interface{}); ok {
		attrs["frontendUrl"] = base + "/auth"
	}

	out, err := json.Marshal(realm)
	if err != nil {
		return fmt.Errorf("encode realm: %w", err)
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func patchLDAPMappers(comp map[string]interface{}, rootDN string) {
	sub, ok := comp["subComponents"].(map[string]interface{})
	if !ok {
		return
	}
	mappers, ok := sub["org.keycloak.storage.ldap.mappers.LDAPStorageMapper"].([]interface{})
	if !ok {
		return
	}
	for _, entry := range mappers {
		mapper, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		cfg, ok := mapper["config"].(map[string]interface{})
		if !ok {
			continue
		}
		switch mapper["name"] {
		case "global-groups":
			cfg["groups.dn"] = []string{"OU=Groups,OU=Global," + rootDN}
		case "school-groups":
			cfg["groups.dn"] = []string{"OU=SCHOOLS," + rootDN}
		}
	}
}

func (r *Renderer) writeEnv(conf install.Configuration, secrets map[string]string, mailcowToken string) error {
	content := fmt.Sprintf(`EDULUTION_BASE_DOMAIN=%s

# edulution-api

EDUI_DEPLOYMENT_TARGET=%s

EDUI_ENCRYPTION_KEY=%s
EDUI_WEBDAV_URL=https://%s/webdav/

MONGODB_USERNAME=root
MONGODB_PASSWORD=%s
MONGODB_SERVER_URL=mongodb://root:%s@edu-db:27017/

KEYCLOAK_EDU_UI_SECRET=%s
KEYCLOAK_EDU_API_CLIENT_SECRET=%s

LMN_API_BASE_URL=https://%s:8001/v1/

LDAP_EDULUTION_BINDUSER_DN="%s"
LDAP_EDULUTION_BINDUSER_PASSWORD="%s"

EDUI_INITIAL_ADMIN_GROUP="%s"

# edulution-db

MONGO_INITDB_ROOT_USERNAME=root
MONGO_INITDB_ROOT_PASSWORD=%s

# edulution-keycloak

KC_DB_USERNAME=keycloak
KC_DB_PASSWORD=%s

KEYCLOAK_ADMIN=admin
KEYCLOAK_ADMIN_PASSWORD=%s

# edulution-keycloak-db

POSTGRES_USER=keycloak
POSTGRES_PASSWORD=%s

# edulution-mail

KEYCLOAK_EDU_MAILCOW_SYNC_SECRET=%s
MAILCOW_API_TOKEN=%s
MAILCOW_API_URL=https://edu-traefik/sogo-mail

# edulution-guacamole

EDULUTION_GUACAMOLE_MYSQL_ROOT_PASSWORD=%s
EDULUTION_GUACAMOLE_MYSQL_PASSWORD=%s
EDULUTION_GUACAMOLE_ADMIN_USER=admin
EDULUTION_GUACAMOLE_ADMIN_PASSWORD=%s

# edulution-onlyoffice

EDULUTION_ONLYOFFICE_JWT_SECRET=%s
EDULUTION_ONLYOFFICE_POSTGRES_PASSWORD=%s
`,
		conf.EdulutionExternalDomain,
		conf.DeploymentTarget,
		secrets["encryption"],
		conf.LmnExternalDomain,
		secrets["mongodb"],
		secrets["mongodb"],
		secrets["eduUI"],
		secrets["eduAPI"],
		conf.LmnExternalDomain,
		conf.LmnBinduserDN,
		conf.LmnBinduserPW,
		conf.InitialAdminGroup,
		secrets["mongodb"],
		secrets["postgres"],
		secrets["keycloakAdmin"],
		secrets["postgres"],
		secrets["eduMailcowSync"],
		mailcowToken,
		secrets["guacMySQLRoot"],
		secrets["guacMySQL"],
		secrets["guacAdmin"],
		secrets["onlyofficeJWT"],
		secrets["onlyofficePostgres"],
	)

	if conf.LetsEncryptUsed && conf.LetsEncryptEmail != "" {
		content += fmt.Sprintf("\n# Let's Encrypt\n\nLE_EMAIL=%s\n", conf.LetsEncryptEmail)
	}

	if err := os.MkdirAll(r.Dir, 0750); err != nil {
		return fmt.Errorf("create %s: %w", r.Dir, err)
	}
	path := filepath.Join(r.Dir, "edulution.env")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (r *Renderer) writeTraefik(conf install.Configuration) error {
	configDir := filepath.Join(r.Dir, "data", "traefik", "config")
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("create %s: %w", configDir, err)
	}

	lmnAPI := fmt.Sprintf(`http:
  routers:
    linuxmuster-api:
      rule: "PathPrefix(`+"`/api`"+`)"
      service: linuxmuster-api
      entryPoints:
        - websecure
      tls: {}
      middlewares:
        - strip-api-prefix

  middlewares:
    strip-api-prefix:
      stripPrefix:
        prefixes:
          - "/api"

  services:
    linuxmuster-api:
      loadBalancer:
        servers:
          - url: "https://%s:8001"
`, conf.LmnExternalDomain)

	webdav := fmt.Sprintf(`http:
  routers:
    webdav:
      rule: "PathPrefix(`+"`/webdav`"+`)"
      service: webdav
      entryPoints:
        - websecure
      tls: {}

  services:
    webdav:
      loadBalancer:
        servers:
          - url: "https://%s/webdav"
`, conf.LmnExternalDomain)

	files := map[string]string{
		"lmn-api.yml": lmnAPI,
		"webdav.yml":  webdav,
	}
	for name, content := range files {
		path := filepath.Join(configDir, name)
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// writeCertConfig renders the TLS side of the proxy. Behind an external
// reverse proxy traefik terminates nothing, so neither branch applies there.
// Without a proxy, Let's Encrypt gets the ACME resolver configuration and
// an uploaded or self-signed certificate gets the static default store.
func (r *Renderer) writeCertConfig(conf install.Configuration) error {
	configDir := filepath.Join(r.Dir, "data", "traefik", "config")

	if !conf.ProxyUsed && conf.LetsEncryptUsed {
		if err := r.writeLetsEncrypt(conf, configDir); err != nil {
			return err
		}
		return r.patchCompose()
	}

	certFile := filepath.Join(r.Dir, "data", "traefik", "ssl", "cert.cert")
	keyFile := filepath.Join(r.Dir, "data", "traefik", "ssl", "cert.key")
	if fileExists(certFile) && fileExists(keyFile) {
		certYML := `tls:
  stores:
    default:
      defaultCertificate:
        certFile: "/etc/traefik/ssl/cert.cert"
        keyFile: "/etc/traefik/ssl/cert.key"
`
		path := filepath.Join(configDir, "cert.yml")
		if err := os.WriteFile(path, []byte(certYML), 0600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

func (r *Renderer) writeLetsEncrypt(conf install.Configuration, configDir string) error {
	static := fmt.Sprintf(`entryPoints:
  web:
    address: ":80"
  websecure:
    address: ":443"
    http:
      tls: {}
  imap:
    address: ":143"

providers:
  file:
    directory: "/etc/traefik/dynamic/"
    watch: true

log:
  level: ERROR

serversTransport:
  insecureSkipVerify: true

ping: {}

certificatesResolvers:
  letsencrypt:
    acme:
      email: %s
      storage: /letsencrypt/acme.json
      httpChallenge:
        entryPoint: web
`, conf.LetsEncryptEmail)

	staticPath := filepath.Join(r.Dir, "traefik.yml")
	if err := os.WriteFile(staticPath, []byte(static), 0600); err != nil {
		return fmt.Errorf("write %s: %w", staticPath, err)
	}

	dynamic := fmt.Sprintf(`http:
  routers:
    edulution-api:
      rule: "PathPrefix(`+"`/edu-api`"+`)"
      service: edulution-api
      entryPoints:
        - websecure
      tls:
        certResolver: letsencrypt
        domains:
          - main: "%[1]s"
    edulution-keycloak:
      rule: "PathPrefix(`+"`/auth`"+`)"
      service: edulution-keycloak
      entryPoints:
        - websecure
      tls:
        certResolver: letsencrypt
        domains:
          - main: "%[1]s"
    edulution-ui:
      rule: "PathPrefix(`+"`/`"+`)"
      service: edulution-ui
      entryPoints:
        - websecure
      tls:
        certResolver: letsencrypt
        domains:
          - main: "%[1]s"

  services:
    edulution-api:
      loadBalancer:
        servers:
          - url: "http://edu-api:3000"
    edulution-ui:
      loadBalancer:
        servers:
          - url: "http://edu-ui:80"
    edulution-keycloak:
      loadBalancer:
        servers:
          - url: "http://edu-keycloak:8080"
`, conf.EdulutionExternalDomain)

	dynamicPath := filepath.Join(configDir, "edulution-default.yml")
	if err := os.WriteFile(dynamicPath, []byte(dynamic), 0600); err != nil {
		return fmt.Errorf("write %s: %w", dynamicPath, err)
	}

	leDir := filepath.Join(r.Dir, "data", "letsencrypt")
	if err := os.MkdirAll(leDir, 0750); err != nil {
		return fmt.Errorf("create %s: %w", leDir, err)
	}
	acmePath := filepath.Join(leDir, "acme.json")
	// traefik refuses the ACME store unless it is 0600.
	if err := os.WriteFile(acmePath, []byte("{}"), 0600); err != nil {
		return fmt.Errorf("write %s: %w", acmePath, err)
	}
	return nil
}

const (
	composeSSLVolume = "      - ./data/traefik/ssl:/etc/traefik/ssl\n    healthcheck:"
	composeLEVolume  = "      - ./data/traefik/ssl:/etc/traefik/ssl\n      - ./data/letsencrypt:/letsencrypt\n    healthcheck:"
)

// patchCompose mounts the ACME store into the traefik container. A compose
// file that is absent or already patched is left alone.
func (r *Renderer) patchCompose() error {
	path := filepath.Join(r.Dir, "docker-compose.yml")
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debugf("No compose file at %s, skipping volume patch", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	content := string(raw)
	if strings.Contains(content, composeLEVolume) {
		return nil
	}
	content = strings.Replace(content, composeSSLVolume, composeLEVolume, 1)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
