package envfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulution-io/installer/internal/install"
)

func testConfiguration() install.Configuration {
	return install.Configuration{
		DeploymentTarget:        "docker",
		LmnExternalDomain:       "school.example.org",
		LmnBinduserDN:           "CN=global-binduser,OU=Management,OU=GLOBAL,DC=linuxmuster,DC=lan",
		LmnBinduserPW:           "hunter2",
		LmnLdapSchema:           "ldaps",
		LmnLdapPort:             636,
		EdulutionExternalDomain: "edu.example.org",
		InitialAdminGroup:       "teachers",
	}
}

func TestSecret(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		s, err := Secret(32)
		require.NoError(t, err)
		assert.Len(t, s, 32)
		for _, r := range s {
			assert.Contains(t, secretCharset, string(r))
		}
		assert.False(t, seen[s], "secrets must not repeat")
		seen[s] = true
	}
}

func TestMailcowToken(t *testing.T) {
	token, err := MailcowToken()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[a-z]{5}(-[a-z]{5}){4}$`), token)
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer(dir)
	require.NoError(t, r.Render(testConfiguration()))

	env, err := os.ReadFile(filepath.Join(dir, "edulution.env"))
	require.NoError(t, err)
	content := string(env)

	assert.Contains(t, content, "EDULUTION_BASE_DOMAIN=edu.example.org")
	assert.Contains(t, content, "EDUI_DEPLOYMENT_TARGET=docker")
	assert.Contains(t, content, "EDUI_WEBDAV_URL=https://school.example.org/webdav/")
	assert.Contains(t, content, `LDAP_EDULUTION_BINDUSER_DN="CN=global-binduser,OU=Management,OU=GLOBAL,DC=linuxmuster,DC=lan"`)
	assert.Contains(t, content, `LDAP_EDULUTION_BINDUSER_PASSWORD="hunter2"`)
	assert.Contains(t, content, `EDUI_INITIAL_ADMIN_GROUP="teachers"`)
	assert.Contains(t, content, "LMN_API_BASE_URL=https://school.example.org:8001/v1/")
	assert.Contains(t, content, "MAILCOW_API_URL=https://edu-traefik/sogo-mail")
	assert.Contains(t, content, "EDULUTION_GUACAMOLE_ADMIN_USER=admin")
	assert.NotContains(t, content, "LE_EMAIL", "no Let's Encrypt section unless enabled")

	// Generated secrets are actually filled in.
	for _, key := range []string{
		"EDUI_ENCRYPTION_KEY=",
		"MONGODB_PASSWORD=",
		"POSTGRES_PASSWORD=",
		"KEYCLOAK_ADMIN_PASSWORD=",
		"KEYCLOAK_EDU_MAILCOW_SYNC_SECRET=",
		"EDULUTION_GUACAMOLE_MYSQL_ROOT_PASSWORD=",
		"EDULUTION_GUACAMOLE_MYSQL_PASSWORD=",
		"EDULUTION_GUACAMOLE_ADMIN_PASSWORD=",
		"EDULUTION_ONLYOFFICE_JWT_SECRET=",
		"EDULUTION_ONLYOFFICE_POSTGRES_PASSWORD=",
	} {
		for _, line := range strings.Split(content, "\n") {
			if strings.HasPrefix(line, key) {
				assert.Len(t, strings.TrimPrefix(line, key), 32, "%s must carry a generated secret", key)
			}
		}
	}

	tokenLine := ""
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "MAILCOW_API_TOKEN=") {
			tokenLine = strings.TrimPrefix(line, "MAILCOW_API_TOKEN=")
		}
	}
	assert.Regexp(t, regexp.MustCompile(`^[a-z]{5}(-[a-z]{5}){4}$`), tokenLine)

	// Traefik dynamic configuration points at the school server.
	lmnAPI, err := os.ReadFile(filepath.Join(dir, "data", "traefik", "config", "lmn-api.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(lmnAPI), `url: "https://school.example.org:8001"`)

	webdav, err := os.ReadFile(filepath.Join(dir, "data", "traefik", "config", "webdav.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(webdav), `url: "https://school.example.org/webdav"`)

	// Neither certificate branch applies: no certificate uploaded, no ACME.
	assert.NoFileExists(t, filepath.Join(dir, "traefik.yml"))
	assert.NoFileExists(t, filepath.Join(dir, "data", "traefik", "config", "cert.yml"))
}

func TestRenderLetsEncrypt(t *testing.T) {
	dir := t.TempDir()
	conf := testConfiguration()
	conf.LetsEncryptUsed = true
	conf.LetsEncryptEmail = "admin@example.org"

	require.NoError(t, NewRenderer(dir).Render(conf))

	env, err := os.ReadFile(filepath.Join(dir, "edulution.env"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "LE_EMAIL=admin@example.org")

	static, err := os.ReadFile(filepath.Join(dir, "traefik.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(static), "email: admin@example.org")
	assert.Contains(t, string(static), "storage: /letsencrypt/acme.json")

	dynamic, err := os.ReadFile(filepath.Join(dir, "data", "traefik", "config", "edulution-default.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(dynamic), "certResolver: letsencrypt")
	assert.Contains(t, string(dynamic), `main: "edu.example.org"`)

	acmePath := filepath.Join(dir, "data", "letsencrypt", "acme.json")
	acme, err := os.ReadFile(acmePath)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(acme))
	info, err := os.Stat(acmePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestRenderLetsEncryptBehindProxy(t *testing.T) {
	dir := t.TempDir()
	conf := testConfiguration()
	conf.LetsEncryptUsed = true
	conf.LetsEncryptEmail = "admin@example.org"
	conf.ProxyUsed = true

	require.NoError(t, NewRenderer(dir).Render(conf))

	// An external proxy terminates TLS, so no ACME resolver is set up.
	assert.NoFileExists(t, filepath.Join(dir, "traefik.yml"))
	assert.NoFileExists(t, filepath.Join(dir, "data", "letsencrypt", "acme.json"))
}

func TestRenderUploadedCertificate(t *testing.T) {
	dir := t.TempDir()
	sslDir := filepath.Join(dir, "data", "traefik", "ssl")
	require.NoError(t, os.MkdirAll(sslDir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(sslDir, "cert.cert"), []byte("cert"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(sslDir, "cert.key"), []byte("key"), 0600))

	require.NoError(t, NewRenderer(dir).Render(testConfiguration()))

	certYML, err := os.ReadFile(filepath.Join(dir, "data", "traefik", "config", "cert.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(certYML), `certFile: "/etc/traefik/ssl/cert.cert"`)
	assert.Contains(t, string(certYML), `keyFile: "/etc/traefik/ssl/cert.key"`)
}

func TestRenderPatchesRealm(t *testing.T) {
	dir := t.TempDir()
	realm := map[string]interface{}{
		"clients": []interface{}{
			map[string]interface{}{"clientId": "edu-api", "secret": "placeholder"},
			map[string]interface{}{"clientId": "edu-ui", "secret": "placeholder"},
			map[string]interface{}{"clientId": "edu-mailcow-sync", "secret": "placeholder"},
		},
		"components": map[string]interface{}{
			"org.keycloak.storage.UserStorageProvider": []interface{}{
				map[string]interface{}{
					"name":   "ldap",
					"config": map[string]interface{}{},
					"subComponents": map[string]interface{}{
						"org.keycloak.storage.ldap.mappers.LDAPStorageMapper": []interface{}{
							map[string]interface{}{"name": "global-groups", "config": map[string]interface{}{}},
							map[string]interface{}{"name": "school-groups", "config": map[string]interface{}{}},
						},
					},
				},
			},
		},
		"attributes": map[string]interface{}{},
	}
	raw, err := json.Marshal(realm)
	require.NoError(t, err)
	path := filepath.Join(dir, "realm-edulution.json")
	require.NoError(t, os.WriteFile(path, raw, 0600))

	require.NoError(t, NewRenderer(dir).Render(testConfiguration()))

	patched, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(patched, &got))

	clients := got["clients"].([]interface{})
	for _, entry := range clients {
		client := entry.(map[string]interface{})
		assert.NotEqual(t, "placeholder", client["secret"], "client %v keeps its placeholder secret", client["clientId"])
		if client["clientId"] == "edu-ui" {
			assert.Equal(t, "https://edu.example.org/", client["rootUrl"])
			assert.Equal(t, []interface{}{"https://edu.example.org/*"}, client["redirectUris"])
		}
	}

	ldap := got["components"].(map[string]interface{})["org.keycloak.storage.UserStorageProvider"].([]interface{})[0].(map[string]interface{})
	cfg := ldap["config"].(map[string]interface{})
	assert.Equal(t, []interface{}{"DC=linuxmuster,DC=lan"}, cfg["usersDn"])
	assert.Equal(t, []interface{}{"CN=global-binduser,OU=Management,OU=GLOBAL,DC=linuxmuster,DC=lan"}, cfg["bindDn"])
	assert.Equal(t, []interface{}{"ldaps://school.example.org:636"}, cfg["connectionUrl"])

	mappers := ldap["subComponents"].(map[string]interface{})["org.keycloak.storage.ldap.mappers.LDAPStorageMapper"].([]interface{})
	for _, entry := range mappers {
		mapper := entry.(map[string]interface{})
		mcfg := mapper["config"].(map[string]interface{})
		switch mapper["name"] {
		case "global-groups":
			assert.Equal(t, []interface{}{"OU=Groups,OU=Global,DC=linuxmuster,DC=lan"}, mcfg["groups.dn"])
		case "school-groups":
			assert.Equal(t, []interface{}{"OU=SCHOOLS,DC=linuxmuster,DC=lan"}, mcfg["groups.dn"])
		}
	}

	assert.Equal(t, "https://edu.example.org/auth", got["attributes"].(map[string]interface{})["frontendUrl"])
}

func TestRenderPatchesCompose(t *testing.T) {
	dir := t.TempDir()
	compose := "services:\n  edu-traefik:\n    volumes:\n" + composeSSLVolume + "\n      test: ping\n"
	path := filepath.Join(dir, "docker-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(compose), 0644))

	conf := testConfiguration()
	conf.LetsEncryptUsed = true
	conf.LetsEncryptEmail = "admin@example.org"
	r := NewRenderer(dir)

	require.NoError(t, r.Render(conf))
	patched, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(patched), "- ./data/letsencrypt:/letsencrypt")

	// Rendering twice must not duplicate the volume.
	require.NoError(t, r.Render(conf))
	again, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(patched), string(again))
}

func TestRenderSecretsAreFresh(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer(dir)
	conf := testConfiguration()

	require.NoError(t, r.Render(conf))
	first, err := os.ReadFile(filepath.Join(dir, "edulution.env"))
	require.NoError(t, err)

	require.NoError(t, r.Render(conf))
	second, err := os.ReadFile(filepath.Join(dir, "edulution.env"))
	require.NoError(t, err)

	assert.NotEqual(t, string(first), string(second))
}

func TestRenderErrors(t *testing.T) {
	r := NewRenderer(t.TempDir())

	t.Run("incomplete configuration", func(t *testing.T) {
		assert.Error(t, r.Render(install.Configuration{}))
	})

	t.Run("bind DN without DC components", func(t *testing.T) {
		conf := testConfiguration()
		conf.LmnBinduserDN = "CN=binduser,OU=Management"
		err := r.Render(conf)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DC components")
	})
}
