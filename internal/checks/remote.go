// Package checks implements the pre-installation probes: reachability of the
// external Linuxmuster services and host requirement checks for playbooks.
package checks

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/edulution-io/installer/internal/install"
	"github.com/edulution-io/installer/internal/logger"
)

// Result is the outcome of a single probe.
type Result struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

const probeTimeout = 3 * time.Second

// Remote probes the external services the installer depends on, using the
// configuration currently held in the store.
type Remote struct {
	store  *install.Store
	client *http.Client

	// APIPort and WebDAVPort are overridable in tests.
	APIPort    int
	WebDAVPort int
}

// NewRemote returns a prober. The HTTP client skips certificate
// verification: the targets commonly run self-signed certificates at this
// point of the installation.
func NewRemote(store *install.Store) *Remote {
	return &Remote{
		store: store,
		client: &http.Client{
			Timeout: probeTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402
			},
		},
		APIPort:    8001,
		WebDAVPort: 443,
	}
}

// CheckAPI probes the Linuxmuster API endpoint.
func (r *Remote) CheckAPI(ctx context.Context) Result {
	conf := r.store.Get()
	return r.probe(ctx, fmt.Sprintf("https://%s:%d", conf.LmnExternalDomain, r.APIPort))
}

// CheckWebDAV probes the WebDAV server.
func (r *Remote) CheckWebDAV(ctx context.Context) Result {
	conf := r.store.Get()
	return r.probe(ctx, fmt.Sprintf("https://%s:%d", conf.LmnExternalDomain, r.WebDAVPort))
}

func (r *Remote) probe(ctx context.Context, url string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Status: false, Message: "Unknown error"}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return Result{Status: false, Message: "Connection error: timeout"}
		}
		logger.Debugf("Probe %s failed: %v", url, err)
		return Result{Status: false, Message: "Unknown error"}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK {
		return Result{Status: true, Message: "Successful"}
	}
	return Result{Status: false, Message: fmt.Sprintf("Got HTTP status %d", resp.StatusCode)}
}

// CheckLDAP probes the LDAP(S) server with an anonymous bind.
func (r *Remote) CheckLDAP(_ context.Context) Result {
	conn, res := r.dialLDAP()
	if conn == nil {
		return res
	}
	defer func() { _ = conn.Close() }()

	if err := conn.UnauthenticatedBind(""); err != nil {
		logger.Debugf("LDAP anonymous bind failed: %v", err)
		return Result{Status: false, Message: "No connection to the LDAP server"}
	}
	return Result{Status: true, Message: "Successful"}
}

// CheckLDAPAccess verifies the configured bind credentials.
func (r *Remote) CheckLDAPAccess(_ context.Context) Result {
	conf := r.store.Get()

	conn, res := r.dialLDAP()
	if conn == nil {
		return res
	}
	defer func() { _ = conn.Close() }()

	if err := conn.Bind(conf.LmnBinduserDN, conf.LmnBinduserPW); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return Result{Status: false, Message: "LDAP credentials invalid"}
		}
		logger.Debugf("LDAP bind failed: %v", err)
		return Result{Status: false, Message: "Unknown error"}
	}
	return Result{Status: true, Message: "Successful"}
}

// dialLDAP connects using the configured schema/host/port. On failure the
// returned Result carries the user-facing message.
func (r *Remote) dialLDAP() (*ldap.Conn, Result) {
	conf := r.store.Get()
	url := fmt.Sprintf("%s://%s:%d", conf.LmnLdapSchema, conf.LmnExternalDomain, conf.LmnLdapPort)

	opts := []ldap.DialOpt{
		ldap.DialWithDialer(&net.Dialer{Timeout: probeTimeout}),
	}
	if conf.LmnLdapSchema == "ldaps" {
		// ldaps requires a certificate the host trusts; a broken chain is a
		// distinct, actionable failure for the user.
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{ServerName: conf.LmnExternalDomain, MinVersion: tls.VersionTLS12}))
	}

	conn, err := ldap.DialURL(url, opts...)
	if err != nil {
		if strings.Contains(err.Error(), "certificate") {
			return nil, Result{Status: false, Message: "No valid certificate"}
		}
		logger.Debugf("LDAP dial %s failed: %v", url, err)
		return nil, Result{Status: false, Message: "No connection to the LDAP server"}
	}
	return conn, Result{}
}
