package checks

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulution-io/installer/internal/install"
)

// proberFor points a Remote at the given test server.
func proberFor(t *testing.T, srv *httptest.Server) (*Remote, *install.Store) {
	t.Helper()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	store := install.NewStore()
	store.Set(install.Configuration{LmnExternalDomain: u.Hostname()})

	r := NewRemote(store)
	r.APIPort = port
	r.WebDAVPort = port
	return r, store
}

func TestCheckAPI(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		r, _ := proberFor(t, srv)
		res := r.CheckAPI(context.Background())
		assert.True(t, res.Status)
		assert.Equal(t, "Successful", res.Message)
	})

	t.Run("non-200 answer", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		r, _ := proberFor(t, srv)
		res := r.CheckAPI(context.Background())
		assert.False(t, res.Status)
		assert.Equal(t, "Got HTTP status 502", res.Message)
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
		r, _ := proberFor(t, srv)
		srv.Close() // nothing listens anymore

		res := r.CheckAPI(context.Background())
		assert.False(t, res.Status)
		assert.Equal(t, "Unknown error", res.Message)
	})
}

func TestCheckWebDAV(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r, _ := proberFor(t, srv)
	res := r.CheckWebDAV(context.Background())
	assert.True(t, res.Status)
}

func TestCheckLDAPUnreachable(t *testing.T) {
	// Reserve a port and close it again so the dial is refused immediately.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	store := install.NewStore()
	store.Set(install.Configuration{
		LmnExternalDomain: "127.0.0.1",
		LmnLdapSchema:     "ldap",
		LmnLdapPort:       port,
	})

	r := NewRemote(store)
	res := r.CheckLDAP(context.Background())
	assert.False(t, res.Status)
	assert.Equal(t, "No connection to the LDAP server", res.Message)

	res = r.CheckLDAPAccess(context.Background())
	assert.False(t, res.Status)
	assert.Equal(t, "No connection to the LDAP server", res.Message)
}
