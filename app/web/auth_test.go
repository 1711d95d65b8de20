package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func prepAuthServer(t *testing.T, password string) *Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return prepServer(t, func(cfg *Config) { cfg.PasswordHash = string(hash) })
}

func TestServer_AuthToken(t *testing.T) {
	s := prepAuthServer(t, "secret")

	token := s.generateAuthToken()
	assert.NotEmpty(t, token)
	assert.True(t, s.validateAuthToken(token))
	assert.False(t, s.validateAuthToken("bogus"))
	assert.False(t, s.validateAuthToken(""))
}

func TestServer_AuthMiddleware(t *testing.T) {
	s := prepAuthServer(t, "secret")
	protected := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("granted"))
	}))

	t.Run("browser without auth redirected to login", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/admin/", nil)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/login", rec.Header().Get("Location"))
	})

	t.Run("api client without auth gets 401", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/admin/", nil)
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	})

	t.Run("valid cookie passes", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/admin/", nil)
		req.AddCookie(&http.Cookie{Name: "offsite-auth", Value: s.generateAuthToken()})
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "granted", rec.Body.String())
	})

	t.Run("basic auth passes", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/admin/", nil)
		req.Header.Set("Accept", "application/json")
		req.SetBasicAuth("offsite", "secret")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("basic auth with wrong password rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/admin/", nil)
		req.Header.Set("Accept", "application/json")
		req.SetBasicAuth("offsite", "wrong")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestServer_Login(t *testing.T) {
	s := prepAuthServer(t, "secret")

	t.Run("form renders", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.handleLoginForm(rec, httptest.NewRequest("GET", "/login", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "password")
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/login", strings.NewReader("password=wrong"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		s.handleLogin(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid password")
	})

	t.Run("empty password rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/login", strings.NewReader(""))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		s.handleLogin(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Password is required")
	})

	t.Run("correct password sets cookie and redirects", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/login", strings.NewReader("password=secret"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		s.handleLogin(rec, req)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/admin/", rec.Header().Get("Location"))

		var token string
		for _, c := range rec.Result().Cookies() {
			if c.Name == "offsite-auth" {
				token = c.Value
				assert.True(t, c.HttpOnly)
			}
		}
		require.NotEmpty(t, token)
		assert.True(t, s.validateAuthToken(token))
	})
}

func TestServer_Logout(t *testing.T) {
	s := prepAuthServer(t, "secret")

	rec := httptest.NewRecorder()
	s.handleLogout(rec, httptest.NewRequest("GET", "/logout", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == "offsite-auth" {
			cleared = c.MaxAge < 0 && c.Value == ""
		}
	}
	assert.True(t, cleared, "auth cookie removed")
}

func TestServer_AdminProtectedByAuth(t *testing.T) {
	s := prepAuthServer(t, "secret")
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	req, err := http.NewRequest("GET", ts.URL+"/admin/", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html")
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	// public pages stay open
	resp2, err := client.Get(ts.URL + "/pricing")
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Contains(t, string(body), "Pricing")
}
