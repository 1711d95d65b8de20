//go:build e2e

package e2e

import (
	"context"
	"net/http"
	"os/exec"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// authServer manages the auth-enabled server for auth tests
type authServer struct {
	cmd *exec.Cmd
}

// startAuthServer starts a server with authentication enabled on port 18081
func startAuthServer(t *testing.T) *authServer {
	t.Helper()

	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "/tmp/offsite-e2e",
		"--listen=:18081",
		"--db="+authDBPath,
		"--web.auth-hash="+passwordHash,
		"--web.host=e2e-auth-test",
	)
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start auth server: %v", err)
	}

	// wait for server readiness
	client := &http.Client{Timeout: 5 * time.Second}
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, authBaseURL+"/ping", http.NoBody)
		if err != nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return &authServer{cmd: cmd}
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = cmd.Process.Kill()
	t.Fatalf("auth server not ready after 10s")
	return nil
}

func (s *authServer) stop() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// authLogin performs login with test credentials on auth server
func authLogin(t *testing.T, page playwright.Page) {
	t.Helper()
	_, err := page.Goto(authBaseURL + "/login")
	require.NoError(t, err)
	require.NoError(t, page.Locator("input[name='password']").Fill(testPassword))
	require.NoError(t, page.Locator("button[type='submit']").Click())
	require.NoError(t, page.WaitForURL(authBaseURL+"/admin/"))
}

func TestAuth_AdminRedirectsToLogin(t *testing.T) {
	srv := startAuthServer(t)
	defer srv.stop()

	page := newPage(t)
	_, err := page.Goto(authBaseURL + "/admin/")
	require.NoError(t, err)
	require.NoError(t, page.WaitForURL(authBaseURL+"/login"))

	visible, err := page.Locator("input[name='password']").IsVisible()
	require.NoError(t, err)
	assert.True(t, visible, "login form should be visible")
}

func TestAuth_PublicPagesStayOpen(t *testing.T) {
	srv := startAuthServer(t)
	defer srv.stop()

	page := newPage(t)
	resp, err := page.Goto(authBaseURL + "/pricing")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status(), "public pages don't require login")
}

func TestAuth_LoginAndLogout(t *testing.T) {
	srv := startAuthServer(t)
	defer srv.stop()

	page := newPage(t)
	authLogin(t, page)

	visible, err := page.Locator("#cache-status").IsVisible()
	require.NoError(t, err)
	assert.True(t, visible, "admin dashboard after login")

	// logout drops the session and returns to login
	require.NoError(t, page.Locator(".admin-actions >> text=Logout").Click())
	require.NoError(t, page.WaitForURL(authBaseURL+"/login"))

	_, err = page.Goto(authBaseURL + "/admin/")
	require.NoError(t, err)
	require.NoError(t, page.WaitForURL(authBaseURL+"/login"))
}

func TestAuth_WrongPassword(t *testing.T) {
	srv := startAuthServer(t)
	defer srv.stop()

	page := newPage(t)
	_, err := page.Goto(authBaseURL + "/login")
	require.NoError(t, err)
	require.NoError(t, page.Locator("input[name='password']").Fill("wrong-password"))
	require.NoError(t, page.Locator("button[type='submit']").Click())

	errLoc := page.Locator(".form-error")
	require.NoError(t, errLoc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(5000),
	}))
	text, err := errLoc.TextContent()
	require.NoError(t, err)
	assert.Contains(t, text, "Invalid password")
}
