//go:build e2e

// Package e2e provides end-to-end browser tests for the Offsite pages.
//
// Test organization:
// - e2e_test.go: TestMain, shared helpers, constants, core page tests
// - controls_test.go: page behavior tests (theme, billing toggle, navigation)
// - contact_test.go: contact form tests
// - admin_test.go: admin dashboard and settings modal tests
// - auth_test.go: authentication tests (login/logout)
package e2e

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	baseURL    = "http://localhost:18080"
	testDBPath = "/tmp/offsite-e2e.db"
)

// auth server constants (separate server for auth tests to avoid rate limiting main tests)
const (
	authBaseURL  = "http://localhost:18081"
	authDBPath   = "/tmp/offsite-e2e-auth.db"
	testPassword = "testpass123"                                                  //nolint:gosec // test password for e2e tests
	passwordHash = "$2y$10$ZcZnRH/ya6JUmBRGE8qlBupIFUYgvOewRXtpkB8HecWtUnryAHr0S" //nolint:gosec // bcrypt hash of testpass123 for e2e tests
)

var (
	pw        *playwright.Playwright
	serverCmd *exec.Cmd
)

func TestMain(m *testing.M) {
	// clean old test data
	_ = os.Remove(testDBPath)

	// build test binary
	ctx := context.Background()
	build := exec.CommandContext(ctx, "go", "build", "-o", "/tmp/offsite-e2e", "./app")
	build.Dir = ".."
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		fmt.Printf("failed to build: %v\n", err)
		os.Exit(1)
	}

	// start server with test config (no auth - auth tests use separate server)
	serverCmd = exec.CommandContext(ctx, "/tmp/offsite-e2e",
		"--listen=:18080",
		"--db="+testDBPath,
		"--web.host=e2e-test",
	)
	serverCmd.Stdout = os.Stdout
	serverCmd.Stderr = os.Stderr
	if err := serverCmd.Start(); err != nil {
		fmt.Printf("failed to start server: %v\n", err)
		os.Exit(1)
	}

	// wait for server readiness
	if err := waitForServer(baseURL+"/ping", 30*time.Second); err != nil {
		fmt.Printf("server not ready: %v\n", err)
		_ = serverCmd.Process.Kill()
		os.Exit(1)
	}

	// install playwright browsers
	if err := playwright.Install(&playwright.RunOptions{
		Browsers: []string{"chromium"},
	}); err != nil {
		fmt.Printf("failed to install playwright: %v\n", err)
		_ = serverCmd.Process.Kill()
		os.Exit(1)
	}

	// start playwright
	var err error
	pw, err = playwright.Run()
	if err != nil {
		fmt.Printf("failed to start playwright: %v\n", err)
		_ = serverCmd.Process.Kill()
		os.Exit(1)
	}

	// run tests
	code := m.Run()

	// cleanup
	_ = pw.Stop()
	_ = serverCmd.Process.Kill()
	_ = os.Remove(testDBPath)

	os.Exit(code)
}

func waitForServer(url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("server not ready after %v", timeout)
		default:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody) // #nosec G107 - test url
			if err != nil {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			resp, err := client.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func newPage(t *testing.T) playwright.Page {
	t.Helper()
	headless := os.Getenv("E2E_HEADLESS") != "false"
	slowMo := 0.0
	if !headless {
		slowMo = 50 // 50ms slowdown for UI mode
	}
	brow, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		SlowMo:   playwright.Float(slowMo),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = brow.Close() })

	// create isolated context (incognito-like) for complete test isolation
	ctx, err := brow.NewContext()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Close() })

	page, err := ctx.NewPage()
	require.NoError(t, err)
	return page
}

// navigateTo opens a page and waits for the site header
func navigateTo(t *testing.T, page playwright.Page, path string) {
	t.Helper()

	_, err := page.Goto(baseURL + path)
	require.NoError(t, err)

	err = page.Locator(".site-header").WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(5000),
	})
	require.NoError(t, err)
}

// --- core page tests ---

func TestPages_HomeLoads(t *testing.T) {
	page := newPage(t)
	navigateTo(t, page, "/")

	title, err := page.Title()
	require.NoError(t, err)
	assert.Equal(t, "Offsite - your site, always on", title)

	visible, err := page.Locator(".hero").IsVisible()
	require.NoError(t, err)
	assert.True(t, visible, "hero section should be visible")
}

func TestPages_Navigation(t *testing.T) {
	page := newPage(t)
	navigateTo(t, page, "/")

	require.NoError(t, page.Locator(".site-nav >> text=Pricing").Click())
	require.NoError(t, page.WaitForURL(baseURL+"/pricing"))

	visible, err := page.Locator(".pricing-table").IsVisible()
	require.NoError(t, err)
	assert.True(t, visible, "pricing table should be visible")

	require.NoError(t, page.Locator(".site-nav >> text=Contact").Click())
	require.NoError(t, page.WaitForURL(baseURL+"/contact"))

	visible, err = page.Locator(".contact-form").IsVisible()
	require.NoError(t, err)
	assert.True(t, visible, "contact form should be visible")
}

func TestPages_OfflinePage(t *testing.T) {
	page := newPage(t)
	_, err := page.Goto(baseURL + "/offline")
	require.NoError(t, err)

	text, err := page.Locator("h1").TextContent()
	require.NoError(t, err)
	assert.Contains(t, text, "offline")
}

func TestPages_NotFound(t *testing.T) {
	page := newPage(t)
	resp, err := page.Goto(baseURL + "/no-such-page")
	require.NoError(t, err)
	assert.Equal(t, 404, resp.Status())
}
