// Package web implements the site server: public marketing pages with their
// HTMX behaviors (theme, pricing toggle, contact form), the admin dashboard for
// the offline cache worker and the JSON API.
package web

import (
	"bytes"
	"context"
	"crypto/rand"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/mlevkov/offsite/app/cache"
	"github.com/mlevkov/offsite/app/web/enums"
	"github.com/mlevkov/offsite/app/web/persistence"
)

//go:embed templates/*.html templates/partials/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Server represents the web server
type Server struct {
	store        Persistence
	templates    map[string]*template.Template
	cache        CacheController // may be nil when the worker is disabled
	siteProxy    http.Handler    // worker as the site handler, nil serves local pages
	baseURL      string          // base URL path for reverse proxy, empty for root
	hostname     string          // hostname to display in pages and notifications
	version      string
	passwordHash string // bcrypt hash for admin auth
	settingsInfo SettingsInfo
	eventsLimit  int // max lifecycle events kept in history
}

// Persistence defines storage operations for preferences and event history
type Persistence interface {
	SetPreference(visitorID, key, value string) error
	GetPreference(visitorID, key string) (value string, found bool, err error)
	RecordEvent(ev persistence.EventInfo) error
	ListEvents(limit int) ([]persistence.EventInfo, error)
	CleanupOldEvents(limit int) error
	Close() error
}

// CacheController is the worker surface used by the admin UI and the JSON API
type CacheController interface {
	State() cache.State
	Version() string
	PendingVersion() string
	Entries() int
	BucketNames() ([]string, error)
	Refresh(ctx context.Context) error
	Activate(ctx context.Context) error
}

// Config holds server configuration
type Config struct {
	DBPath       string
	BaseURL      string // base URL path for reverse proxy, empty for root
	Hostname     string
	Version      string
	PasswordHash string          // bcrypt hash for admin auth (empty to disable)
	Cache        CacheController // nil disables the admin cache controls
	SiteProxy    http.Handler    // non-nil routes site traffic through the cache worker
	Settings     SettingsInfo
	EventsLimit  int // max lifecycle events kept, defaults to 200
}

// SettingsInfo holds safe-to-display runtime configuration for the settings modal
type SettingsInfo struct {
	// version & build info
	Version   string
	StartTime time.Time

	// web settings
	WebAddress  string
	WebHostname string
	AuthEnabled bool

	// cache settings
	OriginURL       string
	ManifestPath    string
	SkipWaiting     bool
	Concurrency     int
	RefreshSchedule string // cron spec, empty if disabled
	UpdateEnabled   bool   // manifest file watcher

	// notification summary (counts, no secrets)
	NotifyOnActivation  bool
	NotifyOnFailure     bool
	NotifyDestinations  int
	NotificationTimeout time.Duration

	// logging settings
	LoggingEnabled bool
	DebugMode      bool
	LogFilePath    string
}

// TemplateData holds data for templates
type TemplateData struct {
	Title        string
	BaseURL      string
	Hostname     string
	Theme        enums.Theme
	Billing      enums.Billing
	NavOpen      bool
	CurrentYear  int
	Version      string
	FullVersion  string
	AuthEnabled  bool
	Plans        []Plan
	CacheState   string
	CacheVersion string
	Pending      string
	CacheEntries int
	Buckets      []string
	Events       []persistence.EventInfo
	Settings     SettingsInfo
	Error        string
	Sent         bool // contact form acknowledged
}

// rate limiter for the contact form and admin login, shared across requests
var formLimiter = tollbooth.NewLimiter(1, nil)

// New creates a new web server
func New(cfg Config) (*Server, error) {
	store, err := persistence.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("web server initialization failed: failed to create SQLite store at %q: %w", cfg.DBPath, err)
	}

	eventsLimit := cfg.EventsLimit
	if eventsLimit <= 0 {
		eventsLimit = 200
	}

	s := &Server{
		store:        store,
		cache:        cfg.Cache,
		siteProxy:    cfg.SiteProxy,
		baseURL:      cfg.BaseURL,
		hostname:     cfg.Hostname,
		version:      cfg.Version,
		passwordHash: cfg.PasswordHash,
		settingsInfo: cfg.Settings,
		eventsLimit:  eventsLimit,
	}

	templates, err := s.parseTemplates()
	if err != nil {
		if closeErr := store.Close(); closeErr != nil {
			return nil, fmt.Errorf("web server initialization failed: failed to parse HTML templates: %w (also failed to close store: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("web server initialization failed: failed to parse HTML templates: %w", err)
	}
	s.templates = templates

	return s, nil
}

// Run starts the web server
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// handler returns the http.Handler with base URL wrapping applied
func (s *Server) handler() http.Handler {
	routes := s.routes()
	if s.baseURL == "" {
		return routes
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.baseURL, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.baseURL+"/", http.StatusMovedPermanently)
	})
	mux.Handle(s.baseURL+"/", http.StripPrefix(s.baseURL, routes))
	return mux
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware - applied to all routes
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("offsite", "mlevkov", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(64*1024), // 64KB max request size
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	csrfProtection := http.NewCrossOriginProtection()

	// admin login routes, not protected by auth
	if s.passwordHash != "" {
		router.HandleFunc("GET /login", s.handleLoginForm)
		router.With(csrfProtection.Handler, tollbooth.HTTPMiddleware(formLimiter)).HandleFunc("POST /login", s.handleLogin)
		router.HandleFunc("GET /logout", s.handleLogout)
	}

	// page behavior endpoints (HTMX)
	router.Mount("/api").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		api.Use(csrfProtection.Handler)

		api.HandleFunc("POST /theme", s.handleThemeToggle)
		api.HandleFunc("POST /billing", s.handleBillingToggle)
		api.HandleFunc("POST /nav", s.handleNavToggle)
		api.With(tollbooth.HTTPMiddleware(formLimiter)).HandleFunc("POST /contact", s.handleContactSubmit)
	})

	// admin dashboard and cache controls
	router.Mount("/admin").Route(func(admin *routegroup.Bundle) {
		admin.Use(rest.NoCache)
		if s.passwordHash != "" {
			admin.Use(s.authMiddleware)
		}
		admin.HandleFunc("GET /", s.handleAdmin)
		admin.HandleFunc("GET /settings/modal", s.handleSettingsModal)
		admin.With(csrfProtection.Handler).HandleFunc("POST /api/refresh", s.handleRefresh)
		admin.With(csrfProtection.Handler).HandleFunc("POST /api/activate", s.handleActivate)
		admin.HandleFunc("GET /api/events", s.handleEventsPartial)
	})

	// JSON API for CLI/programmatic access
	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		if s.passwordHash != "" {
			api.Use(s.authMiddleware)
		}
		api.HandleFunc("GET /status", s.handleAPIStatus)
		api.HandleFunc("GET /buckets", s.handleAPIBuckets)
		api.HandleFunc("GET /events", s.handleAPIEvents)
	})

	// static files with proper error handling
	fsys, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Printf("[ERROR] failed to create static file system: %v", err)
		router.Handle("GET /static/", http.FileServer(http.FS(staticFS)))
	} else {
		router.HandleFiles("/static/", http.FS(fsys))
	}

	// site pages: either proxied through the cache worker or rendered locally
	if s.siteProxy != nil {
		// all methods go to the worker, it intercepts GETs and passes the rest through
		router.Handle("/", s.siteProxy)
		return router
	}
	router.HandleFunc("GET /{$}", s.handleHome)
	router.HandleFunc("GET /pricing", s.handlePricing)
	router.HandleFunc("GET /contact", s.handleContact)
	router.HandleFunc("GET /offline", s.handleOffline)
	router.HandleFunc("GET /", s.handleNotFound)

	return router
}

// render renders a template page to a buffer first, partial failures never
// leak a half-written page
func (s *Server) render(w http.ResponseWriter, page, tmplName string, data any) {
	tmpl, ok := s.templates[page]
	if !ok {
		log.Printf("[WARN] template %s not found", page)
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}

	buf := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(buf, tmplName, data); err != nil {
		log.Printf("[WARN] failed to execute template: %v", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[WARN] failed to write response: %v", err)
	}
}

// parseTemplates parses page template sets, each page combined with base and partials
func (s *Server) parseTemplates() (map[string]*template.Template, error) {
	templates := make(map[string]*template.Template)

	funcMap := template.FuncMap{
		"humanTime": s.humanTime,
		"since":     s.since,
		"url":       s.url,
	}

	pages := []string{"home", "pricing", "contact", "admin"}
	for _, page := range pages {
		tmpl, err := template.New("base.html").Funcs(funcMap).ParseFS(templatesFS,
			"templates/base.html", "templates/"+page+".html", "templates/partials/*.html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", page, err)
		}
		templates[page] = tmpl
	}

	// parse partials separately for HTMX requests
	partials, err := template.New("partials").Funcs(funcMap).ParseFS(templatesFS, "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse partials: %w", err)
	}
	templates["partials"] = partials

	// offline page is standalone, it has to render with no other assets around
	offline, err := template.New("offline.html").Funcs(funcMap).ParseFS(templatesFS, "templates/offline.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse offline template: %w", err)
	}
	templates["offline"] = offline

	// login template is standalone, doesn't use base
	login, err := template.New("login.html").Funcs(funcMap).ParseFS(templatesFS, "templates/login.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse login template: %w", err)
	}
	templates["login"] = login

	return templates, nil
}

// newTemplateData creates a TemplateData with common fields populated from request
func (s *Server) newTemplateData(r *http.Request) TemplateData {
	return TemplateData{
		BaseURL:     s.baseURL,
		Hostname:    s.hostname,
		Theme:       s.getTheme(r),
		Billing:     s.getBilling(r),
		NavOpen:     s.getNavOpen(r),
		CurrentYear: time.Now().Year(),
		Version:     shortVersion(s.version),
		FullVersion: s.version,
		AuthEnabled: s.passwordHash != "",
	}
}

// getTheme resolves the theme preference. The read path never fails: cookie
// first, persisted visitor preference next, the client color-scheme hint last.
func (s *Server) getTheme(r *http.Request) enums.Theme {
	if cookie, err := r.Cookie("theme"); err == nil {
		if theme, perr := enums.ParseTheme(cookie.Value); perr == nil {
			return theme
		}
		log.Printf("[WARN] invalid theme cookie %q", cookie.Value)
	}

	if vid := s.visitorID(r); vid != "" {
		value, found, err := s.store.GetPreference(vid, "theme")
		if err != nil {
			log.Printf("[WARN] failed to read theme preference: %v", err)
		}
		if err == nil && found {
			if theme, perr := enums.ParseTheme(value); perr == nil {
				return theme
			}
			log.Printf("[WARN] invalid stored theme %q", value)
		}
	}

	return systemTheme(r)
}

// systemTheme derives the default from the client color-scheme hint, dark when absent
func systemTheme(r *http.Request) enums.Theme {
	if r.Header.Get("Sec-CH-Prefers-Color-Scheme") == "light" {
		return enums.ThemeLight
	}
	return enums.ThemeDark
}

// getBilling gets the pricing display mode from cookie or defaults to monthly
func (s *Server) getBilling(r *http.Request) enums.Billing {
	cookie, err := r.Cookie("billing")
	if err != nil {
		return enums.BillingMonthly
	}
	mode, err := enums.ParseBilling(cookie.Value)
	if err != nil {
		log.Printf("[WARN] invalid billing cookie %q: %v", cookie.Value, err)
		return enums.BillingMonthly
	}
	return mode
}

// getNavOpen gets the mobile navigation state, closed by default
func (s *Server) getNavOpen(r *http.Request) bool {
	cookie, err := r.Cookie("nav-open")
	if err != nil {
		return false
	}
	return cookie.Value == "true"
}

// visitorID returns the visitor identifier cookie value, empty if not set yet
func (s *Server) visitorID(r *http.Request) string {
	cookie, err := r.Cookie("offsite-visitor")
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ensureVisitorID returns the visitor identifier, assigning a fresh one if needed
func (s *Server) ensureVisitorID(w http.ResponseWriter, r *http.Request) string {
	if vid := s.visitorID(r); vid != "" {
		return vid
	}
	vid := newVisitorID()
	http.SetCookie(w, &http.Cookie{
		Name:     "offsite-visitor",
		Value:    vid,
		Path:     s.cookiePath(),
		MaxAge:   365 * 24 * 60 * 60, // 1 year
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return vid
}

// newVisitorID generates a random visitor identifier
func newVisitorID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("v-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// setPrefCookie sets a long-lived preference cookie
func (s *Server) setPrefCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     s.cookiePath(),
		MaxAge:   365 * 24 * 60 * 60, // 1 year
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// template helper functions

func (s *Server) humanTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Format("Jan 2, 15:04:05")
}

func (s *Server) since(t time.Time) time.Duration {
	return time.Since(t)
}

// url prepends the base URL to a path for reverse proxy support
func (s *Server) url(path string) string {
	return s.baseURL + path
}

// cookiePath returns the cookie path with base URL support
func (s *Server) cookiePath() string {
	if s.baseURL == "" {
		return "/"
	}
	return s.baseURL + "/"
}

// shortVersion extracts a short version string from full version
// for version like "v1.2.0-abc1234-20250825", returns "v1.2.0"
func shortVersion(fullVer string) string {
	if fullVer == "" || fullVer == "unknown" {
		return fullVer
	}
	for i := 0; i < len(fullVer); i++ {
		if fullVer[i] == '-' {
			return fullVer[:i]
		}
	}
	return fullVer
}
