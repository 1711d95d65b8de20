package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/mlevkov/offsite/app/web/enums"
)

// Plan is a pricing plan displayed on the pricing page
type Plan struct {
	Name         string
	MonthlyPrice string
	AnnualPrice  string
	Features     []string
	Featured     bool
}

// sitePlans is the fixed pricing table, monthly and annual sets always have
// the same cardinality so the billing toggle swaps them one for one
var sitePlans = []Plan{
	{Name: "Starter", MonthlyPrice: "$19", AnnualPrice: "$190", Features: []string{"1 site", "Offline cache", "Community support"}},
	{Name: "Team", MonthlyPrice: "$49", AnnualPrice: "$490", Features: []string{"5 sites", "Offline cache", "Priority support", "Custom domain"}, Featured: true},
	{Name: "Business", MonthlyPrice: "$99", AnnualPrice: "$990", Features: []string{"Unlimited sites", "Offline cache", "Dedicated support", "SLA"}},
}

// handleHome renders the landing page
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.ensureVisitorID(w, r)
	data := s.newTemplateData(r)
	data.Title = "Offsite - your site, always on"
	s.render(w, "home", "base", data)
}

// handlePricing renders the pricing page
func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	s.ensureVisitorID(w, r)
	data := s.newTemplateData(r)
	data.Title = "Pricing - Offsite"
	data.Plans = sitePlans
	s.render(w, "pricing", "base", data)
}

// handleContact renders the contact page
func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	s.ensureVisitorID(w, r)
	data := s.newTemplateData(r)
	data.Title = "Contact - Offsite"
	s.render(w, "contact", "base", data)
}

// handleOffline renders the offline fallback page
func (s *Server) handleOffline(w http.ResponseWriter, r *http.Request) {
	data := s.newTemplateData(r)
	data.Title = "Offline - Offsite"
	s.render(w, "offline", "offline.html", data)
}

// handleNotFound serves the offline/not-found page for unknown routes
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	data := s.newTemplateData(r)
	data.Title = "Not found - Offsite"

	tmpl, ok := s.templates["offline"]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if err := tmpl.ExecuteTemplate(w, "offline.html", data); err != nil {
		log.Printf("[WARN] failed to render not-found page: %v", err)
	}
}

// handleThemeToggle toggles the theme and persists the preference. Storage
// failures degrade to cookie-only persistence, the toggle itself never fails.
func (s *Server) handleThemeToggle(w http.ResponseWriter, r *http.Request) {
	currentTheme := s.getTheme(r)

	// toggle: light <-> dark
	nextTheme := enums.ThemeLight
	if currentTheme == enums.ThemeLight {
		nextTheme = enums.ThemeDark
	}

	s.setPrefCookie(w, "theme", nextTheme.String())

	if vid := s.ensureVisitorID(w, r); vid != "" {
		if err := s.store.SetPreference(vid, "theme", nextTheme.String()); err != nil {
			log.Printf("[WARN] failed to persist theme preference: %v", err)
		}
	}

	// trigger full page refresh for theme change
	w.Header().Set("HX-Refresh", "true")
	w.WriteHeader(http.StatusOK)
}

// handleBillingToggle swaps the pricing display between monthly and annual
func (s *Server) handleBillingToggle(w http.ResponseWriter, r *http.Request) {
	currentMode := s.getBilling(r)
	nextMode := enums.BillingMonthly
	if currentMode == enums.BillingMonthly {
		nextMode = enums.BillingAnnual
	}
	s.setPrefCookie(w, "billing", nextMode.String())

	data := s.newTemplateData(r)
	data.Billing = nextMode
	data.Plans = sitePlans

	s.renderPartial(w, "pricing-table", data)
}

// handleNavToggle flips the mobile navigation state
func (s *Server) handleNavToggle(w http.ResponseWriter, r *http.Request) {
	next := !s.getNavOpen(r)
	value := "false"
	if next {
		value = "true"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "nav-open",
		Value:    value,
		Path:     s.cookiePath(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	data := s.newTemplateData(r)
	data.NavOpen = next
	s.renderPartial(w, "site-nav", data)
}

// handleContactSubmit simulates a contact form submission: the payload is
// validated and acknowledged, never stored
func (s *Server) handleContactSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	email := strings.TrimSpace(r.FormValue("email"))
	message := strings.TrimSpace(r.FormValue("message"))

	data := s.newTemplateData(r)
	if name == "" || email == "" || message == "" {
		data.Error = "All fields are required"
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusUnprocessableEntity)
		s.renderPartial(w, "contact-result", data)
		return
	}
	if !strings.Contains(email, "@") {
		data.Error = "Invalid email address"
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusUnprocessableEntity)
		s.renderPartial(w, "contact-result", data)
		return
	}

	log.Printf("[INFO] contact form submission from %q", email)
	data.Sent = true
	s.renderPartial(w, "contact-result", data)
}

// handleAdmin renders the admin dashboard
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	data := s.newTemplateData(r)
	data.Title = "Cache - Offsite"
	s.fillCacheData(&data)

	events, err := s.store.ListEvents(50)
	if err != nil {
		log.Printf("[WARN] failed to load events: %v", err)
	}
	data.Events = events

	s.render(w, "admin", "base", data)
}

// handleSettingsModal renders the settings/about modal
func (s *Server) handleSettingsModal(w http.ResponseWriter, r *http.Request) {
	data := s.newTemplateData(r)
	data.Settings = s.settingsInfo
	s.fillCacheData(&data)
	s.renderPartial(w, "settings-modal", data)
}

// handleRefresh triggers a new install cycle. The install runs in background,
// a slow origin should not hold the admin request.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		http.Error(w, "cache worker is disabled", http.StatusConflict)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.cache.Refresh(ctx); err != nil {
			log.Printf("[WARN] refresh failed: %v", err)
		}
	}()

	data := s.newTemplateData(r)
	s.fillCacheData(&data)
	data.CacheState = "installing"
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	s.renderPartial(w, "cache-status", data)
}

// handleActivate promotes the pending version immediately
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		http.Error(w, "cache worker is disabled", http.StatusConflict)
		return
	}
	if err := s.cache.Activate(r.Context()); err != nil {
		log.Printf("[WARN] activation failed: %v", err)
		http.Error(w, "Activation failed", http.StatusConflict)
		return
	}
	data := s.newTemplateData(r)
	s.fillCacheData(&data)
	s.renderPartial(w, "cache-status", data)
}

// handleEventsPartial returns the events list partial for HTMX polling
func (s *Server) handleEventsPartial(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(50)
	if err != nil {
		log.Printf("[ERROR] failed to load events: %v", err)
		http.Error(w, "Failed to load events", http.StatusInternalServerError)
		return
	}
	data := s.newTemplateData(r)
	data.Events = events
	s.renderPartial(w, "events", data)
}

// renderPartial renders a named partial template
func (s *Server) renderPartial(w http.ResponseWriter, name string, data TemplateData) {
	tmpl, ok := s.templates["partials"]
	if !ok {
		log.Printf("[WARN] partials template not found")
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		log.Printf("[WARN] failed to render partial %s: %v", name, err)
	}
}

// fillCacheData populates worker fields of template data
func (s *Server) fillCacheData(data *TemplateData) {
	if s.cache == nil {
		data.CacheState = "disabled"
		return
	}
	data.CacheState = s.cache.State().String()
	data.CacheVersion = s.cache.Version()
	data.Pending = s.cache.PendingVersion()
	data.CacheEntries = s.cache.Entries()
	buckets, err := s.cache.BucketNames()
	if err != nil {
		log.Printf("[WARN] failed to list buckets: %v", err)
	}
	data.Buckets = buckets
}
