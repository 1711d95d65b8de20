package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"

	"github.com/mlevkov/offsite/app/manifest"
)

//go:generate moq -out mocks/manifest_provider.go -pkg mocks -skip-ensure -fmt goimports . ManifestProvider
//go:generate moq -out mocks/notifier.go -pkg mocks -skip-ensure -fmt goimports . Notifier
//go:generate moq -out mocks/repeater.go -pkg mocks -skip-ensure -fmt goimports . Repeater

// State represents the worker lifecycle state
type State int

// worker lifecycle states, in order of progression
const (
	StateIdle State = iota
	StateInstalling
	StateWaiting
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// EventKind is the kind of a lifecycle event
type EventKind string

// lifecycle event kinds
const (
	EventInstalled     EventKind = "installed"
	EventActivated     EventKind = "activated"
	EventInstallFailed EventKind = "install-failed"
)

// Event describes a lifecycle transition of the worker
type Event struct {
	Kind    EventKind
	Version string
	Detail  string
	Time    time.Time
}

// ManifestProvider loads the deployment manifest (version, pre-cache assets, offline route)
type ManifestProvider interface {
	Load() (manifest.Config, error)
	String() string
}

// Notifier delivers lifecycle notifications
type Notifier interface {
	SendActivation(ctx context.Context, version string) error
	SendInstallFailure(ctx context.Context, version, errLog string) error
	IsOnActivation() bool
	IsOnFailure() bool
}

// Repeater repeats failed function
type Repeater interface {
	Do(ctx context.Context, fun func() error, errs ...error) (err error)
}

// EventHandler receives lifecycle events, e.g. for persistence or the admin UI
type EventHandler interface {
	OnCacheEvent(ev Event)
}

// Worker is the offline cache worker. It installs the manifest into a versioned
// bucket, prunes stale buckets on activation and answers same-origin GET requests
// cache-first with network fallback. All collaborators are injected, zero value
// of optional ones disables the corresponding feature.
type Worker struct {
	Buckets      Buckets
	Manifest     ManifestProvider
	Origin       *url.URL
	Client       *http.Client
	Concurrency  int
	SkipWaiting  bool
	Repeater     Repeater
	Notifier     Notifier
	EventHandler EventHandler

	mu      sync.RWMutex
	state   State
	version string // version of the active bucket
	store   Store  // active bucket, nil until first activation
	offline string // offline fallback route of the active version

	pendingVersion string
	pendingStore   Store
	pendingOffline string

	proxyOnce sync.Once
	proxy     *httputil.ReverseProxy
}

// bucketName builds the bucket identifier for a deployment version
func bucketName(version string) string {
	return "offsite-" + version
}

// Run performs the startup cycle: install the manifest version and activate it.
// A failed install falls back to a previously installed bucket of the same
// version when one survived in durable storage, otherwise the worker stays
// idle and passes requests through.
func (w *Worker) Run(ctx context.Context) error {
	w.applyDefaults()

	if err := w.Install(ctx); err != nil {
		log.Printf("[WARN] install failed, %v", err)
		if w.adoptExisting() {
			return nil
		}
		return err
	}
	return w.Activate(ctx)
}

// Refresh runs a new install cycle at runtime. The fresh version stays in the
// waiting state until Activate (or immediately activates with SkipWaiting set).
func (w *Worker) Refresh(ctx context.Context) error {
	w.applyDefaults()
	if err := w.Install(ctx); err != nil {
		return err
	}
	if w.SkipWaiting {
		return w.Activate(ctx)
	}
	return nil
}

// Install fetches all manifest assets from the origin and stores them in the
// bucket of the manifest's version. All-or-nothing: any asset failure aborts
// the install and the previous version, if any, keeps serving.
func (w *Worker) Install(ctx context.Context) error {
	cfg, err := w.Manifest.Load()
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	log.Printf("[INFO] installing version %s, %d assets from %s", cfg.Version, len(cfg.Assets), w.Origin)
	prev := w.currentState()
	w.setState(StateInstalling)

	entries := make(map[string]Entry, len(cfg.Assets))
	var entriesMu sync.Mutex
	var fetchErrs []error
	gr := syncs.NewSizedGroup(w.Concurrency)
	for _, asset := range cfg.Assets {
		gr.Go(func(gctx context.Context) {
			e, ferr := w.fetchAsset(ctx, asset)
			entriesMu.Lock()
			defer entriesMu.Unlock()
			if ferr != nil {
				fetchErrs = append(fetchErrs, fmt.Errorf("asset %s: %w", asset, ferr))
				return
			}
			entries[KeyFor(http.MethodGet, asset)] = e
		})
	}
	gr.Wait()

	if err := errors.Join(fetchErrs...); err != nil {
		w.setState(prev)
		w.emit(Event{Kind: EventInstallFailed, Version: cfg.Version, Detail: err.Error(), Time: time.Now()})
		if w.Notifier != nil && w.Notifier.IsOnFailure() {
			if nerr := w.Notifier.SendInstallFailure(ctx, cfg.Version, err.Error()); nerr != nil {
				log.Printf("[WARN] failed to notify about install failure, %v", nerr)
			}
		}
		return fmt.Errorf("install of version %s aborted: %w", cfg.Version, err)
	}

	store, err := w.Buckets.Open(bucketName(cfg.Version))
	if err != nil {
		w.setState(prev)
		return fmt.Errorf("failed to open bucket for version %s: %w", cfg.Version, err)
	}
	for key, e := range entries {
		if err := store.Set(key, e); err != nil {
			w.setState(prev)
			return fmt.Errorf("failed to store %s: %w", key, err)
		}
	}

	w.mu.Lock()
	w.pendingVersion = cfg.Version
	w.pendingStore = store
	w.pendingOffline = cfg.Offline
	w.state = StateWaiting
	w.mu.Unlock()

	w.emit(Event{Kind: EventInstalled, Version: cfg.Version, Detail: fmt.Sprintf("%d assets", len(entries)), Time: time.Now()})
	log.Printf("[INFO] version %s installed, waiting for activation", cfg.Version)
	return nil
}

// Activate promotes the pending version: removes every bucket not belonging to
// it and starts intercepting requests with the new bucket. Cleanup completes
// before the new version begins serving.
func (w *Worker) Activate(ctx context.Context) error {
	w.mu.Lock()
	if w.pendingStore == nil {
		w.mu.Unlock()
		return fmt.Errorf("nothing to activate")
	}
	version, store, offline := w.pendingVersion, w.pendingStore, w.pendingOffline
	w.state = StateActivating
	w.mu.Unlock()

	names, err := w.Buckets.List()
	if err != nil {
		return fmt.Errorf("failed to list buckets: %w", err)
	}
	for _, name := range names {
		if name == bucketName(version) {
			continue
		}
		if err := w.Buckets.Delete(name); err != nil {
			return fmt.Errorf("failed to delete stale bucket %s: %w", name, err)
		}
		log.Printf("[INFO] stale bucket %s removed", name)
	}

	w.mu.Lock()
	w.version = version
	w.store = store
	w.offline = offline
	w.pendingVersion, w.pendingStore, w.pendingOffline = "", nil, ""
	w.state = StateActive
	w.mu.Unlock()

	w.emit(Event{Kind: EventActivated, Version: version, Time: time.Now()})
	if w.Notifier != nil && w.Notifier.IsOnActivation() {
		if nerr := w.Notifier.SendActivation(ctx, version); nerr != nil {
			log.Printf("[WARN] failed to notify about activation, %v", nerr)
		}
	}
	log.Printf("[INFO] version %s activated", version)
	return nil
}

// ServeHTTP implements the interception contract. Same-origin GET requests are
// answered cache-first with network fallback, everything else passes through
// to the origin untouched.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w.applyDefaults()

	if r.Method != http.MethodGet || w.crossOrigin(r) {
		w.passthrough(rw, r)
		return
	}

	w.mu.RLock()
	store, offline := w.store, w.offline
	w.mu.RUnlock()

	// an activated bucket keeps controlling requests regardless of the
	// lifecycle state, installs of a newer version run on the side
	if store == nil {
		w.passthrough(rw, r)
		return
	}

	key := Key(r)
	if e, ok := store.Get(key); ok {
		writeEntry(rw, e, "hit")
		return
	}

	resp, err := w.fetchOrigin(r)
	if err != nil {
		log.Printf("[DEBUG] origin fetch failed for %s, %v", key, err)
		w.serveFallback(rw, r, store, offline)
		return
	}
	defer resp.Body.Close() //nolint:errcheck // response body close error is not actionable

	if resp.StatusCode == http.StatusOK && w.responseSameOrigin(resp) {
		body, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			// connection died mid-body, same degradation as a failed fetch
			log.Printf("[DEBUG] origin body read failed for %s, %v", key, rerr)
			w.serveFallback(rw, r, store, offline)
			return
		}
		e := Entry{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: body, StoredAt: time.Now()}
		go func() { // the caller gets the original, the copy lands in the bucket for future hits
			if serr := store.Set(key, e.Clone()); serr != nil {
				log.Printf("[WARN] failed to cache %s: %v", key, serr)
			}
		}()
		writeEntry(rw, e, "miss")
		return
	}

	// non-200 or redirected off-origin, return to the caller but never cache
	writeResponse(rw, resp)
}

// State returns the current lifecycle state. Informational only, an activated
// bucket keeps serving while a newer version installs or waits.
func (w *Worker) State() State {
	return w.currentState()
}

// Version returns the version of the active bucket, empty before first activation
func (w *Worker) Version() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}

// PendingVersion returns the installed but not yet activated version, empty if none
func (w *Worker) PendingVersion() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pendingVersion
}

// Entries returns the number of entries in the active bucket
func (w *Worker) Entries() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.store == nil {
		return 0
	}
	return w.store.Len()
}

// BucketNames lists all bucket identifiers in storage
func (w *Worker) BucketNames() ([]string, error) {
	return w.Buckets.List()
}

// adoptExisting activates a bucket of the manifest version surviving from a
// previous run. Returns true if a bucket was adopted.
func (w *Worker) adoptExisting() bool {
	cfg, err := w.Manifest.Load()
	if err != nil {
		return false
	}
	names, err := w.Buckets.List()
	if err != nil {
		return false
	}
	for _, name := range names {
		if name != bucketName(cfg.Version) {
			continue
		}
		store, err := w.Buckets.Open(name)
		if err != nil || store.Len() == 0 {
			return false
		}
		w.mu.Lock()
		w.version = cfg.Version
		w.store = store
		w.offline = cfg.Offline
		w.state = StateActive
		w.mu.Unlock()
		log.Printf("[INFO] adopted surviving bucket %s with %d entries", name, store.Len())
		return true
	}
	return false
}

// fetchAsset downloads a single manifest asset, retrying per the configured repeater
func (w *Worker) fetchAsset(ctx context.Context, asset string) (Entry, error) {
	var e Entry
	fetch := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.Origin.String()+asset, http.NoBody)
		if err != nil {
			return err
		}
		resp, err := w.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close() //nolint:errcheck // response body close error is not actionable
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		e = Entry{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: body, StoredAt: time.Now()}
		return nil
	}

	if w.Repeater != nil {
		if err := w.Repeater.Do(ctx, fetch); err != nil {
			return Entry{}, err
		}
		return e, nil
	}
	if err := fetch(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// fetchOrigin performs the network fetch for an intercepted request
func (w *Worker) fetchOrigin(r *http.Request) (*http.Response, error) {
	u := *w.Origin
	u.Path = singleJoiningSlash(w.Origin.Path, r.URL.Path)
	u.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	for k, vv := range r.Header {
		if hopByHop(k) {
			continue
		}
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	// Accept-Encoding is left to the transport, transparent gzip keeps cached bodies plain
	req.Header.Del("Accept-Encoding")
	return w.Client.Do(req)
}

// serveFallback answers a failed fetch: the cached offline page for navigations,
// a synthesized 503 for everything else
func (w *Worker) serveFallback(rw http.ResponseWriter, r *http.Request, store Store, offline string) {
	if isNavigation(r) && offline != "" {
		if e, ok := store.Get(KeyFor(http.MethodGet, offline)); ok {
			writeEntry(rw, e, "offline")
			return
		}
	}
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusServiceUnavailable)
	_, _ = rw.Write([]byte("Offline"))
}

// crossOrigin reports if the request targets a host other than the configured origin.
// Relative request URLs, the regular case for a front server, are same-origin.
func (w *Worker) crossOrigin(r *http.Request) bool {
	if r.URL.Host == "" {
		return false
	}
	return r.URL.Host != w.Origin.Host
}

// responseSameOrigin reports if the final response URL, after redirects, still
// belongs to the configured origin ("basic" response)
func (w *Worker) responseSameOrigin(resp *http.Response) bool {
	if resp.Request == nil || resp.Request.URL == nil {
		return false
	}
	return resp.Request.URL.Host == w.Origin.Host
}

func (w *Worker) passthrough(rw http.ResponseWriter, r *http.Request) {
	w.proxyOnce.Do(func() {
		w.proxy = httputil.NewSingleHostReverseProxy(w.Origin)
	})
	w.proxy.ServeHTTP(rw, r)
}

func (w *Worker) applyDefaults() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Client == nil {
		w.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if w.Concurrency <= 0 {
		w.Concurrency = 4
	}
}

func (w *Worker) currentState() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) emit(ev Event) {
	if w.EventHandler == nil {
		return
	}
	w.EventHandler.OnCacheEvent(ev)
}

// isNavigation reports if a request loads a top-level document. Browsers mark
// those with Sec-Fetch-Mode, older clients are recognized by the Accept header.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// writeEntry writes a cached entry as the response, marking the cache outcome
func writeEntry(rw http.ResponseWriter, e Entry, outcome string) {
	for k, vv := range e.Header {
		if hopByHop(k) {
			continue
		}
		for _, v := range vv {
			rw.Header().Add(k, v)
		}
	}
	rw.Header().Del("Content-Length") // recalculated by the server
	rw.Header().Set("X-Offsite-Cache", outcome)
	rw.WriteHeader(e.Status)
	if _, err := rw.Write(e.Body); err != nil {
		log.Printf("[WARN] failed to write response: %v", err)
	}
}

// writeResponse streams an origin response through without caching
func writeResponse(rw http.ResponseWriter, resp *http.Response) {
	for k, vv := range resp.Header {
		if hopByHop(k) {
			continue
		}
		for _, v := range vv {
			rw.Header().Add(k, v)
		}
	}
	rw.Header().Set("X-Offsite-Cache", "bypass")
	rw.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(rw, resp.Body); err != nil {
		log.Printf("[WARN] failed to stream response: %v", err)
	}
}

func hopByHop(header string) bool {
	switch http.CanonicalHeaderKey(header) {
	case "Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailer", "Transfer-Encoding", "Upgrade":
		return true
	}
	return false
}

// singleJoiningSlash joins base and request paths without doubling the slash
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
