package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/robfig/cron/v3"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mlevkov/offsite/app/cache"
	"github.com/mlevkov/offsite/app/manifest"
	"github.com/mlevkov/offsite/app/notify"
	"github.com/mlevkov/offsite/app/web"
)

var opts struct {
	ManifestFile string `short:"f" long:"manifest" env:"OFFSITE_MANIFEST" default:"offsite.yml" description:"cache manifest file"`
	Origin       string `short:"o" long:"origin" env:"OFFSITE_ORIGIN" description:"origin URL to front, empty serves the built-in pages"`
	Listen       string `short:"l" long:"listen" env:"OFFSITE_LISTEN" default:":8080" description:"listen address"`
	DB           string `long:"db" env:"OFFSITE_DB" default:"var/offsite.db" description:"preferences and events database file"`
	CacheDB      string `long:"cache-db" env:"OFFSITE_CACHE_DB" description:"cache buckets database file, empty keeps buckets in memory"`
	SkipWaiting  bool   `long:"skip-waiting" env:"OFFSITE_SKIP_WAITING" description:"activate fresh versions immediately, don't wait for explicit activation"`
	Concurrency  int    `long:"concurrency" env:"OFFSITE_CONCURRENCY" default:"4" description:"parallel asset fetches during install"`
	UpdateEnable bool   `short:"u" long:"update" env:"OFFSITE_UPDATE" description:"watch manifest file and refresh on change"`
	RefreshCron  string `long:"refresh" env:"OFFSITE_REFRESH" description:"cron spec for periodic cache refresh, empty disables"`
	Dbg          bool   `long:"dbg" env:"OFFSITE_DEBUG" description:"debug mode"`

	Web struct {
		AuthHash    string `long:"auth-hash" env:"AUTH_HASH" description:"bcrypt hash of the admin password, empty disables auth"`
		BaseURL     string `long:"base-url" env:"BASE_URL" description:"base URL path when served behind a reverse proxy"`
		HostName    string `long:"host" env:"HOSTNAME" description:"host name shown in pages and notifications"`
		EventsLimit int    `long:"events-limit" env:"EVENTS_LIMIT" default:"200" description:"max lifecycle events kept in history"`
	} `group:"web" namespace:"web" env-namespace:"OFFSITE_WEB"`

	Repeater struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"1" description:"how many times to repeat a failed asset fetch"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial retry delay"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"3" description:"backoff factor"`
		Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
	} `group:"repeater" namespace:"repeater" env-namespace:"OFFSITE_REPEATER"`

	Notify struct {
		OnActivation bool          `long:"on-activation" env:"ON_ACTIVATION" description:"notify when a new version activates"`
		OnFailure    bool          `long:"on-failure" env:"ON_FAILURE" description:"notify when an install fails"`
		Destinations []string      `long:"destination" env:"DESTINATIONS" description:"notification destinations, mailto: or http(s): URLs" env-delim:","`
		SMTPHost     string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort     int           `long:"smtp-port" env:"SMTP_PORT" description:"SMTP port"`
		SMTPUsername string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS      bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		Timeout      time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"notification delivery timeout"`
	} `group:"notify" namespace:"notify" env-namespace:"OFFSITE_NOTIFY"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILENAME" default:"offsite.log" description:"log file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in megabytes"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated log files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max age of rotated files in days, 0 keeps all"`
		EnabledCompress bool   `long:"enabled-compress" env:"ENABLED_COMPRESS" description:"compress rotated log files"`
	} `group:"log" namespace:"log" env-namespace:"OFFSITE_LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("offsite %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	startTime := time.Now()

	worker, err := makeWorker()
	if err != nil {
		return err
	}

	srv, err := makeWebServer(worker, startTime)
	if err != nil {
		return err
	}

	if worker != nil {
		if err := worker.Run(ctx); err != nil {
			// a failed startup install is survivable, requests pass through
			// until a later refresh succeeds
			log.Printf("[WARN] initial cache install failed: %v", err)
		}
		if err := scheduleRefresh(ctx, worker); err != nil {
			return err
		}
		watchManifest(ctx, worker)
	}

	return srv.Run(ctx, opts.Listen)
}

// makeWorker builds the cache worker, nil when no origin is set (built-in pages
// need no fronting cache)
func makeWorker() (*cache.Worker, error) {
	if opts.Origin == "" {
		return nil, nil
	}

	origin, err := url.Parse(opts.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin URL %q: %w", opts.Origin, err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return nil, fmt.Errorf("origin URL %q must be http or https", opts.Origin)
	}

	var buckets cache.Buckets
	if opts.CacheDB != "" {
		sb, err := cache.NewSQLiteBuckets(opts.CacheDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache db: %w", err)
		}
		buckets = sb
	} else {
		buckets = cache.NewMemoryBuckets()
	}

	rptr := repeater.New(&strategy.Backoff{Repeats: opts.Repeater.Attempts, Duration: opts.Repeater.Duration,
		Factor: opts.Repeater.Factor, Jitter: opts.Repeater.Jitter})

	return &cache.Worker{
		Buckets:     buckets,
		Manifest:    manifest.New(opts.ManifestFile, 10*time.Second),
		Origin:      origin,
		Client:      &http.Client{Timeout: 30 * time.Second},
		Concurrency: opts.Concurrency,
		SkipWaiting: opts.SkipWaiting,
		Repeater:    rptr,
		Notifier:    makeNotifier(),
	}, nil
}

func makeWebServer(worker *cache.Worker, startTime time.Time) (*web.Server, error) {
	cfg := web.Config{
		DBPath:       opts.DB,
		BaseURL:      validateBaseURL(opts.Web.BaseURL),
		Hostname:     makeHostName(),
		Version:      revision,
		PasswordHash: opts.Web.AuthHash,
		EventsLimit:  opts.Web.EventsLimit,
		Settings:     makeSettings(startTime),
	}
	if worker != nil {
		cfg.Cache = worker
		cfg.SiteProxy = worker
	}

	srv, err := web.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create web server: %w", err)
	}

	if worker != nil {
		worker.EventHandler = srv
	}
	return srv, nil
}

func makeSettings(startTime time.Time) web.SettingsInfo {
	return web.SettingsInfo{
		Version:   revision,
		StartTime: startTime,

		WebAddress:  opts.Listen,
		WebHostname: makeHostName(),
		AuthEnabled: opts.Web.AuthHash != "",

		OriginURL:       opts.Origin,
		ManifestPath:    opts.ManifestFile,
		SkipWaiting:     opts.SkipWaiting,
		Concurrency:     opts.Concurrency,
		RefreshSchedule: opts.RefreshCron,
		UpdateEnabled:   opts.UpdateEnable,

		NotifyOnActivation:  opts.Notify.OnActivation,
		NotifyOnFailure:     opts.Notify.OnFailure,
		NotifyDestinations:  len(opts.Notify.Destinations),
		NotificationTimeout: opts.Notify.Timeout,

		LoggingEnabled: opts.Log.Enabled,
		DebugMode:      opts.Dbg,
		LogFilePath:    opts.Log.Filename,
	}
}

// scheduleRefresh registers the periodic refresh job when a cron spec is set
func scheduleRefresh(ctx context.Context, worker *cache.Worker) error {
	if opts.RefreshCron == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(opts.RefreshCron, func() {
		refreshCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if err := worker.Refresh(refreshCtx); err != nil {
			log.Printf("[WARN] scheduled refresh failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", opts.RefreshCron, err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	log.Printf("[INFO] cache refresh scheduled with %q", opts.RefreshCron)
	return nil
}

// watchManifest refreshes the cache when the manifest file changes
func watchManifest(ctx context.Context, worker *cache.Worker) {
	if !opts.UpdateEnable {
		return
	}

	go func() {
		changes, err := manifest.New(opts.ManifestFile, 10*time.Second).Changes(ctx)
		if err != nil {
			log.Printf("[WARN] manifest watcher failed to start: %v", err)
			return
		}
		for cfg := range changes {
			log.Printf("[INFO] manifest changed, version %s", cfg.Version)
			refreshCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			if err := worker.Refresh(refreshCtx); err != nil {
				log.Printf("[WARN] refresh after manifest change failed: %v", err)
			}
			cancel()
		}
	}()
}

func makeNotifier() *notify.Service {
	if !opts.Notify.OnActivation && !opts.Notify.OnFailure {
		return nil
	}

	return notify.NewService(notify.Params{
		Destinations: opts.Notify.Destinations,
		HostName:     makeHostName(),
		OnActivation: opts.Notify.OnActivation,
		OnFailure:    opts.Notify.OnFailure,
		SMTPHost:     opts.Notify.SMTPHost,
		SMTPPort:     opts.Notify.SMTPPort,
		SMTPTLS:      opts.Notify.SMTPTLS,
		SMTPUsername: opts.Notify.SMTPUsername,
		SMTPPassword: opts.Notify.SMTPPassword,
		Timeout:      opts.Notify.Timeout,
	})
}

func makeHostName() string {
	if opts.Web.HostName != "" {
		return opts.Web.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// validateBaseURL normalizes the base URL path: no trailing slash, root means empty
func validateBaseURL(baseURL string) string {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" || baseURL == "/" {
		return ""
	}
	return baseURL
}

// setupLogs configures logging and returns the log writer
func setupLogs() io.Writer {
	logOpts := []log.Option{log.Msec}
	if opts.Dbg {
		logOpts = []log.Option{log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile}
	}

	if !opts.Log.Enabled {
		log.Setup(logOpts...)
		return os.Stdout
	}

	logWriter := &lumberjack.Logger{
		Filename:   opts.Log.Filename,
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAge,
		Compress:   opts.Log.EnabledCompress,
	}
	logOpts = append(logOpts, log.Out(io.MultiWriter(os.Stdout, logWriter)))
	log.Setup(logOpts...)
	return logWriter
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			cancel() // terminate on SIGTERM
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM)
}
