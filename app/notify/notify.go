// Package notify provides delivery of cache lifecycle notifications (version
// activated, install failed) to the configured destinations: email, slack,
// telegram or webhook URLs.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"
)

// Params to make new Service
type Params struct {
	Destinations []string // mailto:, slack:, telegram: or http(s): destination URLs
	HostName     string   // host name reported in messages

	OnActivation bool
	OnFailure    bool

	SMTPHost     string
	SMTPPort     int
	SMTPTLS      bool
	SMTPUsername string
	SMTPPassword string
	Timeout      time.Duration
}

// Service delivers notifications to all configured destinations
type Service struct {
	Params
	notifiers []notify.Notifier
}

// NewService creates notification service. Returns nil if no destinations configured,
// a nil *Service is safe to pass around as a disabled cache.Notifier.
func NewService(params Params) *Service {
	if len(params.Destinations) == 0 {
		return nil
	}
	if params.Timeout == 0 {
		params.Timeout = 10 * time.Second
	}

	notifiers := []notify.Notifier{
		notify.NewWebhook(notify.WebhookParams{Timeout: params.Timeout,
			Headers: []string{"Content-Type:text/html"}}),
	}
	if params.SMTPHost != "" {
		notifiers = append(notifiers, notify.NewEmail(notify.SMTPParams{
			Host:     params.SMTPHost,
			Port:     params.SMTPPort,
			TLS:      params.SMTPTLS,
			Username: params.SMTPUsername,
			Password: params.SMTPPassword,
			TimeOut:  params.Timeout,
		}))
	}

	log.Printf("[INFO] notifications enabled for %d destination(s)", len(params.Destinations))
	return &Service{Params: params, notifiers: notifiers}
}

// IsOnActivation reports if activation notifications are enabled
func (s *Service) IsOnActivation() bool { return s != nil && s.OnActivation }

// IsOnFailure reports if install failure notifications are enabled
func (s *Service) IsOnFailure() bool { return s != nil && s.OnFailure }

// SendActivation delivers a "version activated" message to all destinations
func (s *Service) SendActivation(ctx context.Context, version string) error {
	if s == nil {
		return nil
	}
	msg, err := s.makeActivationHTML(version)
	if err != nil {
		return fmt.Errorf("can't make activation message: %w", err)
	}
	return s.sendAll(ctx, msg)
}

// SendInstallFailure delivers an "install failed" message to all destinations
func (s *Service) SendInstallFailure(ctx context.Context, version, errorLog string) error {
	if s == nil {
		return nil
	}
	msg, err := s.makeFailureHTML(version, errorLog)
	if err != nil {
		return fmt.Errorf("can't make failure message: %w", err)
	}
	return s.sendAll(ctx, msg)
}

func (s *Service) sendAll(ctx context.Context, msg string) error {
	var errs []error
	for _, dest := range s.Destinations {
		if err := notify.Send(ctx, s.notifiers, dest, msg); err != nil {
			errs = append(errs, fmt.Errorf("destination %s: %w", dest, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) makeActivationHTML(version string) (string, error) {
	tmpl := `<!DOCTYPE html>
<html>
	<head>
		<meta name="viewport" content="width=device-width" />
		<meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
		<style type="text/css">
			body { font-family: "Arial"; font-size: 1.0em; }
			.bold { color: #285828; font-weight: 900; }
		</style>
	</head>
	<body>
		<p>Offsite activated version <span class="bold">{{.Version}}</span> on {{.Host}} at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}</p>
	</body>
</html>
`
	return s.render(tmpl, version, "")
}

func (s *Service) makeFailureHTML(version, errorLog string) (string, error) {
	tmpl := `<!DOCTYPE html>
<html>
	<head>
		<meta name="viewport" content="width=device-width" />
		<meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
		<style type="text/css">
			body { font-family: "Arial"; font-size: 1.0em; }
			pre {
				padding: 0.6em;
				font-size: 0.7em;
				background-color: #E8E2A0;
				font-family: "Menlo";
				overflow-x: auto;
				white-space: pre-wrap;
				word-wrap: break-word;
			}
			.bold { color: #882828; font-weight: 900; }
		</style>
	</head>
	<body>
		<p>Offsite install of version <span class="bold">{{.Version}}</span> failed on {{.Host}} at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}</p>
		<pre>
{{.Error}}
		</pre>
	</body>
</html>
`
	return s.render(tmpl, version, errorLog)
}

func (s *Service) render(tmpl, version, errorLog string) (string, error) {
	data := struct {
		Version string
		Host    string
		TS      time.Time
		Error   string
	}{
		Version: version,
		Host:    s.HostName,
		TS:      time.Now(),
		Error:   errorLog,
	}

	t, err := template.New("msg").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("can't parse message template: %w", err)
	}
	buf := bytes.Buffer{}
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}
