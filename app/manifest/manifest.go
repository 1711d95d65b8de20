// Package manifest deals with the deployment manifest file: the immutable
// version identifier, the ordered list of pre-cache assets and the offline
// fallback route.
package manifest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"gopkg.in/yaml.v3"
)

// Config is the parsed manifest file
type Config struct {
	Version string   `yaml:"version" json:"version" jsonschema:"required,description=immutable deployment version identifier"`
	Assets  []string `yaml:"assets" json:"assets" jsonschema:"required,description=root-relative URLs guaranteed to be pre-cached on install"`
	Offline string   `yaml:"offline" json:"offline,omitempty" jsonschema:"description=route of the offline fallback page,default=/offline"`
}

// Parser reads the manifest file, thread safe
type Parser struct {
	file        string
	updInterval time.Duration
}

// New creates Parser for file, but not parsing yet
func New(file string, updInterval time.Duration) *Parser {
	log.Printf("[INFO] manifest file %s, update every %v", file, updInterval)
	return &Parser{file: file, updInterval: updInterval}
}

// Load parses the manifest file and validates it
func (p *Parser) Load() (Config, error) {
	bs, err := os.ReadFile(p.file)
	if err != nil {
		return Config{}, fmt.Errorf("can't read manifest %s: %w", p.file, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(bs, &cfg); err != nil {
		return Config{}, fmt.Errorf("can't parse manifest %s: %w", p.file, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid manifest %s: %w", p.file, err)
	}
	return cfg.normalized(), nil
}

func (p *Parser) String() string {
	return p.file
}

// Changes returns updates channel. Each time the manifest file changes its
// modification time, the new config is parsed and sent to the channel. Checked
// periodically; a change has to settle for half the interval to prevent
// reacting to intermediate saves.
func (p *Parser) Changes(ctx context.Context) (<-chan Config, error) {
	ch := make(chan Config)

	mtime := func() (time.Time, error) {
		st, err := os.Stat(p.file)
		if err != nil {
			return time.Time{}, fmt.Errorf("can't stat manifest %s: %w", p.file, err)
		}
		return st.ModTime(), nil
	}

	lastMtime, err := mtime()
	if err != nil {
		// need file available to start change watcher
		return nil, err
	}

	ticker := time.NewTicker(p.updInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(ch)
				return
			case <-ticker.C:
				m, err := mtime()
				if err != nil {
					log.Printf("[WARN] can't get info about %s, %v", p.file, err)
					continue
				}
				if m == lastMtime || time.Since(m) < p.updInterval/2 {
					continue
				}
				lastMtime = m
				cfg, err := p.Load()
				if err != nil {
					log.Printf("[WARN] can't load manifest %s, %v", p.file, err)
					continue
				}
				ch <- cfg
			}
		}
	}()

	return ch, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Version) == "" {
		return fmt.Errorf("version is required")
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("at least one asset is required")
	}
	for _, a := range c.Assets {
		if !strings.HasPrefix(a, "/") {
			return fmt.Errorf("asset %q is not root-relative", a)
		}
	}
	if c.Offline != "" && !strings.HasPrefix(c.Offline, "/") {
		return fmt.Errorf("offline route %q is not root-relative", c.Offline)
	}
	return nil
}

// normalized fills defaults and guarantees the offline page is part of the
// pre-cache set, so failed navigations always have a fallback after install
func (c Config) normalized() Config {
	res := c
	if res.Offline == "" {
		res.Offline = "/offline"
	}
	for _, a := range res.Assets {
		if a == res.Offline {
			return res
		}
	}
	res.Assets = append(res.Assets, res.Offline)
	return res
}
