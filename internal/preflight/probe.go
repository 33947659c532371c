// Package preflight performs a cheap HTTP probe of a site's admin login
// page before a browser session is spent on it.
package preflight

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// Config controls probe behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Probe checks that the admin login page answers and looks like a login
// form. It runs without a browser, so an unreachable or misbehaving site is
// caught before the expensive chromedp session starts.
type Probe struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Probe.
func New(cfg Config) *Probe {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Probe{
		cfg:           cfg,
		baseCollector: c,
	}
}

type probeState struct {
	statusCode int
	hasForm    bool
	fetchErr   error
}

// Check visits the login page under adminURL and returns an error when the
// page is unreachable, answers with a non-2xx status, or carries no login
// form.
func (p *Probe) Check(ctx context.Context, adminURL string) error {
	loginURL, err := loginPageURL(adminURL)
	if err != nil {
		return err
	}

	state := &probeState{}
	collector := p.buildCollector(state)

	if err := p.runCollector(ctx, collector, loginURL, state); err != nil {
		return err
	}
	if state.statusCode < 200 || state.statusCode >= 300 {
		return fmt.Errorf("login page %s returned status %d", loginURL, state.statusCode)
	}
	if !state.hasForm {
		return fmt.Errorf("login page %s has no recognizable login form", loginURL)
	}
	return nil
}

func (p *Probe) buildCollector(state *probeState) *colly.Collector {
	collector := p.baseCollector.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	timeout := p.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	p.configureCollectorHooks(collector, state)
	return collector
}

func (p *Probe) configureCollectorHooks(hooks collectorHooks, state *probeState) {
	hooks.OnResponse(func(r *colly.Response) {
		state.statusCode = r.StatusCode
	})
	hooks.OnHTML("form#loginform, input#user_login, input[name=log]", func(_ *colly.HTMLElement) {
		state.hasForm = true
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			state.statusCode = r.StatusCode
		}
		state.fetchErr = err
	})
}

func (p *Probe) runCollector(ctx context.Context, collector *colly.Collector, url string, state *probeState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("preflight canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil && state.statusCode == 0 {
			return fmt.Errorf("preflight visit failed: %w", err)
		}
		if state.fetchErr != nil && state.statusCode == 0 {
			return fmt.Errorf("preflight response failed: %w", state.fetchErr)
		}
		return nil
	}
}

// loginPageURL derives the login page from the configured admin URL. A bare
// site URL gets the conventional wp-login.php appended.
func loginPageURL(adminURL string) (string, error) {
	trimmed := strings.TrimSpace(adminURL)
	if trimmed == "" {
		return "", fmt.Errorf("admin url is empty")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}
	trimmed = strings.TrimSuffix(trimmed, "/")
	if strings.HasSuffix(trimmed, "wp-login.php") {
		return trimmed, nil
	}
	trimmed = strings.TrimSuffix(trimmed, "/wp-admin")
	return trimmed + "/wp-login.php", nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
