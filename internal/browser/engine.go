// Package browser drives CMS admin sessions with headless Chrome via chromedp.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/contentloop/publishd/internal/pipeline"
)

// Config controls engine behavior.
type Config struct {
	UserAgent      string
	NavTimeout     time.Duration
	StepTimeout    time.Duration
	ConfirmTimeout time.Duration
	Headless       bool
}

// Engine implements pipeline.Engine on top of a shared Chrome allocator.
// Each attempt gets its own browser session, created and torn down inside
// Publish/TestLogin, so a failed attempt never leaks a half-state UI into
// the next one.
type Engine struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New builds an Engine and its Chrome exec allocator.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 15 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Engine{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context, terminating any remaining sessions.
func (e *Engine) Close() {
	e.allocCancel()
}

// Publish runs the full state machine for one attempt: login, editor
// detection, content fill, taxonomy, publish or draft, URL extraction.
// The session is always released, whatever the outcome.
func (e *Engine) Publish(
	ctx context.Context,
	job pipeline.PublishJob,
	creds pipeline.SiteCredentials,
	article pipeline.GeneratedArticle,
) (string, error) {
	tabCtx, cancel := e.newSession(ctx)
	defer cancel()

	paths, err := adminPaths(creds.AdminURL)
	if err != nil {
		return "", pipeline.Classify(pipeline.ErrKindAuthentication, err)
	}

	if err := e.sessionSetup(tabCtx); err != nil {
		return "", pipeline.Classify(pipeline.ErrKindAuthentication, err)
	}
	if err := e.login(tabCtx, paths, creds); err != nil {
		return "", err
	}
	driver, err := e.detectEditor(tabCtx, paths)
	if err != nil {
		return "", err
	}
	e.logger.Debug("editor detected",
		zap.String("job_id", job.ID),
		zap.String("variant", string(driver.Variant())),
	)

	if err := driver.FillTitle(tabCtx, article.Title); err != nil {
		return "", err
	}
	if err := driver.FillBody(tabCtx, article.HTMLContent); err != nil {
		return "", err
	}

	if job.Category != "" || len(job.Tags) > 0 {
		if err := driver.SetTaxonomy(tabCtx, job.Category, job.Tags); err != nil {
			// Taxonomy is best-effort; its absence does not spoil the publish.
			e.logger.Warn("taxonomy assignment failed",
				zap.String("job_id", job.ID),
				zap.String("site", job.Site),
				zap.Error(err),
			)
		}
	}

	if err := driver.PublishOrSave(tabCtx, job.PublishImmediately); err != nil {
		return "", err
	}

	resultURL, err := driver.ExtractURL(tabCtx)
	if err != nil || resultURL == "" {
		// Permalink elements drift; a publish that got its confirmation
		// should not fail on them.
		resultURL = FallbackURL(paths.base, article.Title)
		e.logger.Info("permalink unavailable, derived fallback URL",
			zap.String("job_id", job.ID),
			zap.String("url", resultURL),
		)
	}
	return resultURL, nil
}

// TestLogin exercises only the login portion of the flow against the given
// credentials, for operational verification via the API.
func (e *Engine) TestLogin(ctx context.Context, creds pipeline.SiteCredentials) error {
	tabCtx, cancel := e.newSession(ctx)
	defer cancel()

	paths, err := adminPaths(creds.AdminURL)
	if err != nil {
		return pipeline.Classify(pipeline.ErrKindAuthentication, err)
	}
	if err := e.sessionSetup(tabCtx); err != nil {
		return pipeline.Classify(pipeline.ErrKindAuthentication, err)
	}
	return e.login(tabCtx, paths, creds)
}

// sessionSetup enables the network domain and applies the user agent
// override on the fresh session, before the first navigation.
func (e *Engine) sessionSetup(ctx context.Context) error {
	return e.run(ctx, e.cfg.StepTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if e.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(e.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("override user agent: %w", err)
			}
		}
		return nil
	}))
}

// newSession opens a fresh browser for one attempt. Sessions are never
// reused across attempts or shared between jobs.
func (e *Engine) newSession(ctx context.Context) (context.Context, context.CancelFunc) {
	tabCtx, tabCancel := chromedp.NewContext(e.allocator)
	stop := forwardCancel(ctx, tabCancel)
	return tabCtx, func() {
		stop()
		tabCancel()
	}
}

func (e *Engine) login(ctx context.Context, paths adminURLs, creds pipeline.SiteCredentials) error {
	if err := e.run(ctx, e.cfg.NavTimeout, chromedp.Navigate(paths.login)); err != nil {
		return pipeline.Classify(pipeline.ErrKindAuthentication, fmt.Errorf("open admin entry point: %w", err))
	}

	var loc string
	if err := e.run(ctx, e.cfg.StepTimeout, chromedp.Location(&loc)); err != nil {
		return pipeline.Classify(pipeline.ErrKindAuthentication, fmt.Errorf("read location: %w", err))
	}
	if !onLoginPage(loc) {
		// A live cookie skipped the form entirely.
		return nil
	}

	err := e.run(ctx, e.cfg.StepTimeout,
		chromedp.WaitVisible(`#user_login`, chromedp.ByID),
		chromedp.SetValue(`#user_login`, creds.Username, chromedp.ByID),
		chromedp.SetValue(`#user_pass`, creds.Password, chromedp.ByID),
		chromedp.Click(`#wp-submit`, chromedp.ByID),
	)
	if err != nil {
		return pipeline.Classify(pipeline.ErrKindAuthentication, fmt.Errorf("submit login form: %w", err))
	}

	// Successful login lands in the dashboard; rejection re-renders the form.
	err = e.run(ctx, e.cfg.NavTimeout, chromedp.WaitVisible(`#wpadminbar`, chromedp.ByID))
	if err == nil {
		return nil
	}
	if locErr := e.run(ctx, e.cfg.StepTimeout, chromedp.Location(&loc)); locErr == nil && onLoginPage(loc) {
		return pipeline.Errorf(pipeline.ErrKindAuthentication, "login rejected for %q", creds.Username)
	}
	return pipeline.Classify(pipeline.ErrKindAuthentication, fmt.Errorf("no post-login redirect: %w", err))
}

const editorProbeJS = `(function() {
	if (document.querySelector('.block-editor-writing-flow, .edit-post-layout, iframe[name="editor-canvas"]')) {
		return 'block';
	}
	if (document.querySelector('#content') && document.querySelector('#post')) {
		return 'classic';
	}
	return false;
})()`

// detectEditor opens the new-post screen and probes for a distinguishing
// element of either editor variant.
func (e *Engine) detectEditor(ctx context.Context, paths adminURLs) (EditorDriver, error) {
	if err := e.run(ctx, e.cfg.NavTimeout, chromedp.Navigate(paths.newPost)); err != nil {
		return nil, pipeline.Classify(pipeline.ErrKindEditorDetection, fmt.Errorf("open editor: %w", err))
	}
	var variant string
	err := e.run(ctx, e.cfg.StepTimeout, chromedp.Poll(editorProbeJS, &variant))
	if err != nil {
		return nil, pipeline.Classify(pipeline.ErrKindEditorDetection,
			fmt.Errorf("neither editor variant appeared: %w", err))
	}
	switch Variant(variant) {
	case VariantBlock:
		return &BlockEditorDriver{engine: e}, nil
	case VariantClassic:
		return &ClassicEditorDriver{engine: e}, nil
	default:
		return nil, pipeline.Errorf(pipeline.ErrKindEditorDetection, "unrecognized editor probe result %q", variant)
	}
}

// run executes chromedp actions under a step deadline, forwarding outer
// cancellation so shutdown interrupts mid-step waits.
func (e *Engine) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(stepCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

type adminURLs struct {
	base    string
	login   string
	newPost string
}

// adminPaths derives the login, new-post and base URLs from a configured
// admin URL like https://example.com/wp-admin.
func adminPaths(adminURL string) (adminURLs, error) {
	u, err := url.Parse(adminURL)
	if err != nil {
		return adminURLs{}, fmt.Errorf("parse admin url %q: %w", adminURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return adminURLs{}, fmt.Errorf("admin url %q must be absolute", adminURL)
	}
	base := u.Scheme + "://" + u.Host
	return adminURLs{
		base:    base,
		login:   base + "/wp-login.php",
		newPost: base + "/wp-admin/post-new.php",
	}, nil
}

func onLoginPage(loc string) bool {
	return strings.Contains(loc, "wp-login.php")
}

// FallbackURL derives a deterministic public URL from the site base and the
// article title when no permalink could be read from the page.
func FallbackURL(base, title string) string {
	return strings.TrimSuffix(base, "/") + "/" + pipeline.Slugify(title) + "/"
}

// forwardCancel propagates cancellation of parent onto cancel until the
// returned stop function runs.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
