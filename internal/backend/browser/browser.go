package browser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/dataholics-selfience/pharmyrus/internal/backend"
	"github.com/dataholics-selfience/pharmyrus/internal/backend/extract"
	"github.com/dataholics-selfience/pharmyrus/internal/backend/stealth"
	"github.com/dataholics-selfience/pharmyrus/internal/circuitbreaker"
	"github.com/dataholics-selfience/pharmyrus/internal/patent"
)

const (
	DefaultSearchURL     = "https://patents.google.com"
	defaultSessionAge    = 10 * time.Minute
	defaultStartTimeout  = 30 * time.Second
	defaultWarmUpTimeout = 30 * time.Second
)

// Profile is the fingerprint a browser session presents.
type Profile struct {
	Width    int64
	Height   int64
	Locale   string
	Timezone string
	Cores    int
	WarmUp   bool
}

func PrimaryProfile() Profile {
	return Profile{Width: 1920, Height: 1080, Locale: "pt-BR", Timezone: "America/Sao_Paulo", Cores: 8, WarmUp: true}
}

func SecondaryProfile() Profile {
	return Profile{Width: 1366, Height: 768, Locale: "en-US", Timezone: "America/New_York", Cores: 4}
}

type Config struct {
	Identity  backend.Identity
	SearchURL string
	// RemoteURL is a DevTools websocket; empty launches a local browser.
	RemoteURL string
	ExecPath  string
	Headless  bool
	Profile   Profile
	// Dwell bounds the human-like pause after each navigation.
	DwellMin      time.Duration
	DwellMax      time.Duration
	MaxSessionAge time.Duration
	Seed          uint64
}

type session struct {
	ctx     context.Context
	cancel  func()
	started time.Time
}

type Backend struct {
	cfg     Config
	guard   *backend.Guard
	rotator *stealth.Rotator
	logger  *slog.Logger

	mutex   sync.Mutex
	session *session
	rng     *rand.Rand
}

// NewPrimary builds the local-browser backend.
func NewPrimary(cfg Config, breaker *circuitbreaker.Breaker, logger *slog.Logger, opts ...backend.GuardOption) *Backend {
	if cfg.Identity.Name == "" {
		cfg.Identity = backend.Identity{Name: "primary", Tier: 1}
	}
	if cfg.Profile == (Profile{}) {
		cfg.Profile = PrimaryProfile()
	}
	return newBackend(cfg, breaker, logger, opts...)
}

// NewSecondary builds the fallback browser backend.
func NewSecondary(cfg Config, breaker *circuitbreaker.Breaker, logger *slog.Logger, opts ...backend.GuardOption) *Backend {
	if cfg.Identity.Name == "" {
		cfg.Identity = backend.Identity{Name: "secondary", Tier: 2}
	}
	if cfg.Profile == (Profile{}) {
		cfg.Profile = SecondaryProfile()
	}
	return newBackend(cfg, breaker, logger, opts...)
}

func newBackend(cfg Config, breaker *circuitbreaker.Breaker, logger *slog.Logger, opts ...backend.GuardOption) *Backend {
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.MaxSessionAge <= 0 {
		cfg.MaxSessionAge = defaultSessionAge
	}
	if cfg.DwellMax < cfg.DwellMin {
		cfg.DwellMax = cfg.DwellMin
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Backend{
		cfg:     cfg,
		rotator: stealth.NewRotator(cfg.Seed),
		logger:  logger.With(slog.String("backend", cfg.Identity.Name)),
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)),
	}

	opts = append(opts,
		backend.WithGuardLogger(logger),
		backend.WithLifecycle(backend.Lifecycle{Init: b.open, Release: b.close}))
	b.guard = backend.NewGuard(cfg.Identity, breaker, opts...)

	return b
}

func (b *Backend) allocator() (context.Context, context.CancelFunc) {
	if b.cfg.RemoteURL != "" {
		return chromedp.NewRemoteAllocator(context.Background(), b.cfg.RemoteURL)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.WindowSize(int(b.cfg.Profile.Width), int(b.cfg.Profile.Height)),
	)
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}

	return chromedp.NewExecAllocator(context.Background(), opts...)
}

func (b *Backend) open(ctx context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	s, err := b.start(ctx)
	if err != nil {
		return err
	}
	b.session = s

	return nil
}

// start launches a browser. The session is detached from ctx, which only
// bounds the launch itself.
func (b *Backend) start(ctx context.Context) (*session, error) {
	allocCtx, allocCancel := b.allocator()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			b.logger.Debug(fmt.Sprintf(format, args...))
		}))

	s := &session{
		ctx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
		started: time.Now(),
	}

	ua := b.rotator.Chrome()
	p := b.cfg.Profile

	setup := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealth.InitScript(p.Cores)).Do(ctx)
			return err
		}),
		emulation.SetUserAgentOverride(ua).WithAcceptLanguage(p.Locale),
		chromedp.EmulateViewport(p.Width, p.Height),
	}
	if p.Timezone != "" {
		setup = append(setup, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		setup = append(setup, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}

	// The first Run allocates the browser on browserCtx itself. Running it on
	// a timeout child would tie Chrome's lifetime to that child.
	launchRun := func(ctx context.Context) error { return chromedp.Run(ctx) }
	if err := launch(ctx, s.ctx, s.cancel, defaultStartTimeout, launchRun); err != nil {
		s.cancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	if err := b.within(ctx, s, defaultStartTimeout, setup); err != nil {
		s.cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	if p.WarmUp {
		warm := chromedp.Tasks{chromedp.Navigate(b.cfg.SearchURL), chromedp.WaitReady("body", chromedp.ByQuery)}
		if err := b.within(ctx, s, defaultWarmUpTimeout, warm); err != nil {
			b.logger.Warn("browser warm-up failed", slog.Any("err", err))
		}
	}

	b.logger.Info("browser session started", slog.Bool("remote", b.cfg.RemoteURL != ""))

	return s, nil
}

// launch runs run on sessionCtx and calls cancel if ctx ends or timeout
// elapses first. Once launch returns nil, neither is attached to the session.
func launch(ctx, sessionCtx context.Context, cancel func(), timeout time.Duration, run func(context.Context) error) error {
	timer := time.AfterFunc(timeout, cancel)
	stop := context.AfterFunc(ctx, cancel)

	err := run(sessionCtx)

	expired := !timer.Stop()
	detached := stop()

	switch {
	case err != nil:
		return err
	case expired:
		return fmt.Errorf("launch exceeded %s", timeout)
	case !detached:
		return ctx.Err()
	}

	return nil
}

func (b *Backend) close(context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.session != nil {
		b.session.cancel()
		b.session = nil
	}
	return nil
}

// within runs actions on the session tab, cancelled when ctx is done or
// timeout elapses.
func (b *Backend) within(ctx context.Context, s *session, timeout time.Duration, actions chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions)
}

func (b *Backend) current(ctx context.Context) (*session, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.session != nil && time.Since(b.session.started) <= b.cfg.MaxSessionAge {
		return b.session, nil
	}

	if b.session != nil {
		b.logger.Info("browser session expired, renewing")
		b.session.cancel()
		b.session = nil
	}

	s, err := b.start(ctx)
	if err != nil {
		return nil, err
	}
	b.session = s

	return s, nil
}

func (b *Backend) dwell() time.Duration {
	if b.cfg.DwellMax <= 0 {
		return 0
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	spread := b.cfg.DwellMax - b.cfg.DwellMin
	if spread <= 0 {
		return b.cfg.DwellMin
	}
	return b.cfg.DwellMin + time.Duration(b.rng.Int64N(int64(spread)))
}

// load navigates to target and returns the rendered document.
func (b *Backend) load(ctx context.Context, op, target string) (string, error) {
	s, err := b.current(ctx)
	if err != nil {
		return "", &backend.TransportError{Backend: b.cfg.Identity.Name, Op: op, Err: err}
	}

	var content string
	tasks := chromedp.Tasks{
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if d := b.dwell(); d > 0 {
		tasks = append(tasks, chromedp.Sleep(d))
	}
	tasks = append(tasks, chromedp.OuterHTML("html", &content, chromedp.ByQuery))

	timeout := backend.DefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	if err := b.within(ctx, s, timeout, tasks); err != nil {
		return "", &backend.TransportError{Backend: b.cfg.Identity.Name, Op: op, Err: err}
	}

	if blocked, reason := extract.Blocked(content, extract.MinBrowserContent); blocked {
		b.logger.Warn("blocked by origin", slog.String("op", op), slog.String("reason", reason))
		return "", &backend.BlockedError{Backend: b.cfg.Identity.Name, Op: op, Reason: reason}
	}

	return content, nil
}

func (b *Backend) patentURL(id patent.Identifier) string {
	return b.cfg.SearchURL + "/patent/" + url.PathEscape(id.Key()) + "/en"
}

func (b *Backend) Identity() backend.Identity { return b.guard.Identity() }

func (b *Backend) Initialize(ctx context.Context) error { return b.guard.Initialize(ctx) }

func (b *Backend) Cleanup(ctx context.Context) error { return b.guard.Cleanup(ctx) }

func (b *Backend) Available() bool { return b.guard.Available() }

func (b *Backend) Health() circuitbreaker.Health { return b.guard.Health() }

func (b *Backend) Snapshot() backend.Snapshot { return b.guard.Snapshot() }

func (b *Backend) ResetCircuit() { b.guard.ResetCircuit() }

func (b *Backend) SearchIdentifiers(ctx context.Context, query string, max int) ([]patent.Identifier, error) {
	return backend.Collect(ctx, b.guard, backend.OpSearch, func(ctx context.Context) ([]patent.Identifier, error) {
		content, err := b.load(ctx, backend.OpSearch, b.cfg.SearchURL+"/?q="+url.QueryEscape(query))
		if err != nil {
			return nil, err
		}

		ids := extract.WONumbers(content)
		if max > 0 && len(ids) > max {
			ids = ids[:max]
		}

		b.logger.Debug("search finished", slog.String("query", query), slog.Int("found", len(ids)))
		return ids, nil
	})
}

func (b *Backend) FetchDetails(ctx context.Context, id patent.Identifier) (*patent.Record, error) {
	var rec *patent.Record

	err := b.guard.Run(ctx, backend.OpDetails, func(ctx context.Context) (int, error) {
		pg, err := b.patentPage(ctx, backend.OpDetails, id)
		if err != nil || pg == nil || pg.Title == "" {
			return 0, err
		}
		rec = extract.Record(id, pg, b.cfg.Identity.Name)
		return 1, nil
	})

	return rec, err
}

func (b *Backend) ExpandFamily(ctx context.Context, id patent.Identifier, countries []string) ([]patent.Identifier, error) {
	return backend.Collect(ctx, b.guard, backend.OpExpand, func(ctx context.Context) ([]patent.Identifier, error) {
		pg, err := b.patentPage(ctx, backend.OpExpand, id)
		if err != nil || pg == nil {
			return nil, err
		}
		return extract.CountryNumbers(pg.Text, countries), nil
	})
}

func (b *Backend) patentPage(ctx context.Context, op string, id patent.Identifier) (*extract.Page, error) {
	content, err := b.load(ctx, op, b.patentURL(id))
	if err != nil {
		return nil, err
	}

	pg, err := extract.ParsePage(bytes.NewReader([]byte(content)))
	if err != nil {
		return nil, fmt.Errorf("backend %s: %s: %w", b.cfg.Identity.Name, op, err)
	}

	return pg, nil
}

var _ backend.Backend = (*Backend)(nil)
