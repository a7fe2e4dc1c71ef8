// Package lightweight implements the plain HTTP backend: Google-Patents-style
// HTML for search and the WIPO PATENTSCOPE REST API for details and national
// phase entries.
package lightweight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dataholics-selfience/pharmyrus/internal/backend"
	"github.com/dataholics-selfience/pharmyrus/internal/backend/extract"
	"github.com/dataholics-selfience/pharmyrus/internal/backend/stealth"
	"github.com/dataholics-selfience/pharmyrus/internal/circuitbreaker"
	"github.com/dataholics-selfience/pharmyrus/internal/patent"
)

const (
	DefaultSearchURL = "https://patents.google.com"
	DefaultWIPOURL   = "https://patentscope.wipo.int/search/rest/patents"

	defaultMaxRequests = 50
	defaultSessionAge  = 5 * time.Minute
	maxBody            = 10 << 20
)

type Config struct {
	Identity backend.Identity
	// SearchURL is the base of the HTML search site.
	SearchURL string
	// WIPOURL is the PATENTSCOPE-compatible REST endpoint.
	WIPOURL string
	// The session is renewed after this many requests or this age.
	MaxRequestsPerSession int
	MaxSessionAge         time.Duration
	// Transport is used for every session; nil means http.DefaultTransport.
	Transport http.RoundTripper
	Seed      uint64
}

type session struct {
	client   *http.Client
	ua       string
	started  time.Time
	requests int
}

type Backend struct {
	cfg     Config
	guard   *backend.Guard
	rotator *stealth.Rotator
	logger  *slog.Logger

	mutex   sync.Mutex
	session *session
}

func New(cfg Config, breaker *circuitbreaker.Breaker, logger *slog.Logger, opts ...backend.GuardOption) *Backend {
	if cfg.Identity.Name == "" {
		cfg.Identity = backend.Identity{Name: "lightweight", Tier: 3}
	}
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.WIPOURL == "" {
		cfg.WIPOURL = DefaultWIPOURL
	}
	if cfg.MaxRequestsPerSession <= 0 {
		cfg.MaxRequestsPerSession = defaultMaxRequests
	}
	if cfg.MaxSessionAge <= 0 {
		cfg.MaxSessionAge = defaultSessionAge
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Backend{
		cfg:     cfg,
		rotator: stealth.NewRotator(cfg.Seed),
		logger:  logger.With(slog.String("backend", cfg.Identity.Name)),
	}

	opts = append(opts,
		backend.WithGuardLogger(logger),
		backend.WithLifecycle(backend.Lifecycle{Init: b.open, Release: b.close}))
	b.guard = backend.NewGuard(cfg.Identity, breaker, opts...)

	return b
}

func (b *Backend) open(context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.session = b.newSession()
	return nil
}

func (b *Backend) newSession() *session {
	transport := b.cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &session{
		client:  &http.Client{Transport: transport},
		ua:      b.rotator.Random(),
		started: time.Now(),
	}
}

func (b *Backend) close(context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.session != nil {
		b.session.client.CloseIdleConnections()
		b.session = nil
	}
	return nil
}

// current returns the live session, renewing it when it is too old or has
// served too many requests.
func (b *Backend) current() *session {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	s := b.session
	if s == nil || s.requests >= b.cfg.MaxRequestsPerSession || time.Since(s.started) > b.cfg.MaxSessionAge {
		if s != nil {
			s.client.CloseIdleConnections()
			b.logger.Debug("renewing http session", slog.Int("requests", s.requests))
		}
		s = b.newSession()
		b.session = s
	}
	s.requests++

	return s
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
		body, err := b.page(ctx, backend.OpSearch, b.cfg.SearchURL+"/?q="+url.QueryEscape(query))
		if err != nil {
			return nil, err
		}

		ids := extract.WONumbers(string(body))
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
		r, err := b.details(ctx, id)
		if err != nil || r == nil {
			return 0, err
		}
		rec = r
		return 1, nil
	})

	return rec, err
}

func (b *Backend) details(ctx context.Context, id patent.Identifier) (*patent.Record, error) {
	found, err := b.wipo(ctx, backend.OpDetails, id, 1)
	if err != nil && !errors.Is(err, errNotFound) {
		b.logger.Debug("wipo lookup failed, trying search site", slog.Any("err", err))
	}
	if found != nil {
		return &patent.Record{
			Identifier: id,
			Title:      orUnknown(found.Title),
			Abstract:   extract.Truncate(found.Abstract, 500),
			Source:     b.cfg.Identity.Name,
		}, nil
	}

	page, err := b.patentPage(ctx, backend.OpDetails, id)
	if err != nil || page == nil {
		return nil, err
	}

	return extract.Record(id, page, b.cfg.Identity.Name), nil
}

func (b *Backend) ExpandFamily(ctx context.Context, id patent.Identifier, countries []string) ([]patent.Identifier, error) {
	if len(countries) == 0 {
		countries = []string{"BR"}
	}

	return backend.Collect(ctx, b.guard, backend.OpExpand, func(ctx context.Context) ([]patent.Identifier, error) {
		found, err := b.wipo(ctx, backend.OpExpand, id, 0)
		if err != nil && !errors.Is(err, errNotFound) {
			return nil, err
		}

		var out []patent.Identifier
		set := patent.NewSet()
		if found != nil {
			for _, np := range found.NationalPhase {
				if np.ApplicationNumber == "" || !matchesCountry(np.Country, countries) {
					continue
				}
				if num := nationalNumber(np); set.Add(num) {
					out = append(out, num)
				}
			}
		}
		if len(out) > 0 {
			return out, nil
		}

		page, err := b.patentPage(ctx, backend.OpExpand, id)
		if err != nil || page == nil {
			return nil, err
		}

		return extract.CountryNumbers(page.Text, countries), nil
	})
}

// nationalNumber prefixes the application number with its country code
// unless it already carries one.
func nationalNumber(np nationalPhase) patent.Identifier {
	country := strings.ToUpper(np.Country)
	digits := strings.TrimPrefix(patent.Identifier(np.ApplicationNumber).Key(), country)
	return patent.Identifier(country + digits)
}

func matchesCountry(country string, countries []string) bool {
	for _, c := range countries {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

var errNotFound = errors.New("not found")

type wipoResponse struct {
	Results []wipoPatent `json:"results"`
}

type wipoPatent struct {
	Title           string          `json:"EN_TI"`
	Abstract        string          `json:"EN_AB"`
	PublicationDate string          `json:"PD"`
	NationalPhase   []nationalPhase `json:"nationalPhase"`
}

type nationalPhase struct {
	Country           string `json:"country"`
	ApplicationNumber string `json:"applicationNumber"`
}

func (b *Backend) wipo(ctx context.Context, op string, id patent.Identifier, limit int) (*wipoPatent, error) {
	q := url.Values{}
	q.Set("query", strings.TrimPrefix(id.Key(), "WO"))
	if limit > 0 {
		q.Set("offset", "0")
		q.Set("limit", fmt.Sprint(limit))
	}

	s := b.current()
	body, status, err := b.get(ctx, s, b.cfg.WIPOURL+"?"+q.Encode(), stealth.JSONHeaders(s.ua))
	if err != nil {
		return nil, &backend.TransportError{Backend: b.cfg.Identity.Name, Op: op, Err: err}
	}
	if status != http.StatusOK {
		return nil, b.statusError(op, status)
	}

	var resp wipoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode wipo response: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, errNotFound
	}

	return &resp.Results[0], nil
}

// patentPage loads the search site's page for id; nil means not found.
func (b *Backend) patentPage(ctx context.Context, op string, id patent.Identifier) (*extract.Page, error) {
	body, err := b.page(ctx, op, b.cfg.SearchURL+"/patent/"+url.PathEscape(id.Key())+"/en")
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return extract.ParsePage(bytes.NewReader(body))
}

// page fetches an HTML document and applies block detection.
func (b *Backend) page(ctx context.Context, op, target string) ([]byte, error) {
	s := b.current()

	body, status, err := b.get(ctx, s, target, stealth.Headers(s.ua))
	if err != nil {
		return nil, &backend.TransportError{Backend: b.cfg.Identity.Name, Op: op, Err: err}
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("backend %s: %s: %w", b.cfg.Identity.Name, op, errNotFound)
	}
	if status != http.StatusOK {
		return nil, b.statusError(op, status)
	}

	if blocked, reason := extract.Blocked(string(body), extract.MinHTTPContent); blocked {
		return nil, &backend.BlockedError{Backend: b.cfg.Identity.Name, Op: op, Reason: reason}
	}

	return body, nil
}

func (b *Backend) statusError(op string, status int) error {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusForbidden:
		return &backend.BlockedError{Backend: b.cfg.Identity.Name, Op: op, Reason: fmt.Sprintf("http %d", status)}
	case status >= 500:
		return &backend.TransportError{Backend: b.cfg.Identity.Name, Op: op, Err: fmt.Errorf("http %d", status)}
	default:
		return fmt.Errorf("backend %s: %s: unexpected status %d", b.cfg.Identity.Name, op, status)
	}
}

func (b *Backend) get(ctx context.Context, s *session, target string, headers http.Header) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header = headers

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}

	return body, resp.StatusCode, nil
}

var _ backend.Backend = (*Backend)(nil)
