// Package directsearch queries a hosted national patent office index by
// medicine name. Calls go through a sony/gobreaker circuit breaker so a dead
// index is skipped quickly.
package directsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dataholics-selfience/pharmyrus/internal/patent"
)

const (
	DefaultURL     = "https://crawler3-production.up.railway.app/api/data/inpi/patents"
	DefaultTimeout = 30 * time.Second
	DefaultCountry = "BR"

	maxAbstract = 300
)

// RawRecord is one hit as the index returns it. The title field carries the
// publication number.
type RawRecord struct {
	Title       string `json:"title"`
	Applicant   string `json:"applicant"`
	FullText    string `json:"fullText"`
	DepositDate string `json:"depositDate"`
}

type Config struct {
	URL       string
	Timeout   time.Duration
	Threshold uint32
	Cooldown  time.Duration
	Transport http.RoundTripper
}

type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "directsearch"))

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		logger: logger,
	}

	threshold := cfg.Threshold
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "directsearch",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("direct search breaker changed state",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return c
}

// State is the breaker state: closed, half-open or open.
func (c *Client) State() string {
	return c.breaker.State().String()
}

// Query returns the raw hits for term.
func (c *Client) Query(ctx context.Context, term string) ([]RawRecord, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, term)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("direct search unavailable: %w", err)
		}
		return nil, err
	}

	records, _ := out.([]RawRecord)
	c.logger.Debug("direct search finished", slog.String("term", term), slog.Int("hits", len(records)))

	return records, nil
}

func (c *Client) fetch(ctx context.Context, term string) ([]RawRecord, error) {
	q := url.Values{}
	q.Set("medicine", term)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("direct search %q: %w", term, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("direct search %q: http %d", term, resp.StatusCode)
	}

	var body struct {
		Data []RawRecord `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode direct search response: %w", err)
	}

	return body.Data, nil
}

// Records converts raw hits whose title carries country's numbering into
// records. Duplicates by key are dropped.
func Records(raw []RawRecord, country string) []patent.Record {
	if country == "" {
		country = DefaultCountry
	}
	prefix := strings.ToUpper(country)

	set := patent.NewSet()
	var out []patent.Record

	for _, r := range raw {
		title := strings.TrimSpace(r.Title)
		if !strings.HasPrefix(strings.ToUpper(title), prefix) {
			continue
		}

		id := patent.Identifier(strings.ReplaceAll(title, " ", "-"))
		if !set.Add(id) {
			continue
		}

		out = append(out, patent.Record{
			Identifier: id,
			Title:      r.Applicant,
			Abstract:   truncate(r.FullText, maxAbstract),
		})
	}

	return out
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
