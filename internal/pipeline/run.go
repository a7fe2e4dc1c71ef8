package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dataholics-selfience/pharmyrus/internal/directsearch"
	"github.com/dataholics-selfience/pharmyrus/internal/fallback"
	"github.com/dataholics-selfience/pharmyrus/internal/intel"
	"github.com/dataholics-selfience/pharmyrus/internal/metrics"
	"github.com/dataholics-selfience/pharmyrus/internal/pacing"
	"github.com/dataholics-selfience/pharmyrus/internal/patent"
	"github.com/dataholics-selfience/pharmyrus/internal/strategy"
)

var (
	ErrRunConsumed     = errors.New("pipeline run already executed")
	ErrMissingMolecule = errors.New("molecule name is required")
)

// Intelligence resolves a molecule to query material.
type Intelligence interface {
	Lookup(ctx context.Context, name string) (intel.Molecule, error)
}

// DirectSearch queries a national index by free text.
type DirectSearch interface {
	Query(ctx context.Context, term string) ([]directsearch.RawRecord, error)
}

const (
	DefaultMaxQueries   = 20
	DefaultExpansionCap = 10
	DefaultPerQuery     = 10

	directSearchSource = "directsearch"
)

type Config struct {
	Target             string
	MaxQueries         int
	ExpansionCap       int
	MaxResultsPerQuery int
	// Deadline bounds the whole run; zero means none. In-flight operations
	// are never cancelled by it.
	Deadline         time.Duration
	DirectCountry    string
	DefaultCountries []string
	Years            []string
	Companies        []string
}

func (c Config) withDefaults() Config {
	if c.Target == "" {
		c.Target = strategy.TargetGooglePatents
	}
	if c.MaxQueries <= 0 {
		c.MaxQueries = DefaultMaxQueries
	}
	if c.ExpansionCap <= 0 {
		c.ExpansionCap = DefaultExpansionCap
	}
	if c.MaxResultsPerQuery <= 0 {
		c.MaxResultsPerQuery = DefaultPerQuery
	}
	if c.DirectCountry == "" {
		c.DirectCountry = directsearch.DefaultCountry
	}
	if len(c.DefaultCountries) == 0 {
		c.DefaultCountries = DefaultCountries
	}
	if c.Years == nil {
		c.Years = DefaultYears
	}
	if c.Companies == nil {
		c.Companies = DefaultCompanies
	}
	return c
}

type Option func(*Run)

func WithIntelligence(i Intelligence) Option {
	return func(r *Run) { r.intel = i }
}

func WithDirectSearch(d DirectSearch) Option {
	return func(r *Run) { r.direct = d }
}

func WithDelayPolicy(p pacing.DelayPolicy) Option {
	return func(r *Run) {
		if p != nil {
			r.delay = p
		}
	}
}

func WithSink(s metrics.Sink) Option {
	return func(r *Run) { r.sink = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Run) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithRunID(id string) Option {
	return func(r *Run) {
		if id != "" {
			r.id = id
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Run) { r.now = now }
}

// Run is a single pipeline execution. It owns its manager and may be
// executed once.
type Run struct {
	id      string
	cfg     Config
	manager *fallback.Manager
	intel   Intelligence
	direct  DirectSearch
	delay   pacing.DelayPolicy
	sink    metrics.Sink
	logger  *slog.Logger
	now     func() time.Time

	used atomic.Bool
}

func New(manager *fallback.Manager, cfg Config, opts ...Option) *Run {
	r := &Run{
		id:      uuid.NewString(),
		cfg:     cfg.withDefaults(),
		manager: manager,
		delay:   pacing.Zero,
		logger:  slog.Default(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	r.logger = r.logger.With(slog.String("run_id", r.id))

	return r
}

func (r *Run) ID() string {
	return r.id
}

// execution is the mutable state of one Execute call.
type execution struct {
	req       Request
	countries []string
	deadline  time.Time
	records   *patent.Collection
	result    *Result
}

func (e *execution) expired(now time.Time) bool {
	return !e.deadline.IsZero() && !now.Before(e.deadline)
}

// Execute runs every phase in order and always returns a well-formed result
// for a valid request. Backends are cleaned up before it returns.
func (r *Run) Execute(ctx context.Context, req Request) (*Result, error) {
	if !r.used.CompareAndSwap(false, true) {
		return nil, ErrRunConsumed
	}

	defer func() {
		if err := r.manager.Close(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("closing backends failed", slog.Any("err", err))
		}
	}()

	req.MoleculeName = strings.TrimSpace(req.MoleculeName)
	req.BrandName = strings.TrimSpace(req.BrandName)
	if req.MoleculeName == "" {
		return nil, ErrMissingMolecule
	}

	start := r.now()
	ex := &execution{
		req:       req,
		countries: req.TargetCountries,
		records:   patent.NewCollection(),
		result: &Result{
			RunID:     r.id,
			Request:   req,
			Molecule:  intel.Molecule{Name: req.MoleculeName},
			StartedAt: start,
		},
	}
	if len(ex.countries) == 0 {
		ex.countries = r.cfg.DefaultCountries
	}
	if r.cfg.Deadline > 0 {
		ex.deadline = start.Add(r.cfg.Deadline)
	}

	r.logger.Info("pipeline run started",
		slog.String("molecule", req.MoleculeName),
		slog.String("brand", req.BrandName),
		slog.Any("countries", ex.countries))

	phases := []struct {
		name string
		fn   func(context.Context, *execution) error
	}{
		{PhaseIntelligence, r.intelligence},
		{PhaseDiscovery, r.discovery},
		{PhaseExpansion, r.expansion},
		{PhaseDirectSearch, r.directSearch},
		{PhaseMerge, r.merge},
	}

	for _, p := range phases {
		ex.result.Phases = append(ex.result.Phases, r.phase(ctx, ex, p.name, p.fn))
	}

	res := ex.result
	res.Metrics = r.manager.Metrics()
	res.Duration = r.now().Sub(start)
	res.Status = res.status()

	if r.sink != nil {
		r.sink.Emit(metrics.MetricEvent{
			Type:      metrics.EventRunCompleted,
			Timestamp: r.now(),
			Status:    res.Status,
			Duration:  res.Duration,
			Records:   len(res.Records),
		})
	}

	r.logger.Info("pipeline run finished",
		slog.String("status", res.Status),
		slog.Int("records", len(res.Records)),
		slog.Bool("truncated", res.Truncated),
		slog.Duration("duration", res.Duration))

	return res, nil
}

// phase runs fn inside a recover boundary. Merge always runs so a truncated
// run still returns what it collected.
func (r *Run) phase(ctx context.Context, ex *execution, name string, fn func(context.Context, *execution) error) (report PhaseReport) {
	report.Name = name

	if name != PhaseMerge && (ex.expired(r.now()) || ctx.Err() != nil) {
		ex.result.Truncated = true
		report.Status = PhaseSkipped
		r.logger.Warn("phase skipped", slog.String("phase", name))
		return report
	}

	start := r.now()
	defer func() {
		report.Duration = r.now().Sub(start)

		if rec := recover(); rec != nil {
			report.Status = PhaseFailed
			report.Error = fmt.Sprintf("panic: %v", rec)
			r.logger.Error("phase panicked", slog.String("phase", name), slog.Any("panic", rec))
		}
	}()

	if err := fn(ctx, ex); err != nil {
		report.Status = PhaseFailed
		report.Error = err.Error()
		r.logger.Warn("phase failed", slog.String("phase", name), slog.Any("err", err))
		return report
	}

	report.Status = PhaseOK
	return report
}

func (r *Run) intelligence(ctx context.Context, ex *execution) error {
	if r.intel == nil {
		return nil
	}

	mol, err := r.intel.Lookup(ctx, ex.req.MoleculeName)
	if err != nil {
		return fmt.Errorf("molecule lookup: %w", err)
	}
	if mol.Name == "" {
		mol.Name = ex.req.MoleculeName
	}
	ex.result.Molecule = mol

	return nil
}

func (r *Run) discovery(ctx context.Context, ex *execution) error {
	plan := QueryPlan{Years: r.cfg.Years, Companies: r.cfg.Companies, Max: r.cfg.MaxQueries}
	queries := plan.Build(ex.req.MoleculeName, ex.req.BrandName, ex.result.Molecule)
	ex.result.Discovery.Queries = queries

	mq, err := r.manager.MultiQuery(ctx, queries, r.cfg.Target, r.cfg.MaxResultsPerQuery,
		fallback.StopWhen(func() bool { return ex.expired(r.now()) }))
	if err != nil {
		return err
	}

	ex.result.Discovery.Executed = mq.Executed
	ex.result.Discovery.Identifiers = mq.Identifiers
	ex.result.Discovery.Usage = mq.Usage
	if mq.Truncated {
		ex.result.Truncated = true
	}

	r.logger.Info("discovery finished",
		slog.Int("queries", mq.Executed),
		slog.Int("identifiers", len(mq.Identifiers)),
		slog.Any("usage", mq.Usage))

	return nil
}

func (r *Run) expansion(ctx context.Context, ex *execution) error {
	roots := ex.result.Discovery.Identifiers
	if len(roots) > r.cfg.ExpansionCap {
		roots = roots[:r.cfg.ExpansionCap]
	}

	report := &ex.result.Expansion
	report.Usage = make(map[string]int)

	for i, root := range roots {
		if ex.expired(r.now()) {
			ex.result.Truncated = true
			break
		}
		if i > 0 {
			if err := pacing.Sleep(ctx, r.delay.NextDelay(r.cfg.Target)); err != nil {
				ex.result.Truncated = true
				break
			}
		}

		members, used, err := r.manager.ExpandFamily(ctx, r.cfg.Target, root, ex.countries)
		if err != nil {
			return err
		}

		report.Attempted++
		report.Usage[used]++

		members = patent.Filter(members, ex.countries)
		if len(members) == 0 {
			report.Failed++
			continue
		}
		report.Successful++

		for _, member := range members {
			stored := ex.records.Merge(patent.Record{
				Identifier:       member,
				Source:           used,
				Provenance:       patent.ProvenanceFamilyExpansion,
				Origin:           OriginFamily,
				SourceIdentifier: root,
				Score:            patent.ScoreFamilyExpansion,
			})
			if stored {
				report.Members++
			}
		}
	}

	return nil
}

func (r *Run) directSearch(ctx context.Context, ex *execution) error {
	if r.direct == nil {
		return nil
	}

	terms := []struct{ term, origin string }{{ex.req.MoleculeName, OriginMolecule}}
	if ex.req.BrandName != "" && !strings.EqualFold(ex.req.BrandName, ex.req.MoleculeName) {
		terms = append(terms, struct{ term, origin string }{ex.req.BrandName, OriginBrand})
	}

	report := &ex.result.DirectSearch

	for i, t := range terms {
		if ex.expired(r.now()) {
			ex.result.Truncated = true
			break
		}
		if i > 0 {
			if err := pacing.Sleep(ctx, r.delay.NextDelay(pacing.SiteINPI)); err != nil {
				ex.result.Truncated = true
				break
			}
		}

		report.Queries++
		raw, err := r.direct.Query(ctx, t.term)
		if err != nil {
			report.Errors++
			r.logger.Warn("direct search failed", slog.String("term", t.term), slog.Any("err", err))
			continue
		}

		for _, rec := range directsearch.Records(raw, r.cfg.DirectCountry) {
			report.Found++
			rec.Source = directSearchSource
			rec.Provenance = patent.ProvenanceDirectSearch
			rec.Origin = t.origin
			rec.Score = patent.ScoreDirectSearch

			if ex.records.Merge(rec) {
				report.Added++
			} else {
				report.Duplicates++
			}
		}
	}

	return nil
}

func (r *Run) merge(_ context.Context, ex *execution) error {
	records := ex.records.Ranked()
	ex.result.Records = records

	ex.result.Summary = Summary{
		Discovered:   len(ex.result.Discovery.Identifiers),
		Records:      len(records),
		WithMembers:  ex.result.Expansion.Successful,
		DirectFound:  ex.result.DirectSearch.Added,
		ByProvenance: patent.CountBy(records, func(rec patent.Record) string { return string(rec.Provenance) }),
		BySource:     patent.CountBy(records, func(rec patent.Record) string { return rec.Source }),
		ByOrigin:     patent.CountBy(records, func(rec patent.Record) string { return rec.Origin }),
	}

	return nil
}
