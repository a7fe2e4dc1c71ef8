package pacing

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Site keys with their own delay bounds.
const (
	SiteGooglePatents = "google_patents"
	SiteWIPO          = "wipo"
	SiteINPI          = "inpi"
	SitePubChem       = "pubchem"
	SiteDefault       = "default"
)

// DelayPolicy returns how long to wait before the next request to site.
type DelayPolicy interface {
	NextDelay(site string) time.Duration
}

// Bounds is a closed delay interval.
type Bounds struct {
	Min time.Duration
	Max time.Duration
}

// DefaultBounds are the production pacing bounds. Higher-protection sites get
// longer pauses.
func DefaultBounds() map[string]Bounds {
	return map[string]Bounds{
		SiteGooglePatents: {Min: 15 * time.Second, Max: 30 * time.Second},
		SiteWIPO:          {Min: 2 * time.Second, Max: 4 * time.Second},
		SiteINPI:          {Min: 500 * time.Millisecond, Max: time.Second},
		SitePubChem:       {Min: time.Second, Max: 2 * time.Second},
		SiteDefault:       {Min: 2 * time.Second, Max: 5 * time.Second},
	}
}

// Gaussian draws delays from a normal distribution centred on the middle of
// the site's bounds with sigma = range/6, clamped to the bounds.
type Gaussian struct {
	mutex  sync.Mutex
	bounds map[string]Bounds
	rng    *rand.Rand
}

func NewGaussian(bounds map[string]Bounds, seed uint64) *Gaussian {
	merged := DefaultBounds()
	for site, b := range bounds {
		merged[strings.ToLower(site)] = b
	}

	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	return &Gaussian{
		bounds: merged,
		rng:    rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

func (g *Gaussian) NextDelay(site string) time.Duration {
	b, ok := g.bounds[strings.ToLower(site)]
	if !ok {
		b = g.bounds[SiteDefault]
	}

	g.mutex.Lock()
	sample := g.rng.NormFloat64()
	g.mutex.Unlock()

	return Between(b, sample)
}

// Between maps a standard normal sample onto b.
func Between(b Bounds, sample float64) time.Duration {
	if b.Max <= b.Min {
		return b.Min
	}

	mid := float64(b.Min+b.Max) / 2
	sigma := float64(b.Max-b.Min) / 6

	d := time.Duration(mid + sample*sigma)
	if d < b.Min {
		return b.Min
	}
	if d > b.Max {
		return b.Max
	}

	return d
}

// Fixed waits the same duration for every site.
type Fixed time.Duration

func (f Fixed) NextDelay(string) time.Duration {
	return time.Duration(f)
}

// Zero never waits.
var Zero DelayPolicy = Fixed(0)
