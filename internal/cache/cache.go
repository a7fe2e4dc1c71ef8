// Package cache stores finished pipeline results keyed by the normalized
// request, so repeated searches for the same molecule skip the scrape.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dataholics-selfience/pharmyrus/internal/pipeline"
)

const (
	DefaultTTL    = 24 * time.Hour
	DefaultPrefix = "pharmyrus:result:"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache is a byte store with a fixed expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

type Config struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Address, err)
	}

	return newRedis(client, cfg), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, cfg Config) *Redis {
	return newRedis(client, cfg)
}

func newRedis(client redis.UniversalClient, cfg Config) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}

	return &Redis{client: client, ttl: cfg.TTL, prefix: cfg.Prefix}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	return val, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if key == "" || len(value) == 0 {
		return nil
	}

	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (Nop) Set(context.Context, string, []byte) error { return nil }

func (Nop) Close() error { return nil }

// Key normalizes req: names are trimmed and lowercased, countries are
// uppercased, deduplicated and sorted.
func Key(req pipeline.Request) string {
	countries := make([]string, 0, len(req.TargetCountries))
	for _, c := range req.TargetCountries {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			countries = append(countries, c)
		}
	}
	slices.Sort(countries)
	countries = slices.Compact(countries)

	raw := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(req.MoleculeName)),
		strings.ToLower(strings.TrimSpace(req.BrandName)),
		strings.Join(countries, ","),
	}, "|")

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Load returns the cached result for req or ErrCacheMiss.
func Load(ctx context.Context, c Cache, req pipeline.Request) (*pipeline.Result, error) {
	raw, err := c.Get(ctx, Key(req))
	if err != nil {
		return nil, err
	}

	var res pipeline.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}

	return &res, nil
}

// Store caches complete runs only. Empty, truncated and partially failed
// runs are left out so a degraded source is retried on the next request.
func Store(ctx context.Context, c Cache, req pipeline.Request, res *pipeline.Result) error {
	if res == nil || res.Status != pipeline.StatusOK {
		return nil
	}

	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	return c.Set(ctx, Key(req), raw)
}

var (
	_ Cache = (*Redis)(nil)
	_ Cache = Nop{}
)
