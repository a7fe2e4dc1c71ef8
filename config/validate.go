package config

import (
	"net"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Pipeline, validation.By(func(value interface{}) error {
			pc, ok := value.(PipelineConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a PipelineConfig")
			}
			return validation.ValidateStruct(&pc,
				validation.Field(&pc.Target, validation.Required),
				validation.Field(&pc.MaxQueries, validation.Required, validation.Min(1)),
				validation.Field(&pc.ExpansionCap, validation.Required, validation.Min(1)),
				validation.Field(&pc.MaxResultsPerQuery, validation.Required, validation.Min(1)),
				validation.Field(&pc.Deadline, validation.By(validateOptionalDuration)),
				validation.Field(&pc.MaxConcurrentRuns, validation.Required, validation.Min(1)),
				validation.Field(&pc.DefaultCountries, validation.Each(is.CountryCode2)),
			)
		})),
		validation.Field(&c.CircuitBreaker, validation.By(func(value interface{}) error {
			cb, ok := value.(CircuitBreakerConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
			}
			return validation.ValidateStruct(&cb,
				validation.Field(&cb.Threshold, validation.Required, validation.Min(1)),
				validation.Field(&cb.Cooldown, validation.Required, validation.By(validateDuration)),
			)
		})),
		validation.Field(&c.HealthCheck, validation.By(func(value interface{}) error {
			hc, ok := value.(HealthCheckConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
			}
			return validation.ValidateStruct(&hc,
				validation.Field(&hc.Interval, validation.Required, validation.By(validateDuration)),
			)
		})),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
			validation.By(func(interface{}) error { return c.validateBackendNames() }),
		),
		validation.Field(&c.Targets, validation.Required),
		validation.Field(&c.Pacing, validation.By(func(value interface{}) error {
			pc, ok := value.(PacingConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a PacingConfig")
			}
			for _, b := range pc.Sites {
				if err := validateBounds(b); err != nil {
					return err
				}
			}
			return nil
		})),
		validation.Field(&c.Intelligence, validation.By(func(value interface{}) error {
			ic, ok := value.(IntelligenceConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be an IntelligenceConfig")
			}
			return validation.ValidateStruct(&ic,
				validation.Field(&ic.BaseURL, validation.By(validateOptionalURL)),
				validation.Field(&ic.Timeout, validation.By(validateOptionalDuration)),
			)
		})),
		validation.Field(&c.DirectSearch, validation.By(func(value interface{}) error {
			dc, ok := value.(DirectSearchConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a DirectSearchConfig")
			}
			return validation.ValidateStruct(&dc,
				validation.Field(&dc.URL, validation.By(validateOptionalURL)),
				validation.Field(&dc.Timeout, validation.By(validateOptionalDuration)),
				validation.Field(&dc.Cooldown, validation.By(validateOptionalDuration)),
				validation.Field(&dc.Threshold, validation.Min(0)),
				validation.Field(&dc.Country, validation.When(dc.Country != "", is.CountryCode2)),
			)
		})),
		validation.Field(&c.Cache, validation.By(func(value interface{}) error {
			cc, ok := value.(CacheConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a CacheConfig")
			}
			return validation.ValidateStruct(&cc,
				validation.Field(&cc.Address, validation.When(cc.Enabled, validation.Required, validation.By(validateHostPort))),
				validation.Field(&cc.TTL, validation.By(validateOptionalDuration)),
				validation.Field(&cc.DB, validation.Min(0)),
			)
		})),
		validation.Field(&c.RunStore, validation.By(func(value interface{}) error {
			rc, ok := value.(RunStoreConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a RunStoreConfig")
			}
			return validation.ValidateStruct(&rc,
				validation.Field(&rc.DSN, validation.When(rc.Enabled, validation.Required)),
				validation.Field(&rc.MaxConns, validation.Min(0)),
			)
		})),
	)
	if err != nil {
		return err
	}

	return c.validateTargets()
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateOptionalDuration(value interface{}) error {
	if s, ok := value.(string); ok && s == "" {
		return nil
	}
	return validateDuration(value)
}

func validateOptionalURL(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if raw == "" {
		return nil
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" && parsedURL.Scheme != "ws" {
		return validation.NewError("validation_invalid_scheme", "URL must use http, https or ws scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validateBounds(b SiteBounds) error {
	if err := validateDuration(b.Min); err != nil {
		return err
	}
	if err := validateDuration(b.Max); err != nil {
		return err
	}

	minDelay, _ := time.ParseDuration(b.Min)
	maxDelay, _ := time.ParseDuration(b.Max)
	if minDelay > maxDelay {
		return validation.NewError("validation_invalid_bounds", "min delay must not exceed max delay")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	return validation.ValidateStruct(&backend,
		validation.Field(&backend.Name, validation.Required),
		validation.Field(&backend.Kind, validation.Required, validation.In(KindBrowser, KindLightweight)),
		validation.Field(&backend.Variant,
			validation.When(backend.Kind == KindBrowser, validation.In(VariantPrimary, VariantSecondary)),
		),
		validation.Field(&backend.Tier, validation.Required, validation.Min(1)),
		validation.Field(&backend.Timeout, validation.By(validateOptionalDuration)),
		validation.Field(&backend.Cooldown, validation.By(validateOptionalDuration)),
		validation.Field(&backend.MaxSessionAge, validation.By(validateOptionalDuration)),
		validation.Field(&backend.Retries, validation.Min(0)),
		validation.Field(&backend.SearchURL, validation.By(validateOptionalURL)),
		validation.Field(&backend.WIPOURL, validation.By(validateOptionalURL)),
		validation.Field(&backend.RemoteURL, validation.By(validateOptionalURL)),
	)
}
