// Package config loads the service configuration from config.yaml and
// environment variables and validates it before anything is started.
package config
