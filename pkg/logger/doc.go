// Package logger builds the service's slog logger: JSON in production, text
// elsewhere, always tagged with the environment.
package logger
