// Package log provides the process-wide structured logger shared by every
// component of the core: the entity log, the cache, the repository lock, and
// the service facade all log through child loggers derived from Logger.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. It starts as a usable default (a
// plain JSON writer to stdout, with no level of its own) so a package that logs before
// any entrypoint calls Init still produces output rather than silently
// discarding it.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Level names the verbosity tiers forgeline distinguishes. See the package
// doc comment for how each is used across the core.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// zerologLevel resolves l through zerolog's own parser rather than a
// hand-maintained switch, falling back to info for an unset or unrecognized
// value.
func (l Level) zerologLevel() zerolog.Level {
	if l == "" {
		return zerolog.InfoLevel
	}
	parsed, err := zerolog.ParseLevel(string(l))
	if err != nil {
		return zerolog.InfoLevel
	}
	return parsed
}

// Config selects the base logger's verbosity and wire format.
type Config struct {
	Level Level
	// JSONOutput selects structured JSON records over zerolog's
	// human-readable console writer.
	JSONOutput bool
	// Output defaults to os.Stdout when left nil.
	Output io.Writer
}

// Init replaces the process-wide Logger per cfg. Entrypoints call this once,
// before any component derives a child logger from it.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(cfg.Level.zerologLevel())
	Logger = zerolog.New(writerFor(cfg)).With().Timestamp().Logger()
}

// writerFor picks cfg's destination writer, wrapping it in zerolog's console
// formatter unless JSON was requested.
func writerFor(cfg Config) io.Writer {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.JSONOutput {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

// field returns a child of Logger carrying one extra string field. Every
// WithX helper below is a thin specialization of this.
func field(key, value string) zerolog.Logger {
	return Logger.With().Str(key, value).Logger()
}

// WithComponent scopes a child logger to one subsystem: entitylog, cache,
// repolock, service, and so on.
func WithComponent(component string) zerolog.Logger {
	return field("component", component)
}

// WithEntity scopes a child logger to one entity. Every package that touches
// an entity tags its lines this way, so a query on entity_id finds the full
// history of an operation regardless of which layer logged it.
func WithEntity(entityID string) zerolog.Logger {
	return field("entity_id", entityID)
}

// WithReplica scopes a child logger to one replica identity.
func WithReplica(replicaID string) zerolog.Logger {
	return field("replica_id", replicaID)
}

// WithOperation scopes a child logger to one operation id.
func WithOperation(operationID string) zerolog.Logger {
	return field("operation_id", operationID)
}
