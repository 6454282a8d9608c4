/*
Package log provides structured logging for the core using zerolog.

It wraps zerolog to give every layer of the system — the entity log, the
cache, the repository lock, and the service facade — JSON or console
structured logging through a single global Logger, with component-specific
child loggers for filtering by subsystem.

# Usage

Initializing the logger, typically once in a CLI or MCP entrypoint's main:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers carry a "component" field through every subsequent call:

	entLog := log.WithComponent("entitylog")
	entLog.Info().Str("entity_id", entityId.String()).Msg("pack admitted")

WithEntity, WithReplica, and WithOperation add the field names those three
identifiers use consistently across the core, so a log aggregation query
like `entity_id:"..."` finds every line touching one entity regardless of
which package emitted it.

# Log levels

Debug is for replay and cache internals during development; Info is the
default production level (pack admission, conflict resolution); Warn covers
degraded-but-recovered conditions (a cache failure falling back to direct
log traversal, a dropped out-of-order comment update); Error covers failed
writes. Fatal is reserved for unrecoverable startup failures.

# Output formats

JSON (production):

	{"level":"info","component":"entitylog","entity_id":"...","time":"...","message":"pack admitted"}

Console (development):

	2006-01-02T15:04:05Z INF pack admitted component=entitylog entity_id=...
*/
package log
