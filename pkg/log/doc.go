/*
Package log provides structured logging for ringtopo using zerolog.

It wraps the zerolog library with a single global logger, component-scoped
child loggers, and helper functions for the fields that show up on nearly
every log line emitted by the coordinator and applier: component and node
id. Call sites add topology_version and request_id fields inline with
zerolog's own Str/Uint64 chaining, since those values are almost always
logged alongside other per-call fields (node id, tstate) that a fixed
child-logger helper can't anticipate.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - zerolog instance, initialized via Init() │          │
	│  │  - safe for concurrent use                  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("coordinator")             │          │
	│  │  - WithNodeID("node-abc123")                │          │
	│  └──────────────────────────────────────────────┘        │
	└────────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("coordinator").With().Logger()
	logger.Info().Str("node_id", string(id)).Msg("starting join")

A fatal invariant violation in the applier is logged with log.Fatal, which
terminates the process the same way a panic in consensus-replicated state
would: the log itself is never left holding an entry nobody can explain.
*/
package log
