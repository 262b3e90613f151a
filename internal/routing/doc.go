// Package routing implements the regex route table that selects a
// backend for each inbound request path.
//
// Every route pairs a source pattern with a target. Patterns are
// matched against the request path with a leading slash prepended and
// are anchored at the start only, so a pattern may match a strict
// prefix of the path. Targets are either a static backend base URL or
// a marker for dynamic resolution through the registrar.
//
// # Match Semantics
//
// The route whose source is exactly "/.*" is the catch-all and is set
// aside during matching. Among the remaining specific routes:
//
//   - exactly one match selects that route, regardless of the
//     catch-all
//   - no match falls back to the catch-all when one is configured
//   - no match and no catch-all is a not-found condition
//   - two or more matches indicate a configuration defect and fail as
//     ambiguous, naming every contender
//
// The table is immutable once built; it is compiled from configuration
// at startup and shared across requests without locking.
package routing
