package routing

import (
	"fmt"
	"regexp"

	"github.com/os-climate/osc-dm-proxy-srv/internal/config"
	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
	"github.com/os-climate/osc-dm-proxy-srv/internal/util"
)

// TargetKind discriminates the two kinds of route targets.
type TargetKind int

const (
	// TargetStatic forwards to a configured backend base URL.
	TargetStatic TargetKind = iota

	// TargetDynamic resolves the backend address through the
	// registrar using the product UUID embedded in the path.
	TargetDynamic
)

// String returns the kind name.
func (k TargetKind) String() string {
	switch k {
	case TargetStatic:
		return "static"
	case TargetDynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Target is the destination of a route. URL is set only for static
// targets; dynamic targets carry no address until resolved.
type Target struct {
	Kind TargetKind
	URL  string
}

// StaticTarget creates a static target for the given base URL.
func StaticTarget(url string) Target {
	return Target{Kind: TargetStatic, URL: url}
}

// DynamicTarget creates a dynamic target.
func DynamicTarget() Target {
	return Target{Kind: TargetDynamic}
}

// Route is one compiled route table entry.
type Route struct {
	Source   string
	Target   Target
	pattern  *regexp.Regexp
	catchAll bool
}

// Matches reports whether the route's pattern matches the given
// slash-prefixed path. Patterns are anchored at the start of the path
// only; a pattern may match a strict prefix.
func (r *Route) Matches(path string) bool {
	return r.pattern.MatchString(path)
}

// IsCatchAll reports whether this is the catch-all route.
func (r *Route) IsCatchAll() bool {
	return r.catchAll
}

// Table is an immutable compiled route table. Specific routes keep
// their configured order; the catch-all is held apart and consulted
// only when no specific route matches.
type Table struct {
	specific []*Route
	catchAll *Route
	logger   observability.Logger
}

// New compiles the configured routes into a table. When several
// catch-all entries are configured, the last one wins.
func New(routes []config.RouteConfig, logger observability.Logger) (*Table, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	table := &Table{logger: logger}

	for i, rc := range routes {
		// Anchor at the start of the path; the configured pattern
		// may still match a strict prefix.
		pattern, err := regexp.Compile("^(?:" + rc.Source + ")")
		if err != nil {
			return nil, util.NewConfigErrorWithCause(
				fmt.Sprintf("routes[%d].source", i), "invalid pattern", err)
		}

		route := &Route{
			Source:   rc.Source,
			pattern:  pattern,
			catchAll: rc.CatchAll(),
		}
		if rc.Dynamic() {
			route.Target = DynamicTarget()
		} else {
			route.Target = StaticTarget(rc.Target)
		}

		if route.catchAll {
			table.catchAll = route
			continue
		}
		table.specific = append(table.specific, route)
	}

	return table, nil
}

// Match selects the unique route for the given request path. The path
// is matched with a leading slash prepended. Exactly one matching
// specific route wins; with none, the catch-all is used when present.
// No match at all yields a not-found error, and more than one specific
// match is reported as ambiguous with every contender named.
func (t *Table) Match(path string) (*Route, error) {
	slashed := "/" + path

	var matches []*Route
	for _, route := range t.specific {
		if route.Matches(slashed) {
			matches = append(matches, route)
		}
	}

	switch {
	case len(matches) == 1:
		return matches[0], nil

	case len(matches) == 0 && t.catchAll != nil:
		return t.catchAll, nil

	case len(matches) == 0:
		return nil, util.NewRouteNotFoundError(path)

	default:
		sources := make([]string, len(matches))
		for i, route := range matches {
			sources[i] = route.Source
			t.logger.Error("ambiguous route match",
				observability.String("path", path),
				observability.String("source", route.Source),
				observability.String("targetKind", route.Target.Kind.String()))
		}
		return nil, util.NewAmbiguousRouteError(path, sources)
	}
}

// CatchAll returns the catch-all route, or nil when none is
// configured.
func (t *Table) CatchAll() *Route {
	return t.catchAll
}

// Routes returns every route in the table, specific routes first in
// their configured order, then the catch-all when present.
func (t *Table) Routes() []*Route {
	routes := make([]*Route, 0, len(t.specific)+1)
	routes = append(routes, t.specific...)
	if t.catchAll != nil {
		routes = append(routes, t.catchAll)
	}
	return routes
}

// Len returns the number of routes in the table, including the
// catch-all.
func (t *Table) Len() int {
	n := len(t.specific)
	if t.catchAll != nil {
		n++
	}
	return n
}
