package checks

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"predeploy/internal/engine"
	"predeploy/internal/model"
	"predeploy/internal/snapshot"
)

var (
	routeHandler = regexp.MustCompile(`(?m)^export\s+async\s+function\s+(GET|POST|PUT|DELETE|PATCH)\b`)
	tryBlock     = regexp.MustCompile(`\btry\s*\{`)
	catchClause  = regexp.MustCompile(`\bcatch\s*[\({]`)
	bareThrow    = regexp.MustCompile(`^\s{0,8}throw\s+`)
)

func (c *compiled) apiRouteRules() []engine.Rule {
	return []engine.Rule{
		{
			ID:          "api-route-auth",
			Name:        "API route auth guards",
			Category:    engine.CategoryHeuristic,
			Description: "Non-public API route handlers authenticate before acting.",
			Run:         c.apiRouteAuth,
		},
		{
			ID:          "critical-endpoint-errors",
			Name:        "Critical endpoint error handling",
			Category:    engine.CategoryHeuristic,
			Description: "Consent, health and vault routes catch errors instead of throwing a bare 500.",
			Run:         c.criticalEndpointErrors,
		},
	}
}

// apiBase is the static directory prefix of the API route convention.
func (c *compiled) apiBase() string {
	pattern := c.Layout.APIRoutes
	if i := strings.IndexAny(pattern, "*?[{"); i >= 0 {
		pattern = pattern[:i]
	} else {
		pattern = path.Dir(pattern)
	}
	return strings.TrimSuffix(pattern, "/")
}

func (c *compiled) isPublicRoute(route string) bool {
	for _, prefix := range c.PublicRoutes {
		if prefix != "" && strings.HasPrefix(route, prefix) {
			return true
		}
	}
	return false
}

func (c *compiled) apiRouteAuth(_ context.Context, env engine.Env) []model.Finding {
	apiDir := c.apiBase()
	if !env.Snapshot.DirExists(apiDir) {
		return engine.One(engine.Warn("No " + apiDir + " directory found"))
	}
	var hits []model.Hit
	for _, f := range env.Snapshot.List(snapshot.RoleAPIRoute) {
		route := strings.TrimPrefix(path.Dir(f.Rel), apiDir+"/")
		if c.isPublicRoute(route) {
			continue
		}
		content := env.Snapshot.Content(f)
		if !routeHandler.MatchString(content) {
			continue
		}
		if c.hasAuthSignal(content) {
			continue
		}
		hits = append(hits, model.Hit{File: f.Rel})
	}
	hits = env.Scanner.Filter(hits)
	if len(hits) == 0 {
		return engine.One(engine.Pass("All checked API routes appear to have an auth guard"))
	}
	return engine.One(limited(engine.Warn(fmt.Sprintf("%d API route(s) may lack auth guard", len(hits)), hits...), 12))
}

func (c *compiled) hasAuthSignal(content string) bool {
	for _, sig := range c.AuthSignals {
		if sig != "" && strings.Contains(content, sig) {
			return true
		}
	}
	return false
}

func (c *compiled) criticalEndpointErrors(_ context.Context, env engine.Env) []model.Finding {
	var hits []model.Hit
	var names []string
	for _, dir := range c.CriticalRouteDirs {
		dir = strings.TrimSuffix(dir, "/")
		names = append(names, path.Base(dir))
		for _, f := range env.Snapshot.Glob(dir + "/**/route.ts") {
			if env.Scanner.Excluded(f.Rel) {
				continue
			}
			content := env.Snapshot.Content(f)
			throwLine := 0
			for i, line := range env.Snapshot.Lines(f) {
				if bareThrow.MatchString(line) {
					throwLine = i + 1
					break
				}
			}
			if throwLine == 0 || (tryBlock.MatchString(content) && catchClause.MatchString(content)) {
				continue
			}
			hits = append(hits, model.Hit{File: f.Rel, Line: throwLine, Text: "bare throw without try/catch"})
		}
	}
	hits = env.Scanner.Filter(hits)
	if len(hits) == 0 {
		return engine.One(engine.Pass(fmt.Sprintf("Critical endpoints (%s) have error handling", strings.Join(names, "/"))))
	}
	return engine.One(withDetail(
		engine.Warn("Critical endpoint(s) may throw unhandled errors", hits...),
		"A bare throw surfaces as a 500, which can trigger client-side redirect loops.",
	))
}
