package checks

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"predeploy/internal/engine"
	"predeploy/internal/model"
	"predeploy/internal/scan"
	"predeploy/internal/snapshot"
)

var (
	routerNavigate = regexp.MustCompile(`router\.(push|replace)\s*\(`)
	serverRedirect = regexp.MustCompile(`\bredirect\s*\(`)
)

func (c *compiled) redirectRules() []engine.Rule {
	return []engine.Rule{
		{
			ID:          "client-redirect-loop",
			Name:        "Client redirects in effects",
			Category:    engine.CategoryHeuristic,
			Description: "router.push or replace outside user event handlers in components with effects can loop.",
			Run:         c.clientRedirectLoop,
		},
		{
			ID:          "server-page-redirects",
			Name:        "Server pages with several redirects",
			Category:    engine.CategoryHeuristic,
			Description: "Server pages with two or more redirect() calls can bounce when their conditions oscillate.",
			Run:         c.serverPageRedirects,
		},
	}
}

func (c *compiled) clientRedirectLoop(_ context.Context, env engine.Env) []model.Finding {
	var candidates []snapshot.File
	for _, f := range env.Snapshot.ClientFiles() {
		if strings.Contains(env.Snapshot.Content(f), "useEffect") {
			candidates = append(candidates, f)
		}
	}
	q := scan.Query{Match: routerNavigate}
	if c.handlers != nil {
		// User-triggered navigation only fires on interaction.
		q.Safe = []*regexp.Regexp{c.handlers}
	}
	hits := env.Scanner.Scan(candidates, q)
	if len(hits) == 0 {
		return engine.One(engine.Pass("No obvious router.push/replace-in-useEffect patterns found"))
	}
	files := make(map[string]struct{})
	for _, h := range hits {
		files[h.File] = struct{}{}
	}
	f := limited(engine.Warn(fmt.Sprintf("router.push/replace in useEffect body -- %d file(s)", len(files)), hits...), 6)
	return engine.One(withDetail(f, "Verify the deps array prevents an infinite redirect loop."))
}

func (c *compiled) serverPageRedirects(_ context.Context, env engine.Env) []model.Finding {
	var hits []model.Hit
	for _, f := range env.Snapshot.List(snapshot.RolePage) {
		if env.Scanner.Excluded(f.Rel) || env.Snapshot.IsClientExecuted(f) {
			continue
		}
		count := 0
		for _, line := range env.Snapshot.Lines(f) {
			if scan.IsCommentLine(line) {
				continue
			}
			count += len(serverRedirect.FindAllStringIndex(line, -1))
		}
		if count >= 2 {
			hits = append(hits, model.Hit{File: f.Rel, Text: fmt.Sprintf("%d redirect() calls", count)})
		}
	}
	hits = env.Scanner.Filter(hits)
	if len(hits) == 0 {
		return engine.One(engine.Pass("No server pages with suspicious multiple-redirect patterns"))
	}
	f := limited(engine.Warn(fmt.Sprintf("Server page(s) with multiple redirect() calls -- %d file(s)", len(hits)), hits...), 5)
	return engine.One(withDetail(f, "Verify the conditions cannot oscillate and cause a bounce loop."))
}
