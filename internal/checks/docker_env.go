package checks

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"predeploy/internal/engine"
	"predeploy/internal/model"
	"predeploy/internal/scan"
	"predeploy/internal/snapshot"
	"predeploy/internal/workflow"
)

func (c *compiled) dockerEnvRules() []engine.Rule {
	return []engine.Rule{
		{
			ID:          "dockerfile-secret-args",
			Name:        "Dockerfile build secrets",
			Category:    engine.CategorySecret,
			Description: "Secrets are never declared as build ARG or baked in with ENV.",
			Run:         c.dockerfileSecretArgs,
		},
		{
			ID:          "public-env-names",
			Name:        "Public env var names",
			Category:    engine.CategorySecret,
			Description: "Browser-bundled env vars never carry secret-looking names.",
			Run:         c.publicEnvNames,
		},
		{
			ID:          "supabase-url-consistency",
			Name:        "Supabase URL secret consistency",
			Category:    engine.CategoryConsistency,
			Description: "Server and browser Supabase URLs come from the same CI secret.",
			Run:         c.supabaseURLConsistency,
		},
		{
			ID:          "compose-env-coverage",
			Name:        "Compose env documentation",
			Category:    engine.CategoryConsistency,
			Description: "Every variable the compose file references is documented in .env.example.",
			Run:         c.composeEnvCoverage,
		},
	}
}

func (c *compiled) dockerfileSecretArgs(_ context.Context, env engine.Env) []model.Finding {
	files := []snapshot.File{fileRef(c.Dockerfile)}
	var labels []string
	var hits []model.Hit
	for _, v := range c.DockerSecretVars {
		name := regexp.QuoteMeta(v)
		checks := []struct {
			re    *regexp.Regexp
			label string
		}{
			{regexp.MustCompile(`^\s*(?i:ARG)\s+` + name + `\b`), v + " as ARG"},
			{regexp.MustCompile(`^\s*(?i:ENV)\s+` + name + `(=|\s)`), v + " baked via ENV"},
		}
		for _, check := range checks {
			found := env.Scanner.Scan(files, scan.Query{Match: check.re})
			if len(found) == 0 {
				continue
			}
			labels = append(labels, check.label)
			hits = append(hits, found...)
		}
	}
	if len(labels) == 0 {
		return engine.One(engine.Pass("Dockerfile does not bake secrets as ARG/ENV"))
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Line < hits[j].Line })
	f := engine.Fail("Dockerfile bakes secret(s) as build ARG/ENV: "+strings.Join(labels, ", "), hits...)
	return engine.One(withDetail(f, "Use --mount=type=secret,id=... (BuildKit) for secrets at build time."))
}

func (c *compiled) publicEnvNames(_ context.Context, env engine.Env) []model.Finding {
	prefix := c.PublicEnvPrefix
	names := regexp.MustCompile(regexp.QuoteMeta(prefix) + `\w+`)
	q := scan.Query{
		Match:   names,
		Require: []*regexp.Regexp{c.publicDanger},
		// Only the variable names are judged, not the rest of the line.
		Normalize: func(line string) string {
			return strings.Join(names.FindAllString(line, -1), " ")
		},
	}
	hits := env.Scanner.Scan(env.Snapshot.List(snapshot.RoleSource), q)
	if len(hits) == 0 {
		return engine.One(engine.Pass(fmt.Sprintf("No %s variable names resemble secrets", prefix)))
	}
	f := engine.Fail(fmt.Sprintf("%s variable name(s) look like secrets (%d hits)", prefix, len(hits)), hits...)
	return engine.One(withDetail(f, prefix+" vars are visible in the browser bundle. Never use them for secrets."))
}

func (c *compiled) supabaseURLConsistency(_ context.Context, env engine.Env) []model.Finding {
	doc, raw, _ := c.ciDocument(env)
	server, serverHits := c.secretsFor(doc, raw, c.ServerURLVar)
	public, publicHits := c.secretsFor(doc, raw, c.PublicURLVar)
	if len(server) == 0 || len(public) == 0 {
		return engine.One(engine.Warn(fmt.Sprintf("Could not verify %s consistency in %s", c.ServerURLVar, base(c.CIWorkflow))))
	}
	if equalSets(server, public) {
		return engine.One(engine.Pass(fmt.Sprintf("%s and %s use the same CI secret", c.ServerURLVar, c.PublicURLVar)))
	}
	width := len(c.PublicURLVar)
	if len(c.ServerURLVar) > width {
		width = len(c.ServerURLVar)
	}
	detail := fmt.Sprintf("%-*s -> %s\n%-*s -> %s\nA mismatch means server and browser clients hit different endpoints.",
		width, c.ServerURLVar, strings.Join(server, ", "),
		width, c.PublicURLVar, strings.Join(public, ", "))
	f := engine.Warn(fmt.Sprintf("%s and %s map to different CI secrets", c.ServerURLVar, c.PublicURLVar), append(serverHits, publicHits...)...)
	return engine.One(withDetail(f, detail))
}

// secretsFor returns the sorted CI secrets assigned to key.
func (c *compiled) secretsFor(doc *workflow.Document, raw, key string) ([]string, []model.Hit) {
	set := make(map[string]struct{})
	var hits []model.Hit
	if doc != nil {
		for _, a := range doc.Assignments(key) {
			if name, ok := workflow.SecretName(a.Value); ok {
				set[name] = struct{}{}
				hits = append(hits, model.Hit{File: c.CIWorkflow, Line: a.Line, Text: key + ": " + a.Value})
			}
		}
	} else if raw != "" {
		re := regexp.MustCompile(`(?:^|[^A-Za-z0-9_])` + regexp.QuoteMeta(key) + `:\s*\$\{\{\s*secrets\.([A-Za-z0-9_]+)\s*\}\}`)
		for i, line := range strings.Split(raw, "\n") {
			for _, m := range re.FindAllStringSubmatch(line, -1) {
				set[m[1]] = struct{}{}
				hits = append(hits, model.Hit{File: c.CIWorkflow, Line: i + 1, Text: strings.TrimSpace(line)})
			}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, hits
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var (
	// A run of dollars before the brace; an even count is an escaped literal.
	composeVarRef = regexp.MustCompile(`(\$+)\{([A-Z_][A-Z0-9_]*)[^}]*\}`)
	envDocumented = regexp.MustCompile(`^\s*(?:export\s+)?([A-Z_][A-Z0-9_]*)=`)
)

func (c *compiled) composeEnvCoverage(_ context.Context, env engine.Env) []model.Finding {
	compose := fileRef(c.ComposeFile)
	if !env.Snapshot.Exists(c.ComposeFile) {
		return engine.One(engine.Warn(c.ComposeFile + " not found"))
	}

	firstRef := make(map[string]int)
	for i, line := range env.Snapshot.Lines(compose) {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		for _, m := range composeVarRef.FindAllStringSubmatch(line, -1) {
			if len(m[1])%2 == 0 {
				continue
			}
			if _, seen := firstRef[m[2]]; !seen {
				firstRef[m[2]] = i + 1
			}
		}
	}

	documented := make(map[string]struct{})
	exampleFile := ""
	for _, candidate := range c.EnvExampleFiles {
		if env.Snapshot.Exists(candidate) {
			exampleFile = candidate
			break
		}
	}
	if exampleFile != "" {
		for _, line := range env.Snapshot.Lines(fileRef(exampleFile)) {
			if m := envDocumented.FindStringSubmatch(line); m != nil {
				documented[m[1]] = struct{}{}
			}
		}
	}
	ignored := make(map[string]struct{}, len(c.EnvIgnoredVars))
	for _, v := range c.EnvIgnoredVars {
		ignored[v] = struct{}{}
	}

	var missing []string
	for name := range firstRef {
		if _, ok := documented[name]; ok {
			continue
		}
		if _, ok := ignored[name]; ok {
			continue
		}
		missing = append(missing, name)
	}
	sort.Strings(missing)

	hits := make([]model.Hit, 0, len(missing))
	for _, name := range missing {
		hits = append(hits, model.Hit{File: c.ComposeFile, Line: firstRef[name], Text: name})
	}
	hits = env.Scanner.Filter(hits)
	if len(hits) == 0 {
		return engine.One(engine.Pass(base(c.ComposeFile) + " vars are all documented in .env.example"))
	}
	f := limited(engine.Warn(fmt.Sprintf("%d docker-compose var(s) not in .env.example", len(hits)), hits...), c.EnvMissingLimit)
	if exampleFile == "" {
		f.Detail = "No .env.example found at " + strings.Join(c.EnvExampleFiles, " or ")
	}
	return engine.One(f)
}
