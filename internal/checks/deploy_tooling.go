package checks

import (
	"context"
	"strings"

	"predeploy/internal/engine"
	"predeploy/internal/model"
)

// probe is a smoke check the post-deploy verification script is expected to run.
type probe struct {
	name string
	ok   func(content string) bool
}

func anyOf(needles ...string) func(string) bool {
	return func(content string) bool {
		for _, n := range needles {
			if strings.Contains(content, n) {
				return true
			}
		}
		return false
	}
}

func allOf(needles ...string) func(string) bool {
	return func(content string) bool {
		for _, n := range needles {
			if !strings.Contains(content, n) {
				return false
			}
		}
		return true
	}
}

func (c *compiled) probes() []probe {
	return []probe{
		{"Kong placeholder check", anyOf(c.KongKeyVars...)},
		{"REST key-auth probe", allOf("rest/v1", "apikey")},
		{"Health endpoint check", anyOf("/api/health")},
		{"Prometheus check", anyOf("prometheus", "Prometheus")},
		{"Service running check", anyOf("require_service_running", "docker compose ps")},
	}
}

func (c *compiled) deployRules() []engine.Rule {
	return []engine.Rule{
		{
			ID:          "verify-deploy-script",
			Name:        "Post-deploy verification script",
			Category:    engine.CategoryExistence,
			Description: "A post-deploy smoke script exists and probes the gateway, health and monitoring.",
			Run:         c.verifyDeployScript,
		},
		{
			ID:          "ci-smoke-check",
			Name:        "CI smoke-check step",
			Category:    engine.CategoryConsistency,
			Description: "The CI workflow runs the post-deploy smoke check.",
			Run:         c.ciSmokeCheck,
		},
	}
}

func (c *compiled) verifyDeployScript(_ context.Context, env engine.Env) []model.Finding {
	content := env.Snapshot.Read(c.VerifyScript)
	if content == "" {
		return engine.One(engine.Fail(c.VerifyScript + " not found -- no post-deploy smoke checks"))
	}
	var missing []string
	for _, p := range c.probes() {
		if !p.ok(content) {
			missing = append(missing, p.name)
		}
	}
	name := base(c.VerifyScript)
	if len(missing) > 0 {
		return engine.One(engine.Warn(name + " missing probe(s): " + strings.Join(missing, ", ")))
	}
	return engine.One(engine.Pass(name + " has all expected smoke probes"))
}

func (c *compiled) ciSmokeCheck(_ context.Context, env engine.Env) []model.Finding {
	doc, raw, _ := c.ciDocument(env)
	text := raw
	if doc != nil {
		text = doc.Text()
	}
	lower := strings.ToLower(text)
	for _, marker := range c.SmokeMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return engine.One(engine.Pass("CI workflow includes a smoke-check step"))
		}
	}
	return engine.One(engine.Warn("CI workflow may be missing smoke-check step"))
}
