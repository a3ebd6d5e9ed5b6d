package checks

import (
	"path"
	"strings"

	"predeploy/internal/engine"
	"predeploy/internal/model"
	"predeploy/internal/snapshot"
)

// Section titles in report order.
const (
	SectionGateway     = "Kong / API Gateway"
	SectionDockerEnv   = "Docker & Environment Variables"
	SectionRuntime     = "Runtime Config & Client Safety"
	SectionCodeQuality = "Code Quality & Anti-Patterns"
	SectionRedirects   = "Redirect Safety"
	SectionAPIRoutes   = "API Route Security"
	SectionDeploy      = "Deploy Tooling"
)

// Register adds the built-in rule set to reg in report order.
func Register(reg *engine.Registry, cat Catalog) error {
	c, err := cat.compile()
	if err != nil {
		return err
	}
	sections := []struct {
		title string
		rules []engine.Rule
	}{
		{SectionGateway, c.gatewayRules()},
		{SectionDockerEnv, c.dockerEnvRules()},
		{SectionRuntime, c.runtimeRules()},
		{SectionCodeQuality, c.codeQualityRules()},
		{SectionRedirects, c.redirectRules()},
		{SectionAPIRoutes, c.apiRouteRules()},
		{SectionDeploy, c.deployRules()},
	}
	for _, s := range sections {
		if err := reg.Add(s.title, s.rules...); err != nil {
			return err
		}
	}
	return nil
}

func base(rel string) string {
	return path.Base(rel)
}

func withDetail(f model.Finding, detail string) model.Finding {
	f.Detail = detail
	return f
}

func limited(f model.Finding, n int) model.Finding {
	f.MaxHits = n
	return f
}

func fileRef(rel string) snapshot.File {
	return snapshot.File{Rel: rel}
}

// lineOf returns the 1-indexed line of the first line containing needle, or 0.
func lineOf(lines []string, needle string) int {
	for i, line := range lines {
		if strings.Contains(line, needle) {
			return i + 1
		}
	}
	return 0
}
