package checks

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"predeploy/internal/engine"
	"predeploy/internal/model"
	"predeploy/internal/workflow"
)

func (c *compiled) gatewayRules() []engine.Rule {
	return []engine.Rule{
		{
			ID:          "kong-placeholders",
			Name:        "Kong template placeholders",
			Category:    engine.CategoryExistence,
			Description: "The committed gateway config keeps its substitution placeholders so the deploy step has something to replace.",
			Run:         c.kongPlaceholders,
		},
		{
			ID:          "ci-kong-sed",
			Name:        "CI Kong key substitution",
			Category:    engine.CategoryExistence,
			Description: "The CI deploy substitutes every gateway key with sed before restarting the gateway.",
			Run:         c.ciKongSed,
		},
		{
			ID:          "ci-kong-recreate",
			Name:        "CI Kong force-recreate",
			Category:    engine.CategoryExistence,
			Description: "The CI deploy force-recreates the db-less gateway so it rereads its declarative config.",
			Run:         c.ciKongRecreate,
		},
		{
			ID:          "kong-key-auth",
			Name:        "Kong key-auth coverage",
			Category:    engine.CategorySecret,
			Description: "The REST and storage services require the key-auth plugin.",
			Run:         c.kongKeyAuth,
		},
	}
}

func (c *compiled) kongPlaceholders(_ context.Context, env engine.Env) []model.Finding {
	content := env.Snapshot.Read(c.KongConfig)
	if content == "" {
		return engine.One(engine.Fail(c.KongConfig + " not found"))
	}
	var missing []string
	for _, placeholder := range c.KongPlaceholders {
		if !strings.Contains(content, placeholder) {
			missing = append(missing, placeholder)
		}
	}
	name := base(c.KongConfig)
	if len(missing) == 0 {
		return engine.One(engine.Pass(name + " contains every placeholder var (template intact)"))
	}
	return engine.One(withDetail(
		engine.Fail(fmt.Sprintf("%s template missing placeholder(s): %s", name, strings.Join(missing, ", "))),
		"The deploy-time sed has nothing to replace, so Kong starts with the\nliteral placeholder string as the key and rejects every request.",
	))
}

// ciDocument parses the CI workflow. ok is false when the file is absent.
func (c *compiled) ciDocument(env engine.Env) (doc *workflow.Document, raw string, ok bool) {
	raw = env.Snapshot.Read(c.CIWorkflow)
	if raw == "" {
		return nil, "", false
	}
	doc, err := workflow.Parse(raw)
	if err != nil {
		env.Logger.Debugw("ci workflow not parseable, using raw text", "file", c.CIWorkflow, "error", err)
		return nil, raw, true
	}
	return doc, raw, true
}

func sedPattern(v string) *regexp.Regexp {
	return regexp.MustCompile(`s[|/#].*` + regexp.QuoteMeta(v) + `.*[|/#]`)
}

func (c *compiled) ciKongSed(_ context.Context, env engine.Env) []model.Finding {
	doc, raw, ok := c.ciDocument(env)
	if !ok {
		return engine.One(engine.Warn(base(c.CIWorkflow) + " not found -- skipping Kong sed check"))
	}
	var missing []string
	for _, v := range c.KongKeyVars {
		re := sedPattern(v)
		found := false
		if doc != nil {
			for _, cmd := range doc.Commands() {
				if cmd.Name() == "sed" && re.MatchString(cmd.String()) {
					found = true
					break
				}
			}
		} else {
			found = re.MatchString(raw)
		}
		if !found {
			missing = append(missing, v)
		}
	}
	if len(missing) == 0 {
		return engine.One(engine.Pass("CI deploy sed-substitutes every Kong key"))
	}
	return engine.One(withDetail(
		engine.Fail("CI deploy missing sed for: "+strings.Join(missing, ", ")),
		"The deploy script must substitute all keys before restarting Kong,\notherwise key-auth rejects all Supabase REST/storage requests.",
	))
}

func (c *compiled) ciKongRecreate(_ context.Context, env engine.Env) []model.Finding {
	doc, raw, ok := c.ciDocument(env)
	if !ok {
		return engine.One(engine.Warn(base(c.CIWorkflow) + " not found -- skipping Kong force-recreate check"))
	}
	found := false
	if doc != nil {
		for _, cmd := range doc.Commands() {
			if recreates(cmd.Args, c.KongService) {
				found = true
				break
			}
		}
	} else {
		found = regexp.MustCompile(`--force-recreate\s+` + regexp.QuoteMeta(c.KongService) + `\b`).MatchString(raw)
	}
	if found {
		return engine.One(engine.Pass("CI force-recreates Kong after key substitution"))
	}
	return engine.One(withDetail(
		engine.Fail("CI does not --force-recreate "+c.KongService),
		"Kong in db-less mode reads its declarative config at startup only.\nWithout force-recreate, old or placeholder key-auth creds stay active.",
	))
}

// recreates reports whether args force-recreate the named service.
func recreates(args []string, service string) bool {
	for i, a := range args {
		if a != "--force-recreate" {
			continue
		}
		for _, rest := range args[i+1:] {
			if rest == service {
				return true
			}
		}
	}
	return false
}

type kongConfig struct {
	Plugins  []kongPlugin  `yaml:"plugins"`
	Services []kongService `yaml:"services"`
}

type kongService struct {
	Name    string       `yaml:"name"`
	Routes  []kongRoute  `yaml:"routes"`
	Plugins []kongPlugin `yaml:"plugins"`
}

type kongRoute struct {
	Name    string       `yaml:"name"`
	Plugins []kongPlugin `yaml:"plugins"`
}

type kongPlugin struct {
	Name    string `yaml:"name"`
	Service string `yaml:"service"`
	Route   string `yaml:"route"`
}

func hasKeyAuth(plugins []kongPlugin) bool {
	for _, p := range plugins {
		if p.Name == "key-auth" {
			return true
		}
	}
	return false
}

// keyAuthCovers reports whether a service is protected by a global, service or per-route plugin.
func (k kongConfig) keyAuthCovers(svc kongService) bool {
	for _, p := range k.Plugins {
		if p.Name != "key-auth" {
			continue
		}
		if (p.Service == "" && p.Route == "") || p.Service == svc.Name {
			return true
		}
	}
	if hasKeyAuth(svc.Plugins) {
		return true
	}
	if len(svc.Routes) == 0 {
		return false
	}
	for _, r := range svc.Routes {
		if !hasKeyAuth(r.Plugins) {
			return false
		}
	}
	return true
}

func (c *compiled) kongKeyAuth(_ context.Context, env engine.Env) []model.Finding {
	content := env.Snapshot.Read(c.KongConfig)
	name := base(c.KongConfig)
	if content == "" {
		return engine.One(engine.Warn(name + " not found -- skipping key-auth check"))
	}
	var cfg kongConfig
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return engine.One(withDetail(engine.Warn(name+" could not be parsed -- skipping key-auth check"), err.Error()))
	}

	lines := env.Snapshot.Lines(fileRef(c.KongConfig))
	var issues []string
	var hits []model.Hit
	var absent []string
	for _, want := range c.KeyAuthServices {
		idx := -1
		for i, svc := range cfg.Services {
			if svc.Name == want {
				idx = i
				break
			}
		}
		if idx < 0 {
			absent = append(absent, want)
			continue
		}
		if !cfg.keyAuthCovers(cfg.Services[idx]) {
			issues = append(issues, want+" missing key-auth plugin")
			hits = append(hits, model.Hit{File: c.KongConfig, Line: lineOf(lines, "name: "+want), Text: "service " + want})
		}
	}
	hits = env.Scanner.Filter(hits)
	switch {
	case len(hits) > 0:
		f := engine.Fail("Kong route(s) missing key-auth: "+strings.Join(issues, "; "), hits...)
		return engine.One(withDetail(f, "Without key-auth the routes are publicly accessible without an API key."))
	case len(absent) > 0:
		return engine.One(engine.Warn(fmt.Sprintf("Kong service(s) not declared in %s: %s", name, strings.Join(absent, ", "))))
	default:
		return engine.One(engine.Pass("Kong " + strings.Join(c.KeyAuthServices, " and ") + " have key-auth plugin"))
	}
}
