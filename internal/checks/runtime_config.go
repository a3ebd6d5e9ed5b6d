package checks

import (
	"context"
	"fmt"
	"strings"

	"predeploy/internal/engine"
	"predeploy/internal/model"
)

func (c *compiled) runtimeRules() []engine.Rule {
	return []engine.Rule{
		{
			ID:          "runtime-config-injection",
			Name:        "Runtime public config injection",
			Category:    engine.CategoryExistence,
			Description: "The root layout injects the runtime public config object for the browser.",
			Run:         c.runtimeConfigInjection,
		},
		{
			ID:          "browser-runtime-config",
			Name:        "Browser client runtime config",
			Category:    engine.CategoryConsistency,
			Description: "The browser Supabase client prefers runtime config over build-time values.",
			Run:         c.browserRuntimeConfig,
		},
		{
			ID:          "client-server-envs",
			Name:        "Server-only env vars in client files",
			Category:    engine.CategorySecret,
			Description: "Client-executed files never reference server-only secrets.",
			Run:         c.clientServerEnvs,
		},
		{
			ID:          "encryption-key-early-validation",
			Name:        "Eager encryption key validation",
			Category:    engine.CategoryConsistency,
			Description: "The encryption key is validated lazily, not in middleware-wide env validation.",
			Run:         c.encryptionKeyEarlyValidation,
		},
	}
}

func (c *compiled) runtimeConfigInjection(_ context.Context, env engine.Env) []model.Finding {
	name := base(c.LayoutFile)
	if strings.Contains(env.Snapshot.Read(c.LayoutFile), c.RuntimeConfigMarker) {
		return engine.One(engine.Pass(name + " injects runtime public config"))
	}
	f := engine.Fail(fmt.Sprintf("%s missing window.%s injection", name, c.RuntimeConfigMarker))
	return engine.One(withDetail(f, "The browser Supabase client falls back to the build-time "+c.PublicURLVar+".\nRotating keys or changing the URL then requires a full Docker rebuild."))
}

func (c *compiled) browserRuntimeConfig(_ context.Context, env engine.Env) []model.Finding {
	content := env.Snapshot.Read(c.BrowserClientFile)
	markers := append([]string{c.RuntimeConfigMarker}, c.RuntimeConfigAliases...)
	for _, m := range markers {
		if m != "" && strings.Contains(content, m) {
			return engine.One(engine.Pass("Browser Supabase client reads runtime config first"))
		}
	}
	f := engine.Warn("Browser Supabase client may not read runtime config")
	return engine.One(withDetail(f, fmt.Sprintf("%s should prefer window.%s\nover %s so keys can change without a rebuild.",
		c.BrowserClientFile, c.RuntimeConfigMarker, c.PublicURLVar)))
}

func (c *compiled) clientServerEnvs(_ context.Context, env engine.Env) []model.Finding {
	var hits []model.Hit
	for _, f := range env.Snapshot.ClientFiles() {
		if env.Scanner.Excluded(f.Rel) {
			continue
		}
		lines := env.Snapshot.Lines(f)
		for _, v := range c.ServerOnlyVars {
			if line := lineOf(lines, v); line > 0 {
				hits = append(hits, model.Hit{File: f.Rel, Line: line, Text: "References " + v})
			}
		}
	}
	hits = env.Scanner.Filter(hits)
	if len(hits) == 0 {
		return engine.One(engine.Pass("No server-only env vars found in 'use client' files"))
	}
	return engine.One(engine.Fail("'use client' file(s) reference server-only env vars", hits...))
}

func (c *compiled) encryptionKeyEarlyValidation(_ context.Context, env engine.Env) []model.Finding {
	name := base(c.EnvValidationFile)
	if !env.Snapshot.Exists(c.EnvValidationFile) {
		return engine.One(engine.Warn(name + " not found"))
	}
	lines := env.Snapshot.Lines(fileRef(c.EnvValidationFile))
	line := lineOf(lines, c.LazyValidatedVar)
	if line == 0 {
		return engine.One(engine.Pass(c.LazyValidatedVar + " not in global startup validation"))
	}
	hits := env.Scanner.Filter([]model.Hit{{File: c.EnvValidationFile, Line: line, Text: strings.TrimSpace(lines[line-1])}})
	if len(hits) == 0 {
		return engine.One(engine.Pass(c.LazyValidatedVar + " validation in " + name + " acknowledged"))
	}
	f := engine.Warn(fmt.Sprintf("%s is validated in global %s (runs in middleware)", c.LazyValidatedVar, name), hits...)
	return engine.One(withDetail(f, "If the key is absent at middleware boot, ALL requests fail with 500.\nValidate "+c.LazyValidatedVar+" lazily inside the encryption module only."))
}
