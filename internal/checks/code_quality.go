package checks

import (
	"context"
	"fmt"
	"regexp"

	"predeploy/internal/engine"
	"predeploy/internal/model"
	"predeploy/internal/scan"
	"predeploy/internal/snapshot"
)

var (
	// An optional access followed by a plain property access. Only a final
	// identifier that is itself optional (a?.b.c?.d) is exempt.
	unsafeOptionalChain = regexp.MustCompile(`\?\.[A-Za-z_$][\w$]*\.[A-Za-z_$][\w$]*(?:[^\w$?]|$)`)
	instanceofBuffer    = regexp.MustCompile(`instanceof\s+ArrayBuffer\b`)
	consoleCall         = regexp.MustCompile(`(?i)console\.(log|error|warn|info)\s*\(`)
)

func (c *compiled) codeQualityRules() []engine.Rule {
	return []engine.Rule{
		{
			ID:          "optional-chaining",
			Name:        "Unsafe optional chaining",
			Category:    engine.CategoryHeuristic,
			Description: "obj?.prop.sub guards obj only; prop itself may still be undefined.",
			Run:         c.optionalChaining,
		},
		{
			ID:          "instanceof-arraybuffer",
			Name:        "Cross-realm ArrayBuffer checks",
			Category:    engine.CategoryHeuristic,
			Description: "instanceof ArrayBuffer fails across realms such as jsdom, workers and iframes.",
			Run:         c.instanceofArrayBuffer,
		},
		{
			ID:          "console-sensitive",
			Name:        "Sensitive values in console output",
			Category:    engine.CategoryHeuristic,
			Description: "console calls never print identifiers that look like secrets.",
			Run:         c.consoleSensitive,
		},
	}
}

func (c *compiled) optionalChaining(_ context.Context, env engine.Env) []model.Finding {
	q := scan.Query{Match: unsafeOptionalChain, Safe: c.safeChains, SkipComments: true}
	hits := env.Scanner.Scan(env.Snapshot.List(snapshot.RoleSource), q)
	if len(hits) == 0 {
		return engine.One(engine.Pass("No obvious unsafe optional chaining patterns found"))
	}
	f := limited(engine.Warn(fmt.Sprintf("Possible unsafe optional chaining -- %d location(s)", len(hits)), hits...), 10)
	return engine.One(withDetail(f, "`obj?.prop.sub` crashes if `prop` is undefined. Use `obj?.prop?.sub`."))
}

func (c *compiled) instanceofArrayBuffer(_ context.Context, env engine.Env) []model.Finding {
	hits := env.Scanner.Scan(env.Snapshot.List(snapshot.RoleSource), scan.Query{Match: instanceofBuffer})
	if len(hits) == 0 {
		return engine.One(engine.Pass("No cross-realm ArrayBuffer checks found"))
	}
	f := engine.Warn(fmt.Sprintf("instanceof ArrayBuffer -- %d location(s)", len(hits)), hits...)
	return engine.One(withDetail(f, "The cross-realm check fails in jsdom and workers. Use `ab.byteLength !== undefined`."))
}

func (c *compiled) consoleSensitive(_ context.Context, env engine.Env) []model.Finding {
	if c.sensitive == nil {
		return engine.One(engine.Pass("No sensitive words configured for console output"))
	}
	q := scan.Query{
		Match:        consoleCall,
		Require:      []*regexp.Regexp{c.sensitive},
		Normalize:    scan.StripStrings,
		SkipComments: true,
	}
	hits := env.Scanner.Scan(env.Snapshot.List(snapshot.RoleSource), q)
	if len(hits) == 0 {
		return engine.One(engine.Pass("No console statements printing obvious sensitive variables"))
	}
	return engine.One(engine.Warn(fmt.Sprintf("console.log may print sensitive variable -- %d location(s)", len(hits)), hits...))
}
