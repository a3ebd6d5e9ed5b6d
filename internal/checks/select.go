package checks

import (
	"fmt"
	"sort"
	"strings"

	"predeploy/internal/engine"
)

type SelectionOptions struct {
	OnlyIDs []string
	SkipIDs []string
}

type SelectionResult struct {
	Registry *engine.Registry
	Skipped  []string
	Warnings []string
}

// Select narrows a registry to the requested rules, keeping declaration order.
// Unknown ids produce warnings rather than errors.
func Select(reg *engine.Registry, opts SelectionOptions) (SelectionResult, error) {
	onlySet := idSet(opts.OnlyIDs)
	skipSet := idSet(opts.SkipIDs)

	known := make(map[string]struct{}, reg.Len())
	for _, e := range reg.Entries() {
		known[e.Rule.ID] = struct{}{}
	}
	warnings := make([]string, 0, 4)
	for _, group := range []map[string]struct{}{onlySet, skipSet} {
		for _, id := range sortedKeys(group) {
			if _, ok := known[id]; !ok {
				warnings = append(warnings, fmt.Sprintf("unknown rule id %q ignored", id))
			}
		}
	}

	out := engine.NewRegistry()
	var skipped []string
	for _, e := range reg.Entries() {
		_, skip := skipSet[e.Rule.ID]
		_, only := onlySet[e.Rule.ID]
		if skip || (len(onlySet) > 0 && !only) {
			skipped = append(skipped, e.Rule.ID)
			continue
		}
		if err := out.Add(e.Section, e.Rule); err != nil {
			return SelectionResult{}, err
		}
	}
	if out.Len() == 0 {
		return SelectionResult{}, fmt.Errorf("rule selection is empty")
	}
	return SelectionResult{Registry: out, Skipped: skipped, Warnings: warnings}, nil
}

func idSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		for _, part := range strings.Split(id, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out[part] = struct{}{}
			}
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
