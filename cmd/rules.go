package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"predeploy/internal/checks"
	"predeploy/internal/engine"
	"predeploy/internal/typecheck"
)

func newRulesCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the rule catalogue in report order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := engine.NewRegistry()
			if err := checks.Register(reg, checks.DefaultCatalog()); err != nil {
				return err
			}
			if err := reg.Add(typecheck.SectionTitle, typecheck.Rule(typecheck.Options{})); err != nil {
				return err
			}
			return printRules(stdout, reg)
		},
	}
}

func printRules(w io.Writer, reg *engine.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, section := range reg.Sections() {
		fmt.Fprintf(tw, "%s\n", section.Title)
		for _, rule := range section.Rules {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", rule.ID, rule.Category, rule.Description)
		}
	}
	return tw.Flush()
}
