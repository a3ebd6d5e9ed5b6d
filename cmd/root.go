// Package cmd implements the predeploy command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"predeploy/internal/version"
)

const (
	appName = "predeploy"

	// exitUsage reports an invocation problem: bad flags, an unusable root or an
	// output file that could not be written.
	exitUsage = 2
)

// exitError carries the process exit code of a completed audit.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Execute runs the CLI and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if args == nil {
		// cobra falls back to os.Args for a nil slice
		args = []string{}
	}
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintf(stderr, "%s: %v\n", appName, err)
	return exitUsage
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &auditFlags{}

	cmd := &cobra.Command{
		Use:   appName + " [root]",
		Short: "Audit a repository for deploy blockers before pushing to production",
		Long: `predeploy inspects a web application repository for configuration drift,
leaked secrets and risky code patterns that break a Supabase + Kong + Next.js
deployment. Every rule reports PASS, WARN or FAIL; any FAIL blocks the deploy,
and --strict makes warnings block too.

Exit codes: 0 deploy allowed, 1 deploy blocked, 2 invocation error.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return runAudit(cmd, f, root, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	f.register(cmd)

	cmd.AddCommand(newRulesCmd(stdout))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(stdout, version.Line(appName))
		},
	})

	return cmd
}
