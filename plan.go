package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	var sf scopeFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show which slots the next fetch would measure",
		Long: `Load the store and the definitions and print the slots a fetch with the
same flags would measure, with the reason for each. Nothing is fetched or
written, including metadata updates.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd, &sf)
		},
	}

	sf.register(cmd)

	return cmd
}

func runPlan(cmd *cobra.Command, sf *scopeFlags) error {
	cc := mustCLIContext(cmd.Context())

	session, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer closeSession(session)

	scope, err := sf.scope(session.Definitions)
	if err != nil {
		return err
	}

	opts := session.Options(scope)
	opts.DryRun = true

	report, err := session.Engine.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	return printPlan(os.Stdout, report, cc.Flags.JSON)
}
