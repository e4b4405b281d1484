package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/layoutstats/internal/layout"
)

func newLayoutsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layouts",
		Short: "Inspect layout definitions",
	}

	cmd.AddCommand(newLayoutsCheckCmd())
	cmd.AddCommand(newLayoutsListCmd())

	return cmd
}

func newLayoutsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate layout definitions",
		Long: `Load every layout definition and report all problems at once: duplicate
names, website values that are not links, links that do not parse, and
non-numeric years. Exits non-zero when any problem is found.`,
		Args: cobra.NoArgs,
		RunE: runLayoutsCheck,
	}
}

func runLayoutsCheck(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	defs, err := layout.Load(cc.Cfg.LayoutsDir, cc.Cfg.LayoutsFile, cc.Logger)
	if err != nil {
		return err
	}

	problems := layout.Check(defs)

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if problems == nil {
			problems = []layout.Problem{}
		}

		if err := enc.Encode(problems); err != nil {
			return err
		}
	} else {
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, p.Error())
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%d problem(s) in %d definition(s)", len(problems), len(defs))
	}

	cc.Statusf("%d definition(s) OK.\n", len(defs))

	return nil
}

func newLayoutsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List layout definitions in store order",
		Args:  cobra.NoArgs,
		RunE:  runLayoutsList,
	}
}

func runLayoutsList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	defs, err := layout.Load(cc.Cfg.LayoutsDir, cc.Cfg.LayoutsFile, cc.Logger)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(defs)
	}

	rows := make([][]string, 0, len(defs))
	for i := range defs {
		d := &defs[i]
		rows = append(rows, []string{d.ID, d.Name, d.Year.String(), d.Family})
	}

	printTable(os.Stdout, []string{"ID", "NAME", "YEAR", "FAMILY"}, rows)

	return nil
}
