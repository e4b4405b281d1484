package main

import (
	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Sync layout metadata into the store and check for orphans",
		Long: `Copy name-keyed metadata (url, year, website, thumb, family) from the
definitions into the store and verify that every stored layout still has a
definition. Measurements and the store timestamp are left alone.

Exits with status 2, listing the names, when orphaned layouts are found.`,
		Args: cobra.NoArgs,
		RunE: runAudit,
	}
}

func runAudit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	session, err := NewSession(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer closeSession(session)

	release, err := lockStore(cc.Cfg.StorePath)
	if err != nil {
		return err
	}
	defer release()

	changed, err := session.Engine.Audit(cc.Cfg.StorePath, session.Definitions)
	if err != nil {
		return err
	}

	if changed > 0 {
		cc.Statusf("Updated metadata for %d layout(s).\n", changed)
	} else {
		cc.Statusf("Metadata already up to date.\n")
	}

	cc.Statusf("No orphaned layouts in %s.\n", cc.Cfg.StorePath)

	return nil
}
