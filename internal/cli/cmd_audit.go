package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpeters8/flowrun/internal/config"
)

// newAuditCmd creates the audit command group
func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect release audit records",
	}
	cmd.AddCommand(newAuditListCmd())
	return cmd
}

func newAuditListCmd() *cobra.Command {
	var auditDB string

	cmd := &cobra.Command{
		Use:   "list <workflow>",
		Short: "List a workflow's audited releases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(cfg, auditDB)
			if err != nil {
				return err
			}
			defer closeStore()

			recs, err := store.List(args[0])
			if err != nil {
				return err
			}

			if jsonOut {
				doc, err := json.MarshalIndent(recs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(doc))
				return nil
			}
			for _, rec := range recs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s  %s\n",
					rec.ReleaseInstant.Format(time.RFC3339), rec.Status, rec.RunID)
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "%d record(s)\n", len(recs))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&auditDB, "audit-db", "", "SQLite audit database (default file store at CORE_AUDIT_PATH)")
	return cmd
}
