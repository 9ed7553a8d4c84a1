package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpeters8/flowrun/internal/config"
	"github.com/mpeters8/flowrun/internal/executor"
	"github.com/mpeters8/flowrun/internal/scheduler"
)

// newScheduleCmd creates the schedule command
func newScheduleCmd() *cobra.Command {
	var (
		start    string
		end      string
		force    bool
		excluded []string
		workers  int
		auditDB  string
	)

	cmd := &cobra.Command{
		Use:   "schedule <dir>",
		Short: "Poke every due cron release in a workflow directory",
		Long: `Scan the cron schedules of every workflow under <dir> and execute each
fire instant the audit store has not seen yet. Without --start the scan
begins at the earliest instant worth considering: releases already
audited are skipped, so a poke is safe to repeat.

Example:
  flowrun schedule ./workflows
  flowrun schedule ./workflows --start 2024-06-01T00:00:00Z --end 2024-06-02T00:00:00Z
  flowrun schedule ./workflows --exclude 'tmp-*' --audit-db audits.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			wfs, err := loadWorkflows(cfg, args[0])
			if err != nil {
				return err
			}

			opts := scheduler.PokeOptions{Force: force, Excluded: excluded}
			if opts.Start, err = parseInstant(start, cfg); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if opts.End, err = parseInstant(end, cfg); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if opts.Start.IsZero() {
				// One day of lookback keeps a cold poke bounded.
				opts.Start = time.Now().Add(-24 * time.Hour)
			}

			store, closeStore, err := openStore(cfg, auditDB)
			if err != nil {
				return err
			}
			defer closeStore()

			exec := newExecutor(cfg, executor.WithLookup(lookupFrom(wfs)))
			var schedOpts []scheduler.Option
			if workers > 0 {
				schedOpts = append(schedOpts, scheduler.WithWorkers(workers))
			}
			s := scheduler.New(cfg, store, exec, schedOpts...)

			recs, err := s.Poke(cmd.Context(), wfs, opts)
			for _, rec := range recs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s  %s\n",
					rec.ReleaseInstant.Format(time.RFC3339), rec.Workflow, rec.Status, rec.RunID)
			}
			if err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "%d release(s)\n", len(recs))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "window start (RFC 3339 or YYYY-MM-DD; default 24h ago)")
	cmd.Flags().StringVar(&end, "end", "", "window end (RFC 3339 or YYYY-MM-DD; default now)")
	cmd.Flags().BoolVar(&force, "force", false, "run releases even when already audited")
	cmd.Flags().StringArrayVar(&excluded, "exclude", nil, "workflow name glob to skip (repeatable)")
	cmd.Flags().IntVar(&workers, "workers", 0, "release worker pool size (default CORE_MAX_JOB_PARALLEL)")
	cmd.Flags().StringVar(&auditDB, "audit-db", "", "SQLite audit database (default file store at CORE_AUDIT_PATH)")
	return cmd
}

// parseInstant accepts an RFC 3339 timestamp or a bare date in the
// configured timezone. Empty input yields the zero time.
func parseInstant(s string, cfg *config.Config) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", s, cfg.Location)
}
