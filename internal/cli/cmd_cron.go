package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpeters8/flowrun/internal/config"
	"github.com/mpeters8/flowrun/internal/cron"
)

// newCronCmd creates the cron command group
func newCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect cron expressions",
	}
	cmd.AddCommand(newCronNextCmd())
	return cmd
}

func newCronNextCmd() *cobra.Command {
	var (
		tz    string
		count int
		from  string
	)

	cmd := &cobra.Command{
		Use:   "next <expression>",
		Short: "Print upcoming fire instants of a cron expression",
		Long: `Parse a cron expression (five or six fields, or a macro like @daily)
and print its next fire instants.

Example:
  flowrun cron next "0 9 * * MON-FRI"
  flowrun cron next "@hourly" --count 5 --tz Asia/Bangkok`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			sched, err := cron.Parse(args[0])
			if err != nil {
				return err
			}

			loc := cfg.Location
			if tz != "" {
				if loc, err = time.LoadLocation(tz); err != nil {
					return err
				}
			}

			start := time.Now()
			if from != "" {
				if start, err = time.Parse(time.RFC3339, from); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}

			runner := cron.NewRunner(sched, loc, start)
			for i := 0; i < count; i++ {
				fire, err := runner.Next()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), fire.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone (default CORE_TIMEZONE)")
	cmd.Flags().IntVar(&count, "count", 3, "number of instants to print")
	cmd.Flags().StringVar(&from, "from", "", "start instant (RFC 3339, default now)")
	return cmd
}
