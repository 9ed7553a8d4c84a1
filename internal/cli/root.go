// Package cli implements the flowrun command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	verbose bool
	quiet   bool
	jsonOut bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flowrun",
	Short: "Lightweight workflow orchestrator",
	Long: `flowrun executes YAML workflow definitions: dependency-ordered jobs,
matrix strategies, templated stages, cron schedules and release audits.

Quick start:
  flowrun validate etl.yaml          Check a definition without running it
  flowrun run etl.yaml -p day=01     Execute a workflow with parameters
  flowrun schedule ./workflows       Poke every due cron release
  flowrun cron next "0 9 * * MON"    Preview upcoming fire instants
  flowrun audit list etl             Show a workflow's release history

Configuration comes from CORE_* environment variables (CORE_TIMEZONE,
CORE_MAX_JOB_PARALLEL, CORE_AUDIT_PATH, ...).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newScheduleCmd())
	rootCmd.AddCommand(newCronCmd())
	rootCmd.AddCommand(newAuditCmd())
	rootCmd.AddCommand(newVersionCmd())
}
