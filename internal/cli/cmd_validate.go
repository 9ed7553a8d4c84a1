package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mpeters8/flowrun/internal/config"
	"github.com/mpeters8/flowrun/internal/workflow"
)

// newValidateCmd creates the validate command
func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file-or-dir>",
		Short: "Check workflow definitions without running them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}

			var wfs []*workflow.Workflow
			if info.IsDir() {
				wfs, err = loadWorkflows(cfg, args[0])
			} else {
				var wf *workflow.Workflow
				wf, err = workflow.Load(args[0], workflow.LoadOptions{DeriveStageIDs: cfg.StageDefaultID})
				wfs = []*workflow.Workflow{wf}
			}
			if err != nil {
				return err
			}

			for _, wf := range wfs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d jobs, %d schedules)\n",
					wf.Name, len(wf.Jobs), len(wf.On))
			}
			return nil
		},
	}
	return cmd
}
