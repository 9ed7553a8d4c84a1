package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/mpeters8/flowrun/internal/config"
	"github.com/mpeters8/flowrun/internal/executor"
	"github.com/mpeters8/flowrun/internal/workflow"
)

// newRunCmd creates the run command
func newRunCmd() *cobra.Command {
	var (
		params  []string
		timeout time.Duration
		query   string
		wfDir   string
	)

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a workflow definition",
		Long: `Execute a workflow definition to completion and print its result.

Parameters are passed as repeated -p key=value flags and coerced against
the workflow's parameter declarations. Trigger stages resolve sibling
workflows from --workflows when given.

Example:
  flowrun run etl.yaml -p day=2024-06-01 -p region=eu
  flowrun run etl.yaml --timeout 10m
  flowrun run etl.yaml --query 'context.jobs.load.outputs.rows'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			wf, err := workflow.Load(args[0], workflow.LoadOptions{DeriveStageIDs: cfg.StageDefaultID})
			if err != nil {
				return err
			}

			raw, err := parseParams(params)
			if err != nil {
				return err
			}

			var opts []executor.Option
			if wfDir != "" {
				wfs, err := loadWorkflows(cfg, wfDir)
				if err != nil {
					return err
				}
				opts = append(opts, executor.WithLookup(lookupFrom(wfs)))
			}
			exec := newExecutor(cfg, opts...)

			// Interrupts cancel the run through the same event seam embedders
			// use, so in-flight stages get the cancellation grace period.
			ev := executor.NewEvent()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				<-sigCh
				fmt.Fprintln(os.Stderr, "interrupt received, cancelling run")
				ev.Set()
			}()

			res := exec.Execute(context.Background(), wf, executor.ExecuteOptions{
				Params:  raw,
				Event:   ev,
				Timeout: timeout,
			})

			if err := printResult(cmd, res, query); err != nil {
				return err
			}
			if res.Status != workflow.StatusSuccess && res.Status != workflow.StatusSkip {
				return fmt.Errorf("run %s finished %s", res.RunID, res.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "workflow parameter (key=value, repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall run timeout (default CORE_MAX_JOB_EXEC_TIMEOUT)")
	cmd.Flags().StringVar(&query, "query", "", "print only this path of the result (gjson syntax)")
	cmd.Flags().StringVar(&wfDir, "workflows", "", "directory of sibling workflows for trigger stages")
	return cmd
}

// printResult writes the run result: the full document, or a single value
// extracted with a gjson path.
func printResult(cmd *cobra.Command, res *workflow.Result, query string) error {
	doc, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	if query == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(doc))
		return nil
	}
	v := gjson.GetBytes(doc, query)
	if !v.Exists() {
		return fmt.Errorf("query %q matched nothing", query)
	}
	fmt.Fprintln(cmd.OutOrStdout(), v.String())
	return nil
}
