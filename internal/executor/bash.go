package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/mpeters8/flowrun/internal/errors"
	"github.com/mpeters8/flowrun/internal/template"
	"github.com/mpeters8/flowrun/internal/workflow"
)

// shell is resolved once; bash preferred, sh as the POSIX fallback.
var shell = detectShell()

func detectShell() string {
	if _, err := exec.LookPath("bash"); err == nil {
		return "bash"
	}
	if _, err := exec.LookPath("sh"); err == nil {
		return "sh"
	}
	return "bash"
}

// runBash spawns a subshell with the resolved environment merged into the
// parent's and captures stdout/stderr. Outputs are
// {return_code, stdout, stderr}; a non-zero return code is FAILED.
func (r *run) runBash(ctx context.Context, scope *stageScope, st *workflow.Stage) stageOutcome {
	env := scope.env()
	script, err := r.exec.tmpl.Resolve(ctx, st.Bash, env)
	if err != nil {
		return failed(errors.Wrap(errors.KindStage, err, "stage %q script", st.Ref()))
	}

	cmd := exec.CommandContext(ctx, shell, "-c", template.Stringify(script))
	cmd.Env = os.Environ()
	for k, raw := range st.Env {
		v, err := r.exec.tmpl.Resolve(ctx, raw, env)
		if err != nil {
			return failed(errors.Wrap(errors.KindStage, err, "stage %q env %q", st.Ref(), k))
		}
		cmd.Env = append(cmd.Env, k+"="+template.Stringify(v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	outputs := map[string]any{
		"return_code": code,
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
	}

	if ctx.Err() != nil {
		return stageOutcome{
			status:  workflow.StatusCancel,
			outputs: outputs,
			err:     errors.Cancelled(st.Ref()),
		}
	}
	if runErr != nil {
		return stageOutcome{
			status:  workflow.StatusFailed,
			outputs: outputs,
			err:     errors.Stage("bash", "stage %q exited with code %d", st.Ref(), code),
		}
	}
	return succeeded(outputs)
}
