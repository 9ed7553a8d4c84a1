package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronNextCmd(t *testing.T) {
	cmd := newCronNextCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"0 9 * * *",
		"--from", "2024-06-01T00:00:00Z", "--count", "2", "--tz", "UTC"})

	require.NoError(t, cmd.Execute())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"2024-06-01T09:00:00Z",
		"2024-06-02T09:00:00Z",
	}, lines)
}

func TestCronNextCmd_BadExpression(t *testing.T) {
	cmd := newCronNextCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"not a cron"})
	assert.Error(t, cmd.Execute())
}
