package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"quiz-api", "quiz-api"},
		{"/opt/app/config.py", "/opt/app/config.py"},
		{"hello world", "'hello world'"},
		{"it's", `'it'"'"'s'`},
		{"$(rm -rf /)", "'$(rm -rf /)'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Quote(tt.in), tt.in)
	}
}

func TestCommandLine(t *testing.T) {
	assert.Equal(t, "systemctl restart quiz-api", CommandLine("systemctl", "restart", "quiz-api"))
	assert.Equal(t, "sh -c 'echo hi'", CommandLine("sh", "-c", "echo hi"))
}

func TestLocalRunner(t *testing.T) {
	r := NewLocalRunner()
	ctx := context.Background()

	ret, err := r.Run(ctx, "echo", "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", ret.Output)

	ret, err = r.RunWithInput(ctx, strings.NewReader("piped"), "cat")
	require.NoError(t, err)
	assert.Equal(t, "piped", ret.Output)

	ret, err = r.Shell(ctx, "echo oops >&2; exit 3")
	require.Error(t, err)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, 3, ret.ExitCode)
	assert.Contains(t, exitErr.Error(), "oops")
	assert.True(t, r.Local())
}
