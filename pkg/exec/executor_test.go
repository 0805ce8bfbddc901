package exec

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/systmms/quickmanage/internal/errors"
)

func TestRealCommandExecutor_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		command     string
		args        []string
		wantSuccess bool
		wantOutput  string
	}{
		{
			name:        "echo command",
			command:     "echo",
			args:        []string{"hello"},
			wantSuccess: true,
			wantOutput:  "hello\n",
		},
		{
			name:        "command with multiple args",
			command:     "echo",
			args:        []string{"hello", "world"},
			wantSuccess: true,
			wantOutput:  "hello world\n",
		},
		{
			name:        "command without args",
			command:     "echo",
			args:        []string{},
			wantSuccess: true,
			wantOutput:  "\n",
		},
		{
			name:        "invalid command",
			command:     "nonexistent_command_xyz123",
			args:        []string{},
			wantSuccess: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			executor := &RealCommandExecutor{}
			ctx := context.Background()

			stdout, stderr, err := executor.Execute(ctx, tt.command, tt.args...)

			if tt.wantSuccess {
				require.NoError(t, err)
				assert.Equal(t, tt.wantOutput, string(stdout))
				assert.Empty(t, stderr)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRealCommandExecutor_ContextCancellation(t *testing.T) {
	t.Parallel()

	executor := &RealCommandExecutor{}
	ctx, cancel := context.WithCancel(context.Background())

	cancel()

	_, _, err := executor.Execute(ctx, "sleep", "10")
	assert.Error(t, err)
}

func TestDefaultExecutor(t *testing.T) {
	t.Parallel()

	executor := DefaultExecutor()
	require.NotNil(t, executor)

	_, ok := executor.(*RealCommandExecutor)
	assert.True(t, ok, "DefaultExecutor should return a *RealCommandExecutor")
}

func TestRealCommandExecutor_StderrCapture(t *testing.T) {
	t.Parallel()

	executor := &RealCommandExecutor{}
	ctx := context.Background()

	stdout, stderr, err := executor.Execute(ctx, "sh", "-c", "echo 'stdout' && echo 'stderr' >&2")

	require.NoError(t, err)
	assert.Equal(t, "stdout\n", string(stdout))
	assert.Equal(t, "stderr\n", string(stderr))
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	executor := DefaultExecutor()
	ctx := context.Background()

	_, _, err := executor.Execute(ctx, "sh", "-c", "exit 3")
	assert.Equal(t, 3, ExitCode(err))

	_, _, err = executor.Execute(ctx, "nonexistent_command_xyz123")
	assert.Equal(t, -1, ExitCode(err))

	assert.Equal(t, 0, ExitCode(nil))
}

func TestShell(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		out, err := Shell(ctx, DefaultExecutor(), "echo reloaded")
		require.NoError(t, err)
		assert.Equal(t, "reloaded\n", string(out))
	})

	t.Run("failure becomes CommandError", func(t *testing.T) {
		t.Parallel()

		_, err := Shell(ctx, DefaultExecutor(), "echo 'unit not found' >&2; exit 5")
		require.Error(t, err)

		var cmdErr qerrors.CommandError
		require.True(t, errors.As(err, &cmdErr))
		assert.Equal(t, 5, cmdErr.ExitCode)
		assert.Equal(t, "unit not found", cmdErr.Message)
		assert.Contains(t, cmdErr.Command, "exit 5")
	})
}
