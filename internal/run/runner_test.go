package run

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CapturesStdout(t *testing.T) {
	r := NewRunner()

	res := r.Run("", "echo", "hello")
	assert.True(t, res.Ok())
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRun_NonzeroExit(t *testing.T) {
	r := NewRunner()

	res := r.Run("", "false")
	assert.False(t, res.Ok())
	assert.Equal(t, 1, res.ExitCode)
}

func TestRun_MissingBinary(t *testing.T) {
	r := NewRunner()

	res := r.Run("", "definitely-not-a-real-binary-xyz")
	assert.False(t, res.Ok())
	assert.Equal(t, -1, res.ExitCode)
	assert.Error(t, res.Err)
	assert.NotEmpty(t, res.ErrorText())
}

func TestRun_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner()

	res := r.Run(dir, "pwd")
	require.True(t, res.Ok())
	assert.Contains(t, res.Stdout, filepath.Base(dir))
}

func TestDetach_WritesLogAndReturnsLivePID(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "out.log")
	r := NewRunner()

	pid, err := r.Detach(dir, nil, logFile, "sh", "-c", "echo detached")
	require.NoError(t, err)
	assert.Greater(t, pid, 0)

	// The process runs detached; give it a moment to write and exit.
	var data []byte
	for i := 0; i < 50; i++ {
		data, _ = os.ReadFile(logFile)
		if len(data) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Contains(t, string(data), "detached")
}

func TestRunInteractive_PassesEnv(t *testing.T) {
	r := NewRunner()

	res := r.RunInteractive("", []string{"GRIM_TEST_VAR=yes"}, "sh", "-c", "test \"$GRIM_TEST_VAR\" = yes")
	assert.Equal(t, 0, res.ExitCode)
	assert.NoError(t, res.Err)
}
