package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestResolve_WritesConfigInWorktree(t *testing.T) {
	wtPath := t.TempDir()
	basePath := filepath.Dir(wtPath)
	r := NewResolver("sandbox-exec")

	cfg, err := r.Resolve(wtPath, basePath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wtPath, ".grim-sandbox.yaml"), cfg.Path)
	assert.Equal(t, "sandbox-exec", cfg.Wrapper)

	data, err := os.ReadFile(cfg.Path)
	require.NoError(t, err)

	var parsed fileConfig
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.Contains(t, parsed.WritablePaths, wtPath)
	assert.Contains(t, parsed.WritablePaths, basePath)
	assert.True(t, parsed.AllowNetwork)
}

func TestWrapCommand(t *testing.T) {
	cfg := Config{Path: "/tmp/s.yaml", Wrapper: "sandbox-exec"}
	assert.Equal(t, "sandbox-exec --config /tmp/s.yaml -- claude -p 'go'", cfg.WrapCommand("claude -p 'go'"))
}

func TestWrapCommand_NoWrapperPassesThrough(t *testing.T) {
	cfg := Config{Path: "/tmp/s.yaml"}
	assert.Equal(t, "claude", cfg.WrapCommand("claude"))
}
