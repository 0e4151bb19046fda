// Package sandbox is the boundary to the sandbox-config subsystem.
// The core treats it as a black box: it yields a config file path and a
// way to wrap a shell command with a sandboxing invocation.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the resolved sandbox configuration for one worktree.
type Config struct {
	// Path is the generated config file consumed by the sandbox binary.
	Path string
	// Wrapper is the command prefix applied to spawned agent commands;
	// empty means no sandboxing.
	Wrapper string
}

// WrapCommand wraps a shell command string with the sandboxing
// invocation, or returns it unchanged when no wrapper is configured.
func (c Config) WrapCommand(command string) string {
	if c.Wrapper == "" {
		return command
	}
	return fmt.Sprintf("%s --config %s -- %s", c.Wrapper, c.Path, command)
}

// Resolver produces a sandbox config for a worktree.
type Resolver interface {
	Resolve(worktreePath, basePath string) (Config, error)
}

// fileConfig is the YAML document written for the sandbox binary.
type fileConfig struct {
	WritablePaths []string `yaml:"writable_paths"`
	ReadonlyPaths []string `yaml:"readonly_paths"`
	AllowNetwork  bool     `yaml:"allow_network"`
}

// FileResolver writes a per-worktree YAML config granting the agent
// write access to its own worktree and the shared base directory.
type FileResolver struct {
	// WrapperBin is the sandbox binary; empty disables wrapping.
	WrapperBin string
}

// NewResolver returns a FileResolver using the given wrapper binary.
func NewResolver(wrapperBin string) *FileResolver {
	return &FileResolver{WrapperBin: wrapperBin}
}

// Resolve writes the config file inside the worktree and returns it.
func (r *FileResolver) Resolve(worktreePath, basePath string) (Config, error) {
	cfg := fileConfig{
		WritablePaths: []string{worktreePath, basePath},
		ReadonlyPaths: []string{filepath.Dir(basePath)},
		AllowNetwork:  true,
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return Config{}, fmt.Errorf("encode sandbox config: %w", err)
	}

	path := filepath.Join(worktreePath, ".grim-sandbox.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Config{}, fmt.Errorf("write sandbox config: %w", err)
	}
	return Config{Path: path, Wrapper: r.WrapperBin}, nil
}
