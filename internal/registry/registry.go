// Package registry scans the plugin directory at boot, compiles and
// registers one Sandbox per *.wasm file, and exposes the resulting
// name-to-sandbox mapping to the scheduler. It is immutable after boot.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/octahive/octabot/internal/enginerr"
	"github.com/octahive/octabot/internal/models"
	"github.com/octahive/octabot/internal/sandbox"
)

// Processor is the subset of *sandbox.Sandbox the scheduler drives. Scheduler
// tests satisfy it with an in-memory fake instead of compiling a real .wasm
// plugin.
type Processor interface {
	Process(ctx context.Context, envelope models.ProcessEnvelope) ([]models.PluginResult, error)
}

// Plugin bundles a loaded sandbox with the metadata its load() export
// returned.
type Plugin struct {
	Metadata models.PluginMetadata
	Sandbox  Processor
}

// PluginHost is what the scheduler needs from a Registry: resolve a task's
// kind to the plugin that runs it. Satisfied by *Registry and, in tests, by
// a fake that never touches wasmtime.
type PluginHost interface {
	Get(name string) (*Plugin, error)
}

// Registry is the boot-time name -> Plugin mapping. Safe for concurrent
// read-only use once Load has returned.
type Registry struct {
	plugins map[string]*Plugin
	closers []io.Closer
}

// Config controls where plugins, their configs, and their data directories
// live, and the capability limits passed through to every Sandbox.
type Config struct {
	PluginDir       string
	PluginConfigDir string
	PluginDataDir   string
	EnvAllowlist    map[string]string
	Timeout         int // seconds
	PoolSize        int
	KV              *sandbox.KVStore
	OnOutput        func(plugin, stream string, data []byte)
}

// Load scans cfg.PluginDir for *.wasm files, compiling and initializing a
// Sandbox for each. A duplicate plugin name (two files whose load() report
// the same name) is a fatal DuplicatePlugin error, matching the boot
// contract: an unreadable plugin directory or a bad module is likewise
// fatal, never skipped.
func Load(ctx context.Context, cfg Config) (*Registry, error) {
	entries, err := os.ReadDir(cfg.PluginDir)
	if err != nil {
		return nil, fmt.Errorf("registry: read plugin dir %s: %w", cfg.PluginDir, err)
	}

	var wasmFiles []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wasm") {
			continue
		}
		wasmFiles = append(wasmFiles, e.Name())
	}
	sort.Strings(wasmFiles)

	reg := &Registry{plugins: make(map[string]*Plugin, len(wasmFiles))}

	for _, file := range wasmFiles {
		path := filepath.Join(cfg.PluginDir, file)

		sb, err := sandbox.New(ctx, sandbox.Config{
			Name:         strings.TrimSuffix(file, ".wasm"),
			DataDir:      cfg.PluginDataDir,
			EnvAllowlist: cfg.EnvAllowlist,
			Timeout:      time.Duration(cfg.Timeout) * time.Second,
			PoolSize:     cfg.PoolSize,
			KV:           cfg.KV,
			OnOutput:     cfg.OnOutput,
		}, path)
		if err != nil {
			return nil, fmt.Errorf("registry: load %s: %w", file, err)
		}

		meta, err := sb.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("registry: call load() on %s: %w", file, err)
		}

		if _, exists := reg.plugins[meta.Name]; exists {
			return nil, enginerr.DuplicatePlugin(meta.Name)
		}

		configJSON, err := loadPluginConfig(cfg.PluginConfigDir, meta.Name)
		if err != nil {
			return nil, fmt.Errorf("registry: load config for %s: %w", meta.Name, err)
		}
		if err := sb.Init(ctx, configJSON); err != nil {
			return nil, fmt.Errorf("registry: call init() on %s: %w", meta.Name, err)
		}

		reg.plugins[meta.Name] = &Plugin{Metadata: meta, Sandbox: sb}
		reg.closers = append(reg.closers, sb)
	}

	return reg, nil
}

func loadPluginConfig(dir, name string) (json.RawMessage, error) {
	path := filepath.Join(dir, name+".json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return json.RawMessage("{}"), nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Get returns the plugin registered under name, or enginerr.UnknownPlugin
// if dispatch requested a kind nothing registered.
func (r *Registry) Get(name string) (*Plugin, error) {
	p, ok := r.plugins[name]
	if !ok {
		return nil, enginerr.UnknownPlugin(name)
	}
	return p, nil
}

// Names returns every registered plugin name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts down every sandbox's epoch ticker and instance pool.
func (r *Registry) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
