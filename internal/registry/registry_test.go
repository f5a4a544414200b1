package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/octahive/octabot/internal/enginerr"
	"github.com/octahive/octabot/internal/models"
)

func TestLoadPluginConfig_Missing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadPluginConfig(dir, "nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(cfg) != "{}" {
		t.Fatalf("config = %s, want {}", cfg)
	}
}

func TestLoadPluginConfig_Present(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "echo.json"), []byte(`{"key":"value"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadPluginConfig(dir, "echo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(cfg) != `{"key":"value"}` {
		t.Fatalf("config = %s, want passthrough", cfg)
	}
}

func TestRegistry_GetUnknownPlugin(t *testing.T) {
	reg := &Registry{plugins: map[string]*Plugin{
		"echo": {Metadata: models.PluginMetadata{Name: "echo"}},
	}}

	if _, err := reg.Get("echo"); err != nil {
		t.Fatalf("Get(echo) = %v, want nil", err)
	}

	_, err := reg.Get("rss-fetch")
	if err == nil {
		t.Fatal("expected UnknownPlugin error")
	}
	var ee *enginerr.EngineError
	if !asEngineError(err, &ee) || ee.Kind != enginerr.KindUnknownPlugin {
		t.Fatalf("got %v, want KindUnknownPlugin", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := &Registry{plugins: map[string]*Plugin{
		"b-plugin": {},
		"a-plugin": {},
	}}
	names := reg.Names()
	if len(names) != 2 || names[0] != "a-plugin" || names[1] != "b-plugin" {
		t.Fatalf("Names() = %v, want sorted [a-plugin b-plugin]", names)
	}
}

func asEngineError(err error, target **enginerr.EngineError) bool {
	ee, ok := err.(*enginerr.EngineError)
	if !ok {
		return false
	}
	*target = ee
	return true
}
