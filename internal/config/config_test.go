package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// isolate runs the test from an empty directory with TSYNC_ variables cleared.
func isolate(t *testing.T) string {
	t.Helper()
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "TSYNC_") {
			key, _, _ := strings.Cut(env, "=")
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	ResetForTesting()
	t.Cleanup(ResetForTesting)
	return dir
}

func TestDefaults(t *testing.T) {
	isolate(t)
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	s := Load()
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"db", s.DB, filepath.Join(".tsync", "tasks.db")},
		{"memory", s.Memory, false},
		{"persist timeout", s.PersistTimeout, 30 * time.Second},
		{"shutdown timeout", s.ShutdownTimeout, 10 * time.Second},
		{"log level", s.Log.Level, "info"},
		{"dashboard", s.Dashboard, "127.0.0.1:7777"},
		{"watch debounce", s.Watch.Debounce, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
	if ConfigFileUsed() != "" {
		t.Errorf("ConfigFileUsed() = %q, want none", ConfigFileUsed())
	}
}

func TestProjectConfigFromSubdirectory(t *testing.T) {
	dir := isolate(t)
	if err := os.MkdirAll(filepath.Join(dir, DirName), 0o755); err != nil {
		t.Fatal(err)
	}
	content := "persist:\n  timeout: 5s\nlog:\n  level: debug\n"
	if err := os.WriteFile(filepath.Join(dir, DirName, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(sub)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	s := Load()
	if s.PersistTimeout != 5*time.Second {
		t.Errorf("PersistTimeout = %v, want 5s", s.PersistTimeout)
	}
	if s.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", s.Log.Level)
	}
	if !strings.HasSuffix(ConfigFileUsed(), filepath.Join(DirName, "config.yaml")) {
		t.Errorf("ConfigFileUsed() = %q", ConfigFileUsed())
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	isolate(t)
	t.Setenv("TSYNC_PERSIST_TIMEOUT", "2s")
	t.Setenv("TSYNC_LOG_MAX_SIZE_MB", "50")

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	s := Load()
	if s.PersistTimeout != 2*time.Second {
		t.Errorf("PersistTimeout = %v, want 2s", s.PersistTimeout)
	}
	if s.Log.MaxSizeMB != 50 {
		t.Errorf("Log.MaxSizeMB = %d, want 50", s.Log.MaxSizeMB)
	}
}

func TestBindFlag(t *testing.T) {
	isolate(t)
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Bool("memory", false, "")
	if err := BindFlag("memory", fs.Lookup("memory")); err != nil {
		t.Fatalf("BindFlag() failed: %v", err)
	}
	if err := fs.Parse([]string{"--memory"}); err != nil {
		t.Fatal(err)
	}
	if !Load().Memory {
		t.Error("flag did not override memory")
	}
}

func TestValidate(t *testing.T) {
	base := Settings{
		DB:              "tasks.db",
		PersistTimeout:  time.Second,
		ShutdownTimeout: time.Second,
		Log:             LogSettings{Format: "text"},
	}

	tests := []struct {
		name    string
		modify  func(*Settings)
		wantErr bool
		errMsg  string
	}{
		{"valid", func(*Settings) {}, false, ""},
		{"memory without db", func(s *Settings) { s.DB = ""; s.Memory = true }, false, ""},
		{"missing db", func(s *Settings) { s.DB = "" }, true, "db path is required"},
		{"zero timeout", func(s *Settings) { s.PersistTimeout = 0 }, true, "persist.timeout"},
		{"bad format", func(s *Settings) { s.Log.Format = "xml" }, true, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.modify(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.errMsg)
			}
		})
	}
}

func TestYAMLRoundTripsThroughViperKeys(t *testing.T) {
	isolate(t)
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	out, err := Load().YAML()
	if err != nil {
		t.Fatalf("YAML() failed: %v", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(out, &doc); err != nil {
		t.Fatalf("rendered config is not YAML: %v", err)
	}
	persist, ok := doc["persist"].(map[string]any)
	if !ok || persist["timeout"] != "30s" {
		t.Errorf("persist section = %v", doc["persist"])
	}
}
