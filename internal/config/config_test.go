package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

// isolate points HOME and XDG_CONFIG_HOME at empty temp dirs and chdirs into
// a fresh project dir so Initialize cannot pick up real user config.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	project := t.TempDir()
	t.Chdir(project)
	return project
}

func TestInitializeDefaults(t *testing.T) {
	isolate(t)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if got := GetInt("mail.max_inbox_limit"); got != 5 {
		t.Errorf("mail.max_inbox_limit = %d, want 5", got)
	}
	if got := GetInt("reservation.default_ttl_seconds"); got != 3600 {
		t.Errorf("reservation.default_ttl_seconds = %d, want 3600", got)
	}
	if got := GetInt("lock.max_retries"); got != 10 {
		t.Errorf("lock.max_retries = %d, want 10", got)
	}
	if got := GetFloat64("memory.link_threshold"); got != 0.75 {
		t.Errorf("memory.link_threshold = %v, want 0.75", got)
	}
	if got := GetString("inference.host"); got != "http://localhost:11434" {
		t.Errorf("inference.host = %q, want ollama default", got)
	}
	if got := GetString("actor"); got != "" {
		t.Errorf("actor default = %q, want empty", got)
	}
}

func TestInitializeEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("WAGGLE_MAIL_MAX_INBOX_LIMIT", "9")
	t.Setenv("WAGGLE_ACTOR", "scout-7")
	t.Setenv("WAGGLE_INFERENCE_API_KEY", "sk-test")

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if got := GetInt("mail.max_inbox_limit"); got != 9 {
		t.Errorf("mail.max_inbox_limit = %d, want env override 9", got)
	}
	if got := GetString("actor"); got != "scout-7" {
		t.Errorf("actor = %q, want scout-7", got)
	}
	if got := GetString("inference.api_key"); got != "sk-test" {
		t.Errorf("inference.api_key = %q, want sk-test", got)
	}
	if got := GetValueSource("actor"); got != SourceEnvVar {
		t.Errorf("GetValueSource(actor) = %q, want env_var", got)
	}
	if got := GetValueSource("lock.max_retries"); got != SourceDefault {
		t.Errorf("GetValueSource(lock.max_retries) = %q, want default", got)
	}
}

func TestInitializeFindsProjectConfigFromSubdir(t *testing.T) {
	project := isolate(t)

	waggleDir := filepath.Join(project, ".waggle")
	if err := os.MkdirAll(waggleDir, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := "actor: muncher\nmail:\n  max_inbox_limit: 8\n"
	if err := os.WriteFile(filepath.Join(waggleDir, "config.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	nested := filepath.Join(project, "pkg", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(nested)

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if got := GetString("actor"); got != "muncher" {
		t.Errorf("actor = %q, want muncher from project config", got)
	}
	if got := GetInt("mail.max_inbox_limit"); got != 8 {
		t.Errorf("mail.max_inbox_limit = %d, want 8", got)
	}
	if got := GetValueSource("actor"); got != SourceConfigFile {
		t.Errorf("GetValueSource(actor) = %q, want config_file", got)
	}
	// Keys absent from the file keep their defaults.
	if got := GetInt("lock.max_retries"); got != 10 {
		t.Errorf("lock.max_retries = %d, want default 10", got)
	}
}

func TestInitializeFallsBackToUserConfigDir(t *testing.T) {
	isolate(t)

	configHome := os.Getenv("XDG_CONFIG_HOME")
	waggleDir := filepath.Join(configHome, "waggle")
	if err := os.MkdirAll(waggleDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(waggleDir, "config.yaml"), []byte("actor: queen\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := GetString("actor"); got != "queen" {
		t.Errorf("actor = %q, want queen from user config dir", got)
	}
}

func TestDBPathResolution(t *testing.T) {
	isolate(t)
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}

	got, err := DBPath()
	if err != nil {
		t.Fatalf("DBPath() error = %v", err)
	}
	want := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "waggle", "core.db")
	if got != want {
		t.Errorf("DBPath() = %q, want global default %q", got, want)
	}

	Set("db.path", "~/stores/project.db")
	got, err = DBPath()
	if err != nil {
		t.Fatalf("DBPath() with override error = %v", err)
	}
	want = filepath.Join(os.Getenv("HOME"), "stores", "project.db")
	if got != want {
		t.Errorf("DBPath() = %q, want expanded %q", got, want)
	}
}

func TestLegacyDBPath(t *testing.T) {
	project := isolate(t)
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}

	if got := LegacyDBPath(); got != "" {
		t.Errorf("LegacyDBPath() = %q, want empty without .waggle", got)
	}

	waggleDir := filepath.Join(project, ".waggle")
	if err := os.MkdirAll(waggleDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if got := LegacyDBPath(); got != "" {
		t.Errorf("LegacyDBPath() = %q, want empty without waggle.db", got)
	}

	legacy := filepath.Join(waggleDir, "waggle.db")
	if err := os.WriteFile(legacy, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Found from the project root and from a subdirectory.
	if got := LegacyDBPath(); got != legacy {
		t.Errorf("LegacyDBPath() = %q, want %q", got, legacy)
	}
	sub := filepath.Join(project, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(sub)
	if got := LegacyDBPath(); got != legacy {
		t.Errorf("LegacyDBPath() from subdir = %q, want %q", got, legacy)
	}
}

func TestSnapshotPathsFollowProjectDir(t *testing.T) {
	project := isolate(t)
	waggleDir := filepath.Join(project, ".waggle")
	if err := os.MkdirAll(waggleDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}

	if got, want := CellsSnapshotPath(), filepath.Join(waggleDir, "cells.jsonl"); got != want {
		t.Errorf("CellsSnapshotPath() = %q, want %q", got, want)
	}
	if got, want := MemoriesSnapshotPath(), filepath.Join(waggleDir, "memories.jsonl"); got != want {
		t.Errorf("MemoriesSnapshotPath() = %q, want %q", got, want)
	}

	Set("snapshot.cells_path", "/elsewhere/cells.jsonl")
	if got := CellsSnapshotPath(); got != "/elsewhere/cells.jsonl" {
		t.Errorf("CellsSnapshotPath() override = %q", got)
	}
}

func TestWriteScaffold(t *testing.T) {
	isolate(t)
	dir := filepath.Join(t.TempDir(), ".waggle")

	path, created, err := WriteScaffold(dir)
	if err != nil {
		t.Fatalf("WriteScaffold() error = %v", err)
	}
	if !created {
		t.Fatal("WriteScaffold() created = false on first write")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var parsed map[string]interface{}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("scaffold does not parse as YAML: %v", err)
	}
	mailSection, ok := parsed["mail"].(map[string]interface{})
	if !ok {
		t.Fatalf("scaffold missing mail section: %v", parsed)
	}
	if got := mailSection["max_inbox_limit"]; got != 5 {
		t.Errorf("scaffold mail.max_inbox_limit = %v, want 5", got)
	}

	// Second call leaves the existing file alone.
	if err := os.WriteFile(path, []byte("actor: custom\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, created, err = WriteScaffold(dir)
	if err != nil {
		t.Fatalf("WriteScaffold() second call error = %v", err)
	}
	if created {
		t.Error("WriteScaffold() created = true over existing config")
	}
	data, _ = os.ReadFile(path)
	if string(data) != "actor: custom\n" {
		t.Error("WriteScaffold() overwrote an existing config")
	}
}

func TestDumpRendersYAML(t *testing.T) {
	isolate(t)
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}

	out, err := Dump()
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	var parsed map[string]interface{}
	if err := yaml.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("Dump() output does not parse: %v", err)
	}
	if _, ok := parsed["inference"]; !ok {
		t.Errorf("Dump() missing inference section:\n%s", out)
	}
}

func TestGetIdentity(t *testing.T) {
	isolate(t)
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}

	if got := GetIdentity("flag-actor"); got != "flag-actor" {
		t.Errorf("GetIdentity(flag) = %q, want flag value", got)
	}

	Set("actor", "config-actor")
	if got := GetIdentity(""); got != "config-actor" {
		t.Errorf("GetIdentity() = %q, want config-actor", got)
	}

	// Without flag or config the chain ends in git user.name or hostname;
	// either way it never returns empty.
	Set("actor", "")
	if got := GetIdentity(""); got == "" {
		t.Error("GetIdentity() = empty, want non-empty fallback")
	}
}
