package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns a config backed by a real orgplan tree for the
// given month.
func validConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	monthDir := filepath.Join(dir, "2025")
	if err := os.MkdirAll(monthDir, 0o755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(monthDir, "06-notes.md")
	if err := os.WriteFile(file, []byte("# TODO List\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &Config{
		Backend:      "microsoft",
		ClientID:     "client",
		TenantID:     "tenant",
		ClientSecret: "secret",
		AuthMode:     "application",
		TaskListName: "Tasks",
		OrgplanDir:   dir,
		Month:        "2025-06",
	}
}

func TestValidConfigPasses(t *testing.T) {
	if err := validConfig(t).Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := &Config{
		Backend:    "microsoft",
		AuthMode:   "application",
		OrgplanDir: filepath.Join(t.TempDir(), "missing"),
		Month:      "June 2025",
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate passed on a broken config")
	}
	cerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type %T, want *Error", err)
	}

	wantSubstrings := []string{
		"client ID",
		"tenant ID",
		"client secret",
		"task list name",
		"month format",
		"directory does not exist",
	}
	for _, want := range wantSubstrings {
		found := false
		for _, p := range cerr.Problems {
			if strings.Contains(p, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no problem mentioning %q in %v", want, cerr.Problems)
		}
	}
}

func TestValidateDelegatedModeSkipsSecret(t *testing.T) {
	cfg := validConfig(t)
	cfg.AuthMode = "delegated"
	cfg.ClientSecret = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateGoogleBackend(t *testing.T) {
	cfg := validConfig(t)
	cfg.Backend = "google"
	cfg.GoogleClientID = "gid"
	cfg.GoogleClientSecret = "gsecret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	cfg.GoogleClientSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Error("missing Google secret accepted")
	}
}

func TestValidateUnknownBackend(t *testing.T) {
	cfg := validConfig(t)
	cfg.Backend = "todoist"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Errorf("err = %v, want unknown backend", err)
	}
}

func TestValidateMissingMonthFile(t *testing.T) {
	cfg := validConfig(t)
	cfg.Month = "2025-07" // directory exists, file does not
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "07-notes.md") {
		t.Errorf("err = %v, want missing file problem", err)
	}
}

func TestOrgplanFilePath(t *testing.T) {
	cfg := &Config{OrgplanDir: "/plans", Month: "2025-06"}
	want := filepath.Join("/plans", "2025", "06-notes.md")
	if got := cfg.OrgplanFile(); got != want {
		t.Errorf("OrgplanFile = %q, want %q", got, want)
	}

	cfg.Month = "garbage"
	if got := cfg.OrgplanFile(); got != "" {
		t.Errorf("OrgplanFile = %q, want empty for bad month", got)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"SYNC_BACKEND", "MS_CLIENT_ID", "MS_TENANT_ID", "MS_CLIENT_SECRET",
		"MS_AUTH_MODE", "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET",
		"TOKEN_DIR", "TASK_LIST_NAME", "ORGPLAN_DIR", "SYNC_MONTH", "LOG_FILE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := FromEnv()
	if cfg.Backend != "microsoft" {
		t.Errorf("Backend = %q, want microsoft", cfg.Backend)
	}
	if cfg.AuthMode != "application" {
		t.Errorf("AuthMode = %q, want application", cfg.AuthMode)
	}
	if cfg.OrgplanDir != "." {
		t.Errorf("OrgplanDir = %q, want .", cfg.OrgplanDir)
	}
	if cfg.Month != time.Now().Format("2006-01") {
		t.Errorf("Month = %q, want current month", cfg.Month)
	}
	if !cfg.AllowPrompt {
		t.Error("AllowPrompt = false, want true by default")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SYNC_BACKEND", "google")
	t.Setenv("SYNC_MONTH", "2025-06")
	t.Setenv("TASK_LIST_NAME", "Work")

	cfg := FromEnv()
	if cfg.Backend != "google" {
		t.Errorf("Backend = %q, want google", cfg.Backend)
	}
	if cfg.Month != "2025-06" {
		t.Errorf("Month = %q, want 2025-06", cfg.Month)
	}
	if cfg.TaskListName != "Work" {
		t.Errorf("TaskListName = %q, want Work", cfg.TaskListName)
	}
}
