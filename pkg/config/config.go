// Package config loads and validates sync configuration from environment
// variables (including a .env file) with CLI-flag overrides applied by the
// caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Error reports invalid or missing settings; fatal before any mutation.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "configuration errors:\n  - " + strings.Join(e.Problems, "\n  - ")
}

// Config holds everything one sync run needs.
type Config struct {
	Backend string // "microsoft" or "google"

	// Microsoft credentials.
	ClientID     string
	TenantID     string
	ClientSecret string
	AuthMode     string // "application" or "delegated"

	// Google credentials.
	GoogleClientID     string
	GoogleClientSecret string

	TokenDir    string // empty selects the per-user default
	AllowPrompt bool   // false for cron runs

	TaskListName string
	OrgplanDir   string
	Month        string // YYYY-MM
	DryRun       bool
	LockWait     time.Duration
	LogFile      string
}

// FromEnv builds a Config from the environment, loading a .env file from
// the working directory when present. Flag overrides are applied by the
// caller before Validate.
func FromEnv() *Config {
	_ = godotenv.Load()

	return &Config{
		Backend:            getenv("SYNC_BACKEND", "microsoft"),
		ClientID:           os.Getenv("MS_CLIENT_ID"),
		TenantID:           os.Getenv("MS_TENANT_ID"),
		ClientSecret:       os.Getenv("MS_CLIENT_SECRET"),
		AuthMode:           getenv("MS_AUTH_MODE", "application"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		TokenDir:           os.Getenv("TOKEN_DIR"),
		AllowPrompt:        true,
		TaskListName:       os.Getenv("TASK_LIST_NAME"),
		OrgplanDir:         getenv("ORGPLAN_DIR", "."),
		Month:              getenv("SYNC_MONTH", time.Now().Format("2006-01")),
		LogFile:            os.Getenv("LOG_FILE"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// OrgplanFile derives the document path for the configured month:
// <dir>/<YYYY>/<MM>-notes.md.
func (c *Config) OrgplanFile() string {
	year, month, ok := splitMonth(c.Month)
	if !ok {
		return ""
	}
	return filepath.Join(c.OrgplanDir, year, month+"-notes.md")
}

// LockFile is the marker file guarding the configured document.
func (c *Config) LockFile() string {
	return filepath.Join(c.OrgplanDir, ".orgsync.lock")
}

func splitMonth(month string) (year, mm string, ok bool) {
	parts := strings.SplitN(month, "-", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	if _, err := time.Parse("2006-01", month); err != nil {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Validate collects every configuration problem at once. A nil return means
// the configuration is usable.
func (c *Config) Validate() error {
	var problems []string

	switch c.Backend {
	case "microsoft":
		if c.ClientID == "" {
			problems = append(problems, "Microsoft client ID is required (MS_CLIENT_ID)")
		}
		if c.TenantID == "" {
			problems = append(problems, "Microsoft tenant ID is required (MS_TENANT_ID)")
		}
		if c.AuthMode == "application" && c.ClientSecret == "" {
			problems = append(problems, "Microsoft client secret is required for application mode (MS_CLIENT_SECRET)")
		}
		if c.AuthMode != "application" && c.AuthMode != "delegated" {
			problems = append(problems, fmt.Sprintf("invalid auth mode: %s (expected application or delegated)", c.AuthMode))
		}
	case "google":
		if c.GoogleClientID == "" {
			problems = append(problems, "Google client ID is required (GOOGLE_CLIENT_ID)")
		}
		if c.GoogleClientSecret == "" {
			problems = append(problems, "Google client secret is required (GOOGLE_CLIENT_SECRET)")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown backend: %s (expected microsoft or google)", c.Backend))
	}

	if c.TaskListName == "" {
		problems = append(problems, "task list name is required")
	}

	if _, _, ok := splitMonth(c.Month); !ok {
		problems = append(problems, fmt.Sprintf("invalid month format: %s (expected YYYY-MM)", c.Month))
	}

	if info, err := os.Stat(c.OrgplanDir); err != nil {
		problems = append(problems, fmt.Sprintf("orgplan directory does not exist: %s", c.OrgplanDir))
	} else if !info.IsDir() {
		problems = append(problems, fmt.Sprintf("orgplan path is not a directory: %s", c.OrgplanDir))
	} else if file := c.OrgplanFile(); file != "" {
		if _, err := os.Stat(file); err != nil {
			problems = append(problems, fmt.Sprintf("orgplan file for %s does not exist: %s", c.Month, file))
		}
	}

	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}
