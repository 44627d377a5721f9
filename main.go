package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/harrisonrobin/orgsync/pkg/backend"
	"github.com/harrisonrobin/orgsync/pkg/backend/google"
	"github.com/harrisonrobin/orgsync/pkg/backend/microsoft"
	"github.com/harrisonrobin/orgsync/pkg/config"
	"github.com/harrisonrobin/orgsync/pkg/lock"
	"github.com/harrisonrobin/orgsync/pkg/orgplan"
	"github.com/harrisonrobin/orgsync/pkg/sync"
)

func main() {
	// 1. Parse Flags
	backendName := flag.String("backend", "", "Task backend: microsoft or google (overrides SYNC_BACKEND)")
	listName := flag.String("list", "", "Remote task list name (overrides TASK_LIST_NAME)")
	orgplanDir := flag.String("orgplan-dir", "", "Directory holding the orgplan tree (overrides ORGPLAN_DIR)")
	month := flag.String("month", "", "Month to sync as YYYY-MM (overrides SYNC_MONTH, default current month)")
	direction := flag.String("direction", "both", "Sync direction: both, orgplan-to-remote, or remote-to-orgplan")
	dryRun := flag.Bool("dry-run", false, "Report what would change without mutating anything")
	validateOnly := flag.Bool("validate-config", false, "Validate configuration and exit")
	noPrompt := flag.Bool("no-prompt", false, "Fail instead of prompting for interactive authentication")
	lockWait := flag.Duration("lock-wait", 0, "How long to wait for a concurrent sync to finish")
	logFile := flag.String("log-file", "", "Append logs to this file as well as stderr (overrides LOG_FILE)")
	verbose := flag.Bool("verbose", false, "Log with timestamps and source locations")
	flag.Parse()

	// 2. Build Configuration (Priority: Flag > Environment > Default)
	cfg := config.FromEnv()
	if *backendName != "" {
		cfg.Backend = *backendName
	}
	if *listName != "" {
		cfg.TaskListName = *listName
	}
	if *orgplanDir != "" {
		cfg.OrgplanDir = *orgplanDir
	}
	if *month != "" {
		cfg.Month = *month
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	cfg.DryRun = *dryRun
	cfg.LockWait = *lockWait
	cfg.AllowPrompt = !*noPrompt

	logger, closeLog, err := newLogger(cfg.LogFile, *verbose)
	if err != nil {
		log.Fatalf("Error opening log file: %v", err)
	}
	defer closeLog()

	// 3. Validate Configuration
	if err := cfg.Validate(); err != nil {
		logger.Printf("%v", err)
		os.Exit(1)
	}
	if *validateOnly {
		logger.Printf("Configuration OK (backend=%s, list=%q, file=%s)",
			cfg.Backend, cfg.TaskListName, cfg.OrgplanFile())
		return
	}

	switch *direction {
	case "both", "orgplan-to-remote", "remote-to-orgplan":
	default:
		logger.Printf("Invalid direction: %s (expected both, orgplan-to-remote, or remote-to-orgplan)", *direction)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *direction, logger); err != nil {
		logger.Printf("Sync failed: %v", err)
		os.Exit(1)
	}
}

// run owns the lock for its whole lifetime; every exit path below releases
// it via the defer, including signal cancellation.
func run(ctx context.Context, cfg *config.Config, direction string, logger *log.Logger) error {
	// 4. Acquire Lock
	lk := lock.New(cfg.LockFile(), logger)
	if !lk.Acquire(cfg.LockWait, lock.DefaultStaleThreshold) {
		return fmt.Errorf("another sync is already running (lock file %s)", cfg.LockFile())
	}
	defer lk.Release()

	// 5. Authenticate Backend
	b, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}
	if err := b.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticating with %s: %w", b.Name(), err)
	}

	// 6. Resolve Task List
	list, err := b.ListByName(ctx, cfg.TaskListName)
	if err != nil {
		return fmt.Errorf("resolving task list: %w", err)
	}
	if list == nil {
		if lists, lerr := b.TaskLists(ctx); lerr == nil {
			names := make([]string, len(lists))
			for i, l := range lists {
				names[i] = l.Name
			}
			logger.Printf("Available lists: %v", names)
		}
		return fmt.Errorf("task list %q not found", cfg.TaskListName)
	}

	// 7. Load and Validate Document
	doc := orgplan.New(cfg.OrgplanFile())
	if err := doc.Load(); err != nil {
		return fmt.Errorf("loading %s: %w", cfg.OrgplanFile(), err)
	}
	for _, warning := range doc.Validate() {
		logger.Printf("Warning: %s", warning)
	}

	// 8. Sync
	if cfg.DryRun {
		logger.Printf("Dry run: no changes will be written")
	}
	engine := sync.NewEngine(doc, b, list.ID, cfg.DryRun, logger)

	var stats sync.RunStats
	switch direction {
	case "both":
		stats, err = engine.Bidirectional(ctx)
		if err != nil {
			return err
		}
	case "orgplan-to-remote":
		stats.OrgplanToRemote, err = engine.SyncOrgplanToRemote(ctx)
		if err != nil {
			return err
		}
	case "remote-to-orgplan":
		remote, err := b.Tasks(ctx, list.ID)
		if err != nil {
			return fmt.Errorf("fetching remote tasks: %w", err)
		}
		stats.RemoteToOrgplan = engine.SyncRemoteToOrgplan(doc.ParseTasks(), remote)
	}

	// 9. Persist and Report
	if !cfg.DryRun {
		if err := doc.Save(); err != nil {
			return fmt.Errorf("saving %s: %w", cfg.OrgplanFile(), err)
		}
	}

	report(logger, "orgplan -> "+b.Name(), stats.OrgplanToRemote)
	report(logger, b.Name()+" -> orgplan", stats.RemoteToOrgplan)
	if n := stats.Errors(); n > 0 {
		return fmt.Errorf("%d task(s) failed to sync", n)
	}
	return nil
}

func report(logger *log.Logger, direction string, s sync.Stats) {
	logger.Printf("%s: %d created, %d updated, %d skipped, %d errors",
		direction, s.Created, s.Updated, s.Skipped, s.Errors)
}

func newBackend(cfg *config.Config, logger *log.Logger) (backend.Backend, error) {
	switch cfg.Backend {
	case "microsoft":
		return microsoft.New(cfg.AuthMode, cfg.ClientID, cfg.TenantID, cfg.ClientSecret,
			cfg.TokenDir, cfg.AllowPrompt, logger), nil
	case "google":
		return google.New(cfg.GoogleClientID, cfg.GoogleClientSecret,
			cfg.TokenDir, cfg.AllowPrompt, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}

func newLogger(logFile string, verbose bool) (*log.Logger, func(), error) {
	flags := 0
	if verbose {
		flags = log.Ldate | log.Ltime | log.Lshortfile
	}

	var w io.Writer = os.Stderr
	closeLog := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(os.Stderr, f)
		closeLog = func() { f.Close() }
		flags |= log.Ldate | log.Ltime
	}
	return log.New(w, "", flags), closeLog, nil
}
