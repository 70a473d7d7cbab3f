// Readrelay keeps a local SQLite copy of one or more RSS accounts (local
// feeds, FreshRSS, Nextcloud News, Fever) in sync with their servers.
//
// Usage:
//
//	readrelay daemon [--config <path>] [--verbose]     # poll all accounts, serve the control API
//	readrelay sync-once [--config <path>] [--verbose]  # one sync pass then exit
//	readrelay status [--config <path>]                 # show config and account state
//	readrelay import-opml [--account <name>] <file>    # subscribe to the feeds in an OPML file
//	readrelay export-opml [--account <name>] [--output <file>]
//	readrelay version                                  # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/njoerd114/readrelay/internal/api"
	"github.com/njoerd114/readrelay/internal/config"
	"github.com/njoerd114/readrelay/internal/favicon"
	"github.com/njoerd114/readrelay/internal/opml"
	"github.com/njoerd114/readrelay/internal/state"
	syncp "github.com/njoerd114/readrelay/internal/sync"
	"github.com/njoerd114/readrelay/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	args := os.Args[2:]
	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runSync(args, true)
	case "sync-once":
		return runSync(args, false)
	case "status":
		return runStatus(args)
	case "import-opml":
		return runImport(args)
	case "export-opml":
		return runExport(args)
	case "version":
		fmt.Println("readrelay", version)
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		return fmt.Errorf("unknown command %q, run 'readrelay help' for usage", cmd)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "readrelay: sync RSS accounts into a local database")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  readrelay daemon [--config ...]                 Poll all accounts continuously")
	fmt.Fprintln(os.Stderr, "  readrelay sync-once [--config ...]              Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  readrelay status [--config ...]                 Show config and account state")
	fmt.Fprintln(os.Stderr, "  readrelay import-opml [--account ...] <file>    Subscribe to an OPML file's feeds")
	fmt.Fprintln(os.Stderr, "  readrelay export-opml [--account ...] [--output ...]")
	fmt.Fprintln(os.Stderr, "  readrelay version                               Print version")
}

// --- Shared startup ----------------------------------------------------------

// commonFlags registers --config and --verbose on fs.
func commonFlags(fs *flag.FlagSet) (cfgPath *string, verbose *bool) {
	defaultCfg, _ := config.DefaultPath()
	cfgPath = fs.String("config", defaultCfg, "path to config.yaml")
	verbose = fs.Bool("verbose", false, "enable debug logging")
	return cfgPath, verbose
}

// app holds what every subcommand needs after startup.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *state.Store
	shutdown []func()
}

func (a *app) close() {
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		a.shutdown[i]()
	}
}

// start runs logger → config → telemetry → state DB.
func start(cfgPath string, verbose bool) (*app, error) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	text := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(telemetry.NewSlogHandler(text, "readrelay"))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"accounts", len(cfg.Accounts),
		"poll_interval", cfg.PollInterval,
		"page_size", cfg.PageSize,
	)

	a := &app{cfg: cfg, log: logger}

	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(context.Background(), telemetry.Config{
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Insecure:       cfg.Telemetry.Insecure,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			Headers:        cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			a.shutdown = append(a.shutdown, func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			})
		}
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		if dbPath, err = state.DefaultDBPath(); err != nil {
			a.close()
			return nil, fmt.Errorf("resolving state DB path: %w", err)
		}
	}
	store, err := state.Open(dbPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	a.store = store
	a.shutdown = append(a.shutdown, func() {
		if err := store.Close(); err != nil {
			logger.Error("closing state DB", "error", err)
		}
	})
	logger.Info("state DB opened", "path", dbPath)
	return a, nil
}

// repositories registers the configured accounts and logs in new ones.
func (a *app) repositories(ctx context.Context, summary io.Writer) ([]*syncp.Repository, error) {
	repos, err := syncp.NewBootstrap(a.store, a.cfg.PageSize, a.log, summary).Run(ctx, a.cfg.Accounts)
	if err != nil {
		return nil, fmt.Errorf("registering accounts: %w", err)
	}
	return repos, nil
}

// pickRepository returns the named repository, or the only one when name is
// empty.
func pickRepository(repos []*syncp.Repository, name string) (*syncp.Repository, error) {
	if name == "" {
		if len(repos) == 1 {
			return repos[0], nil
		}
		return nil, fmt.Errorf("%d accounts configured, choose one with --account", len(repos))
	}
	for _, r := range repos {
		if r.Account().Name == name {
			return r, nil
		}
	}
	return nil, fmt.Errorf("no account named %q", name)
}

// --- Subcommands -------------------------------------------------------------

// runSync handles both "daemon" and "sync-once".
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := start(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	repos, err := a.repositories(ctx, os.Stdout)
	if err != nil {
		return err
	}
	syncers := make([]syncp.AccountSyncer, 0, len(repos))
	for _, r := range repos {
		syncers = append(syncers, r)
	}
	engine := syncp.NewEngine(syncers, favicon.NewResolver(nil), a.store, a.cfg.PollInterval, a.log)

	if !daemon {
		a.log.Info("running single sync pass")
		results, err := engine.RunOnce(ctx)
		for _, r := range results {
			a.log.Info("account synced",
				"account", r.Account,
				"mode", r.Mode,
				"inserted", r.Inserted,
				"new_feeds", len(r.NewFeeds),
				"pushed", r.Pushed,
				"failed", len(r.Failed),
			)
		}
		return err
	}

	if a.cfg.Listen != "" {
		srv := &http.Server{
			Addr:              a.cfg.Listen,
			Handler:           api.NewServer(engine, a.store, a.log).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.log.Info("control API listening", "addr", a.cfg.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("control API stopped", "error", err)
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	a.log.Info("daemon starting", "poll_interval", a.cfg.PollInterval, "accounts", len(syncers))
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	a.log.Info("shutdown complete")
	return nil
}

// runStatus prints the configuration and the stored account state.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath, _ := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("readrelay status")
	fmt.Println("────────────────")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Printf("  Config:    %s (%v)\n", *cfgPath, err)
		return nil
	}
	fmt.Printf("  Config:    %s ✓\n", *cfgPath)
	fmt.Printf("  Poll:      %s\n", cfg.PollInterval)
	if cfg.Listen != "" {
		fmt.Printf("  API:       %s\n", cfg.Listen)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, _ = state.DefaultDBPath()
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Printf("  State DB:  not found\n")
		return nil
	}
	fmt.Printf("  State DB:  %s (%s)\n", dbPath, humanSize(info.Size()))

	store, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	defer store.Close()

	accounts, err := store.Accounts(context.Background())
	if err != nil {
		return err
	}
	fmt.Println("")
	for _, acct := range accounts {
		last := "never"
		if !acct.LastSyncedAt.IsZero() {
			last = acct.LastSyncedAt.Local().Format(time.DateTime)
		}
		feeds, err := store.Feeds(context.Background(), acct.ID)
		if err != nil {
			return err
		}
		unread, err := store.Items(context.Background(), state.ItemQuery{AccountID: acct.ID, UnreadOnly: true})
		if err != nil {
			return err
		}
		fmt.Printf("  %-20s %-10s feeds=%d unread=%d last sync: %s\n", acct.Name, acct.Kind, len(feeds), len(unread), last)
	}
	return nil
}

// runImport subscribes an account to the feeds listed in an OPML file.
func runImport(args []string) error {
	fs := flag.NewFlagSet("import-opml", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	account := fs.String("account", "", "account to import into (required with several accounts)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: readrelay import-opml [--account <name>] <file>")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("opening OPML file: %w", err)
	}
	defer f.Close()
	entries, err := opml.Parse(f)
	if err != nil {
		return err
	}

	a, err := start(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	repos, err := a.repositories(ctx, io.Discard)
	if err != nil {
		return err
	}
	repo, err := pickRepository(repos, *account)
	if err != nil {
		return err
	}

	res, err := opml.Import(ctx, repo, entries)
	if err != nil {
		return err
	}
	for _, e := range res.Errors {
		a.log.Warn("import failed", "error", e)
	}
	fmt.Printf("Imported %d feed(s) into %q, %d already subscribed, %d failed.\n",
		res.Added, repo.Account().Name, res.Skipped, len(res.Errors))
	return nil
}

// runExport writes an account's subscriptions as OPML.
func runExport(args []string) error {
	fs := flag.NewFlagSet("export-opml", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	account := fs.String("account", "", "account to export (required with several accounts)")
	output := fs.String("output", "", "write to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := start(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer a.close()

	name := *account
	if name == "" {
		if len(a.cfg.Accounts) != 1 {
			return fmt.Errorf("%d accounts configured, choose one with --account", len(a.cfg.Accounts))
		}
		name = a.cfg.Accounts[0].Name
	}

	ctx := context.Background()
	acct, err := a.store.AccountByName(ctx, name)
	if err != nil {
		return err
	}
	if acct == nil {
		return fmt.Errorf("account %q has not been synced yet", name)
	}
	folders, err := a.store.Folders(ctx, acct.ID)
	if err != nil {
		return err
	}
	feeds, err := a.store.Feeds(ctx, acct.ID)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("creating %q: %w", *output, err)
		}
		defer f.Close()
		w = f
	}
	return opml.Write(w, "readrelay: "+acct.Name, opml.Entries(folders, feeds), time.Now())
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
