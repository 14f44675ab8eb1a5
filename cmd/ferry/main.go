package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/hpungsan/ferry/internal/config"
	"github.com/hpungsan/ferry/internal/db"
	"github.com/hpungsan/ferry/internal/mcp"
	"github.com/hpungsan/ferry/internal/offline"
	"github.com/hpungsan/ferry/internal/remote"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"download": true, "remove": true, "get": true, "list": true,
	"progress": true, "complete": true, "play": true, "enqueue": true,
	"sync": true, "queue": true, "dead-letters": true, "requeue": true,
	"sweep": true, "stats": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   __
  / _|___ _ _ _ _ _  _
 |  _/ -_) '_| '_| || |
 |_| \___|_| |_|  \_, |
                  |__/

  Offline learning content and deferred sync

  Usage: ferry <command> [options]
         ferry --help

  MCP server mode requires piped input.`)
}

// newLogger builds the process logger. Output goes to stderr so MCP stdio
// stays clean.
func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// newService wires the offline service to the configured remote endpoints.
func newService(database *sql.DB, cfg *config.Config, logger *slog.Logger) *offline.Service {
	if cfg.ContentURL == "" {
		logger.Warn("content_url is not set; downloads will fail")
	}
	if cfg.SyncURL == "" {
		logger.Warn("sync_url is not set; sync passes will fail")
	}

	opts := []offline.Option{offline.WithLogger(logger)}
	if cfg.ProbeURL != "" {
		opts = append(opts, offline.WithProbe(remote.New(cfg.ProbeURL, nil)))
	}
	return offline.New(database, cfg, remote.New(cfg.ContentURL, nil), remote.New(cfg.SyncURL, nil), opts...)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	baseDir := config.BaseDir()

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	svc := newService(database, cfg, logger)
	defer svc.Close()

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(svc, cfg, logger)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'ferry --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := svc.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := mcp.Run(svc, cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
