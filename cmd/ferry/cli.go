package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/ferry/internal/config"
	"github.com/hpungsan/ferry/internal/content"
	"github.com/hpungsan/ferry/internal/errors"
	"github.com/hpungsan/ferry/internal/offline"
	"github.com/hpungsan/ferry/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(svc *offline.Service, cfg *config.Config, logger *slog.Logger) *cli.App {
	app := &cli.App{
		Name:    "ferry",
		Usage:   "Offline learning content and deferred sync",
		Version: Version,
		Commands: []*cli.Command{
			downloadCmd(svc),
			removeCmd(svc),
			getCmd(svc),
			listCmd(svc),
			progressCmd(svc),
			completeCmd(svc),
			playCmd(svc),
			enqueueCmd(svc),
			syncCmd(svc),
			queueCmd(svc),
			deadLettersCmd(svc),
			requeueCmd(svc),
			sweepCmd(svc),
			statsCmd(svc, cfg),
			serveCmd(svc, logger),
		},
	}
	app.Before = func(c *cli.Context) error {
		// serve sweeps through svc.Start; every other command sweeps here so
		// one-shot runs never see expired content.
		if svc == nil || c.Args().First() == "serve" {
			return nil
		}
		if _, err := svc.SweepExpired(c.Context); err != nil {
			return outputError(err)
		}
		return nil
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "table", Usage: "Output format: table|json"}
}

// downloadCmd creates the download command.
func downloadCmd(svc *offline.Service) *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Download a content item for offline use",
		ArgsUsage: "<kind> <id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return outputError(errors.NewInvalidRequest("usage: ferry download <kind> <id>"))
			}
			kind, ok := content.ParseKind(c.Args().Get(0))
			if !ok {
				return outputError(errors.NewInvalidRequest("unknown content kind: " + c.Args().Get(0)))
			}

			entry, err := svc.Download(c.Context, c.Args().Get(1), kind)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, entry.Summarize())
		},
	}
}

// removeCmd creates the remove command.
func removeCmd(svc *offline.Service) *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove a downloaded item (no-op if absent)",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireID(c)
			if err != nil {
				return outputError(err)
			}
			if err := svc.Remove(c.Context, id); err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{"id": id, "removed": true})
		},
	}
}

// getCmd creates the get command.
func getCmd(svc *offline.Service) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a downloaded item",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-payload", Usage: "Exclude the payload from output"},
		},
		Action: func(c *cli.Context) error {
			id, err := requireID(c)
			if err != nil {
				return outputError(err)
			}
			entry, err := svc.Get(c.Context, id)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("no-payload") {
				return outputJSON(c.App.Writer, entry.Summarize())
			}
			return outputJSON(c.App.Writer, entry)
		},
	}
}

// listCmd creates the list command.
func listCmd(svc *offline.Service) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List downloaded content",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Filter by kind"},
			formatFlag(),
		},
		Action: func(c *cli.Context) error {
			var kind content.Kind
			if s := c.String("kind"); s != "" {
				k, ok := content.ParseKind(s)
				if !ok {
					return outputError(errors.NewInvalidRequest("unknown content kind: " + s))
				}
				kind = k
			}

			entries, err := svc.List(c.Context)
			if err != nil {
				return outputError(err)
			}
			items := make([]content.Summary, 0, len(entries))
			for i := range entries {
				if kind != "" && entries[i].Kind != kind {
					continue
				}
				items = append(items, entries[i].Summarize())
			}

			switch c.String("format") {
			case "json":
				return outputJSON(c.App.Writer, items)
			case "table":
				t := newTable(c.App.Writer)
				t.AppendHeader(table.Row{"ID", "Kind", "Title", "Subject", "Size", "Progress", "Expires"})
				for _, s := range items {
					t.AppendRow(table.Row{s.ID, s.Kind, s.Title, s.Subject, s.SizeBytes, progressCell(s.Progress), timeCell(s.ExpiresAt)})
				}
				t.AppendFooter(table.Row{"", "", "", "Total", sumSizes(items), "", ""})
				t.Render()
				return nil
			default:
				return outputError(errors.NewInvalidRequest("invalid format: " + c.String("format")))
			}
		},
	}
}

// progressCmd creates the progress command.
func progressCmd(svc *offline.Service) *cli.Command {
	return &cli.Command{
		Name:      "progress",
		Usage:     "Record progress against a downloaded item",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "percentage", Aliases: []string{"p"}, Usage: "Completion percentage (clamped to 0-100)"},
			&cli.IntFlag{Name: "time-spent", Aliases: []string{"t"}, Usage: "Total time spent in seconds"},
			&cli.Float64Flag{Name: "position", Usage: "Playback position in seconds"},
			&cli.BoolFlag{Name: "completed", Usage: "Completed flag"},
		},
		Action: func(c *cli.Context) error {
			id, err := requireID(c)
			if err != nil {
				return outputError(err)
			}

			var patch content.ProgressPatch
			if c.IsSet("percentage") {
				v := c.Float64("percentage")
				patch.Percentage = &v
			}
			if c.IsSet("time-spent") {
				v := c.Int("time-spent")
				patch.TimeSpentSeconds = &v
			}
			if c.IsSet("position") {
				v := c.Float64("position")
				patch.LastPosition = &v
			}
			if c.IsSet("completed") {
				v := c.Bool("completed")
				patch.Completed = &v
			}

			entry, err := svc.UpdateProgress(c.Context, id, patch)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, entry.Summarize())
		},
	}
}

// completeCmd creates the complete command.
func completeCmd(svc *offline.Service) *cli.Command {
	return &cli.Command{
		Name:      "complete",
		Usage:     "Mark a downloaded item complete",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireID(c)
			if err != nil {
				return outputError(err)
			}
			entry, err := svc.MarkComplete(c.Context, id)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, entry.Summarize())
		},
	}
}

// playCmd creates the play command.
func playCmd(svc *offline.Service) *cli.Command {
	return &cli.Command{
		Name:      "play",
		Usage:     "Track playback of an item for a number of seconds",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "seconds", Aliases: []string{"s"}, Value: 60, Usage: "Seconds to play"},
			&cli.BoolFlag{Name: "fast", Usage: "Advance without waiting in real time"},
		},
		Action: func(c *cli.Context) error {
			id, err := requireID(c)
			if err != nil {
				return outputError(err)
			}
			seconds := c.Int("seconds")
			if seconds <= 0 {
				return outputError(errors.NewInvalidRequest("seconds must be positive"))
			}

			p, err := svc.Playback(c.Context, id)
			if err != nil {
				return outputError(err)
			}

			if c.Bool("fast") {
				for i := 0; i < seconds; i++ {
					if err := p.Tick(c.Context); err != nil {
						return outputError(err)
					}
				}
			} else {
				ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
				p.Play(ctx)
				select {
				case <-time.After(time.Duration(seconds) * time.Second):
				case <-ctx.Done():
				}
				stop()
			}
			if err := p.Stop(c.Context); err != nil {
				return outputError(err)
			}

			entry, err := svc.Get(c.Context, id)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, entry.Summarize())
		},
	}
}

// enqueueCmd creates the enqueue command.
func enqueueCmd(svc *offline.Service) *cli.Command {
	return &cli.Command{
		Name:  "enqueue",
		Usage: "Queue a sync entry (reads JSON data from --data or stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Required: true, Usage: "progress|completion|note|bookmark|quiz_result"},
			&cli.StringFlag{Name: "operation", Aliases: []string{"o"}, Value: string(content.OperationCreate), Usage: "create|update|delete"},
			&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "JSON data"},
		},
		Action: func(c *cli.Context) error {
			data := c.String("data")
			if data == "" {
				text, err := readInput(c.App.Reader)
				if err != nil {
					return outputError(err)
				}
				data = text
			}

			entry, err := svc.Enqueue(c.Context, content.Category(c.String("category")), content.Operation(c.String("operation")), json.RawMessage(data))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, entry)
		},
	}
}

// syncCmd creates the sync command.
func syncCmd(svc *offline.Service) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Deliver queued entries to the remote service",
		Action: func(c *cli.Context) error {
			res, err := svc.SyncPendingChanges(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, res)
		},
	}
}

// queueCmd creates the queue command.
func queueCmd(svc *offline.Service) *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Show pending sync entries in delivery order",
		Flags: []cli.Flag{formatFlag()},
		Action: func(c *cli.Context) error {
			queue, err := svc.Queue(c.Context)
			if err != nil {
				return outputError(err)
			}

			switch c.String("format") {
			case "json":
				return outputJSON(c.App.Writer, queue)
			case "table":
				t := newTable(c.App.Writer)
				t.AppendHeader(table.Row{"Seq", "ID", "Category", "Operation", "Queued", "Retries", "Last error"})
				for _, e := range queue {
					t.AppendRow(table.Row{e.Seq, e.ID, e.Category, e.Operation, e.EnqueuedAt.Format(time.RFC3339), e.RetryCount, e.LastError})
				}
				t.Render()
				return nil
			default:
				return outputError(errors.NewInvalidRequest("invalid format: " + c.String("format")))
			}
		},
	}
}

// deadLettersCmd creates the dead-letters command.
func deadLettersCmd(svc *offline.Service) *cli.Command {
	return &cli.Command{
		Name:  "dead-letters",
		Usage: "Show sync entries that exhausted their retries",
		Flags: []cli.Flag{formatFlag()},
		Action: func(c *cli.Context) error {
			letters, err := svc.DeadLetters(c.Context)
			if err != nil {
				return outputError(err)
			}

			switch c.String("format") {
			case "json":
				return outputJSON(c.App.Writer, letters)
			case "table":
				t := newTable(c.App.Writer)
				t.AppendHeader(table.Row{"ID", "Category", "Operation", "Failed", "Retries", "Last error"})
				for _, d := range letters {
					t.AppendRow(table.Row{d.ID, d.Category, d.Operation, d.FailedAt.Format(time.RFC3339), d.RetryCount, d.LastError})
				}
				t.Render()
				return nil
			default:
				return outputError(errors.NewInvalidRequest("invalid format: " + c.String("format")))
			}
		},
	}
}

// requeueCmd creates the requeue command.
func requeueCmd(svc *offline.Service) *cli.Command {
	return &cli.Command{
		Name:      "requeue",
		Usage:     "Move a dead letter back to the sync queue",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireID(c)
			if err != nil {
				return outputError(err)
			}
			entry, err := svc.Requeue(c.Context, id)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, entry)
		},
	}
}

// sweepCmd creates the sweep command.
func sweepCmd(svc *offline.Service) *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Remove expired content",
		Action: func(c *cli.Context) error {
			removed, err := svc.SweepExpired(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{"removed": removed})
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(svc *offline.Service, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show storage and sync statistics",
		Flags: []cli.Flag{formatFlag()},
		Action: func(c *cli.Context) error {
			stats, err := svc.Stats(c.Context)
			if err != nil {
				return outputError(err)
			}

			switch c.String("format") {
			case "json":
				return outputJSON(c.App.Writer, stats)
			case "table":
				t := newTable(c.App.Writer)
				t.AppendRows([]table.Row{
					{"Items", stats.ItemCount},
					{"Storage used", fmt.Sprintf("%d / %d bytes", stats.StorageUsedBytes, stats.StorageLimitBytes)},
					{"Pending sync", stats.PendingCount},
					{"Dead letters", stats.DeadLetterCount},
					{"Last sync", timeCell(stats.LastSyncAt)},
				})
				if cfg != nil && cfg.MaxRetries > 0 {
					t.AppendRow(table.Row{"Max retries", cfg.MaxRetries})
				}
				t.Render()
				return nil
			default:
				return outputError(errors.NewInvalidRequest("invalid format: " + c.String("format")))
			}
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(svc *offline.Service, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the web UI with background sweep and sync",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8377, Usage: "Listen port"},
		},
		Action: func(c *cli.Context) error {
			if err := svc.Start(c.Context); err != nil {
				return outputError(err)
			}
			srv := web.NewServer(svc, Version, c.String("bind"), c.Int("port"), logger)
			return web.Run(srv, logger)
		},
	}
}

// Helper functions

// outputJSON writes v to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if ferr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", ferr.Code, ferr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

func requireID(c *cli.Context) (string, error) {
	id := strings.TrimSpace(c.Args().First())
	if id == "" {
		return "", errors.NewInvalidRequest("id is required")
	}
	return id, nil
}

// readInput reads all of r. Reading from an interactive stdin is refused.
func readInput(r io.Reader) (string, error) {
	if r == os.Stdin && !stdinHasData() {
		return "", errors.NewInvalidRequest("data must be given via --data or piped via stdin")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.NewInvalidRequest("data is required")
	}
	return text, nil
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func progressCell(p *content.Progress) string {
	switch {
	case p == nil:
		return "-"
	case p.Completed:
		return "done"
	default:
		return fmt.Sprintf("%.0f%%", p.Percentage)
	}
}

func timeCell(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func sumSizes(items []content.Summary) int64 {
	var total int64
	for _, s := range items {
		total += s.SizeBytes
	}
	return total
}
