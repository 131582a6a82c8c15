// Package main is logtail, the developer utility that follows and exports
// activity logs.
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

	"github.com/educode/educode/internal/activity"
	"github.com/educode/educode/internal/archive"
	"github.com/educode/educode/internal/config"
	"github.com/educode/educode/internal/db"
	"github.com/educode/educode/internal/middleware"
	"github.com/educode/educode/internal/relay"
)

func usage() {
	fmt.Println("EduCode logtail")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  logtail watch  [-config file] [-color]")
	fmt.Println("  logtail export [-config file] [-format csv|json] [-out file] [-action prefix] [-since duration] [-archive]")
	fmt.Println()
	fmt.Println("watch follows new activity rows when DATABASE_URL is set; otherwise it")
	fmt.Println("serves the relay socket and prints entries pushed by local clients.")
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-help" || os.Args[1] == "--help" {
		usage()
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "watch":
		err = watchCmd(ctx, os.Args[2:])
	case "export":
		err = exportCmd(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("logtail failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

// loadConfig loads the config and installs the default logger.
func loadConfig(path string) (*config.Config, error) {
	cfg, errs := config.Load(path)
	if cfg == nil {
		return nil, errors.Join(errs...)
	}
	slog.SetDefault(middleware.NewLogger(cfg.Env))
	// logtail runs against whatever is configured; only fatal load errors stop it.
	for _, err := range errs {
		slog.Warn("configuration warning", "error", err)
	}
	return cfg, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func watchCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	color := fs.Bool("color", isTerminal(os.Stdout), "colorize output by action domain")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	console := activity.NewConsole(os.Stdout, *color)
	logger := slog.Default()

	if cfg.DatabaseURL != "" {
		logger.Info("following activity_logs inserts")
		err := activity.NewListener(cfg.DatabaseURL, logger).Run(ctx, func(row *activity.StoredRow) {
			console.Print(row.Entry())
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	return serveRelay(ctx, cfg.RelayAddr, console, logger)
}

// newRelayHandler serves the relay socket and prints every pushed entry.
func newRelayHandler(console *activity.Console, logger *slog.Logger) http.Handler {
	hub := relay.NewHub(console.Print, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeIngest)
	mux.HandleFunc("/ws/watch", hub.ServeWatch)
	return middleware.RequestID(mux)
}

func serveRelay(ctx context.Context, addr string, console *activity.Console, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           newRelayHandler(console, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Watchers hold hijacked connections that Shutdown does not wait for.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	logger.Info("relay stopped")
	return nil
}

// exportOptions are the parsed export flags.
type exportOptions struct {
	activity.ExportOptions
	Out     string
	Archive bool
}

// archiver uploads an export and returns its download link.
type archiver interface {
	Archive(ctx context.Context, data []byte, format activity.ExportFormat) (*archive.Result, error)
}

func parseExportFlags(args []string) (string, exportOptions, error) {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	format := fs.String("format", string(activity.ExportFormatCSV), "export format: csv or json")
	out := fs.String("out", "", "output file (default stdout)")
	action := fs.String("action", "", "only export actions with this prefix, e.g. AUTH_")
	since := fs.Duration("since", 0, "only export rows newer than this, e.g. 24h")
	limit := fs.Int("limit", 0, "maximum number of rows (0 = all)")
	archiveFlag := fs.Bool("archive", false, "upload the export to the R2 bucket and print a download link")
	if err := fs.Parse(args); err != nil {
		return "", exportOptions{}, err
	}

	f, err := activity.ParseExportFormat(*format)
	if err != nil {
		return "", exportOptions{}, err
	}
	opts := exportOptions{
		ExportOptions: activity.ExportOptions{
			Format:       f,
			ActionPrefix: *action,
			Limit:        *limit,
		},
		Out:     *out,
		Archive: *archiveFlag,
	}
	if *since > 0 {
		opts.From = time.Now().Add(-*since)
	}
	return *configPath, opts, nil
}

func exportCmd(ctx context.Context, args []string) error {
	configPath, opts, err := parseExportFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("export requires DATABASE_URL")
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{MaxOpenConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	var store archiver
	if opts.Archive {
		if !cfg.ArchiveEnabled() {
			return errors.New("-archive requires the R2_* settings")
		}
		svc, err := archive.NewService(archive.ConfigFrom(cfg))
		if err != nil {
			return err
		}
		store = svc
	}

	return runExport(ctx, activity.NewPostgresRepository(pool, slog.Default()), opts, store, os.Stdout)
}

// runExport renders the export to opts.Out (stdout when empty) and, when
// store is set, uploads it and prints the download link to stdout.
func runExport(ctx context.Context, repo activity.Repository, opts exportOptions, store archiver, stdout io.Writer) error {
	data, err := activity.ExportLogs(ctx, repo, opts.ExportOptions)
	if err != nil {
		return err
	}

	if opts.Out != "" {
		if err := os.WriteFile(opts.Out, data, 0o644); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		slog.Info("export written", "path", opts.Out, "bytes", len(data))
	} else if store == nil {
		if _, err := stdout.Write(data); err != nil {
			return err
		}
	}

	if store != nil {
		res, err := store.Archive(ctx, data, opts.Format)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "archived %s (link expires %s)\n%s\n", res.Key, res.ExpiresAt.Format(time.RFC3339), res.URL)
	}
	return nil
}
