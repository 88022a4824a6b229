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
	"strconv"
	"syscall"
	"time"

	"github.com/wilhg/lyrcache/internal/httpapi"
	"github.com/wilhg/lyrcache/pkg/cache"
	"github.com/wilhg/lyrcache/pkg/lyrics"
	lyrotel "github.com/wilhg/lyrcache/pkg/otel"
	"github.com/wilhg/lyrcache/pkg/store/sqlstore"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

type options struct {
	addr           string
	databaseURL    string
	name           string
	payloadVersion int
	defaultTTL     time.Duration
	logFormat      string
	traceStdout    bool
	lrclibURL      string
	spicyURL       string
	showVersion    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("lyrcache %s (commit=%s, date=%s)\n", version, commit, date)
		return
	}
	if err := run(ctx, opts, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("lyrcache", flag.ContinueOnError)
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	fs.StringVar(&o.addr, "addr", getEnv("LYRCACHE_ADDR", ":8080"), "http listen address")
	fs.StringVar(&o.databaseURL, "db", getEnv("DATABASE_URL", "sqlite:file:lyrcache.sqlite?_pragma=busy_timeout(5000)"), "database URL (sqlite:... or postgres://...)")
	fs.StringVar(&o.name, "name", getEnv("LYRCACHE_NAME", cache.DefaultName), "cache name")
	fs.IntVar(&o.payloadVersion, "payload-version", getEnvInt("LYRCACHE_PAYLOAD_VERSION", cache.DefaultPayloadVersion), "payload format version; older records are treated as misses")
	fs.DurationVar(&o.defaultTTL, "default-ttl", getEnvDuration("LYRCACHE_DEFAULT_TTL", cache.DefaultTTL), "default TTL of expiring records")
	fs.StringVar(&o.logFormat, "log-format", getEnv("LYRCACHE_LOG_FORMAT", "text"), "log format: text or json")
	fs.BoolVar(&o.traceStdout, "trace-stdout", getEnv("LYRCACHE_TRACE_STDOUT", "") == "1", "export traces to stdout")
	fs.StringVar(&o.lrclibURL, "lrclib-url", getEnv("LRCLIB_URL", lyrics.DefaultLRCLibURL), "LRCLIB base URL")
	fs.StringVar(&o.spicyURL, "spicy-url", getEnv("SPICY_LYRICS_URL", lyrics.DefaultSpicyLyricsURL), "Spicy Lyrics base URL")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.payloadVersion < 1 {
		return options{}, fmt.Errorf("payload-version must be >= 1, got %d", o.payloadVersion)
	}
	return o, nil
}

func run(ctx context.Context, o options, logOut io.Writer) error {
	logger := newLogger(o.logFormat, logOut)
	slog.SetDefault(logger)

	shutdownTracing, err := lyrotel.Init(ctx, lyrotel.Config{ServiceVersion: version, UseStdout: o.traceStdout})
	if err != nil {
		return fmt.Errorf("otel init: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	backend, err := sqlstore.Open(ctx, o.databaseURL, sqlstore.WithName(o.name))
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()
	if err := backend.Migrate(ctx); err != nil {
		return err
	}

	c := cache.New(backend,
		cache.WithName(o.name),
		cache.WithPayloadVersion(o.payloadVersion),
		cache.WithDefaultTTL(o.defaultTTL),
		cache.WithLogger(logger),
	)
	defer func() { _ = c.Close() }()

	client := lyrics.NewHTTPClient(15 * time.Second)
	api, err := httpapi.New(c,
		lyrics.NewLRCLib(o.lrclibURL, client),
		lyrics.NewFetcher(c, lyrics.NewSpicyLyrics(o.spicyURL, client), logger),
		logger,
	)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              o.addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", o.addr, "db", sqlstore.Redact(o.databaseURL), "version", version)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(sctx)
}

func newLogger(format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func getEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}
