package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/hyper-ai-inc/hopx-panel/internal/config"
)

var version = "dev"

const shutdownTimeout = 30 * time.Second

type CLI struct {
	Serve   ServeCommand   `cmd:"" default:"withargs" help:"Run the control panel server"`
	Version VersionCommand `cmd:"" help:"Print the version"`
}

type ServeCommand struct {
	Config    string `help:"YAML config file; a missing file is ignored" default:"panel.yaml"`
	EnvFile   string `help:"dotenv file loaded before reading the environment" default:".env"`
	Listen    string `help:"Listen address (overrides PORT and the config file)"`
	LogLevel  string `help:"Log level (debug|info|warn|error)"`
	LogFormat string `help:"Log format (text|json)"`
}

type VersionCommand struct{}

type runtimeContext struct {
	Stdout io.Writer
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var cli CLI
	parser, err := kong.New(
		&cli,
		kong.Name("hopx-panel"),
		kong.Description("Control panel for HopX sandboxes"),
		kong.Writers(stdout, os.Stderr),
	)
	if err != nil {
		return err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return ctx.Run(&runtimeContext{Stdout: stdout})
}

func (v *VersionCommand) Run(ctx *runtimeContext) error {
	_, err := fmt.Fprintf(ctx.Stdout, "hopx-panel %s\n", version)
	return err
}

// load resolves the configuration, letting flags win over file and environment.
func (s *ServeCommand) load() (config.Config, error) {
	cfg, err := config.Load(s.Config, s.EnvFile)
	if err != nil {
		return config.Config{}, err
	}
	if s.Listen != "" {
		cfg.Listen = s.Listen
	}
	if s.LogLevel != "" {
		cfg.LogLevel = s.LogLevel
	}
	if s.LogFormat != "" {
		cfg.LogFormat = s.LogFormat
	}
	return cfg, nil
}

func (s *ServeCommand) Run(ctx *runtimeContext) error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	logger, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	if !cfg.HasAPIKey() {
		logger.Warn("HOPX_API_KEY is not set. API requests will fail until it is provided.")
	}

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return serve(runCtx, cfg, logger)
}

func newLogger(w io.Writer, rawLevel, format string) (*log.Logger, error) {
	levelName := strings.TrimSpace(strings.ToLower(rawLevel))
	if levelName == "" {
		levelName = "info"
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", rawLevel, err)
	}

	formatter := log.TextFormatter
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
	case "json":
		formatter = log.JSONFormatter
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
	}), nil
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	server := NewServer(cfg, logger)
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Listen, "version", version)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	server.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
