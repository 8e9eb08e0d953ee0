// CLAUDE:SUMMARY CLI entry point for wirediff: batch comparison of wireframe pages against live pages, or HTTP/MCP serve mode.
// Command wirediff compares wireframe PDF pages against live web pages.
//
// Usage:
//
//	wirediff -config wirediff.yaml          # run the configured comparisons, print a JSON summary
//	wirediff -config wirediff.yaml -serve   # serve the HTTP API and MCP endpoint
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/wirediff/capture"
	"github.com/hazyhaar/wirediff/compare"
	"github.com/hazyhaar/wirediff/config"
	"github.com/hazyhaar/wirediff/pixeldiff"
	"github.com/hazyhaar/wirediff/raster"
	"github.com/hazyhaar/wirediff/scoring"
	"github.com/hazyhaar/wirediff/server"
	"github.com/hazyhaar/wirediff/store"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to wirediff.yaml (empty: defaults + WIREDIFF_* env)")
	serve := flag.Bool("serve", false, "serve the HTTP API instead of running the batch")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *serve); err != nil {
		logger.Error("wirediff: fatal", "error", err)
		os.Exit(1)
	}
}

// pipeline holds the long-lived pieces shared by batch and serve mode.
type pipeline struct {
	cmp      *compare.Comparator
	renderer *capture.RodRenderer
	store    *store.Store
}

func (p *pipeline) Close() {
	if p.store != nil {
		p.store.Close()
	}
	if p.renderer != nil {
		p.renderer.Close()
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, serve bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !serve && len(cfg.Comparisons) == 0 {
		return errors.New("no comparisons configured")
	}

	p, err := build(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	if serve {
		return runServer(ctx, logger, cfg, p)
	}
	return runBatch(ctx, logger, cfg, p)
}

// build wires the pipeline. The rasterizer binary or the browser failing
// here aborts the run before any comparison starts.
func build(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*pipeline, error) {
	layout := compare.Layout{Root: cfg.OutputDir}
	if err := layout.Ensure(); err != nil {
		return nil, err
	}

	rz := raster.New(raster.Config{
		Binary:  cfg.Raster.Binary,
		Timeout: cfg.RasterTimeout(),
		Logger:  logger,
	})
	if err := rz.Check(); err != nil {
		return nil, err
	}

	p := &pipeline{}
	p.renderer = capture.NewRodRenderer(capture.RodConfig{
		RemoteURL:       cfg.Browser.Remote,
		Bin:             cfg.Browser.Bin,
		NoSandbox:       cfg.Browser.NoSandbox,
		Stealth:         cfg.Browser.Stealth,
		RecycleInterval: cfg.Browser.RecycleInterval,
		Logger:          logger,
	})
	if err := p.renderer.Start(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	if cfg.StoreEnabled() {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		p.store = st
	}

	diff := pixeldiff.DefaultOptions()
	diff.Threshold = cfg.PixelTolerance
	diff.IncludeAA = cfg.IncludeAntiAliased

	ccfg := compare.Config{
		Layout:      layout,
		SettleDelay: cfg.SettleDelay(),
		Diff:        diff,
		Logger:      logger,
	}
	if cfg.Scoring.URL != "" {
		ccfg.Analyzer = scoring.New(scoring.Config{
			URL:     cfg.Scoring.URL,
			Timeout: cfg.ScoringTimeout(),
			Logger:  logger,
		})
	}

	capturer := capture.New(p.renderer, capture.Config{
		NavigationTimeout: cfg.RequestTimeout(),
		Logger:            logger,
	})
	cmp, err := compare.New(rz, capturer, ccfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.cmp = cmp
	return p, nil
}

type summary struct {
	RunID         string           `json:"run_id"`
	OutputDir     string           `json:"output_dir"`
	Total         int              `json:"total"`
	Completed     int              `json:"completed"`
	Failed        int              `json:"failed"`
	FailedScreens []string         `json:"failed_screens,omitempty"`
	Results       []compare.Result `json:"results"`
}

func runBatch(ctx context.Context, logger *slog.Logger, cfg *config.Config, p *pipeline) error {
	for _, err := range cfg.InvalidComparisons() {
		logger.Warn("wirediff: comparison will fail", "error", err)
	}
	bc := compare.BatchConfig{Pacing: cfg.BatchPacing(), Logger: logger}
	if p.store != nil {
		bc.Recorder = p.store
	}
	rep := compare.NewBatch(p.cmp, bc).Run(ctx, cfg.Comparisons)

	s := summary{
		RunID:     rep.RunID,
		OutputDir: cfg.OutputDir,
		Total:     len(rep.Results),
		Completed: rep.Completed(),
		Failed:    rep.Failed(),
		Results:   rep.Results,
	}
	for _, r := range rep.FailedResults() {
		s.FailedScreens = append(s.FailedScreens, r.ScreenName)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func runServer(ctx context.Context, logger *slog.Logger, cfg *config.Config, p *pipeline) error {
	h := server.New(p.cmp, server.Config{
		ArtifactRoot: cfg.OutputDir,
		DocumentRoot: cfg.HTTP.DocumentRoot,
		Store:        p.store,
		Logger:       logger,
		Version:      version,
	}).Handler()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("wirediff: listening", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("wirediff: shutting down")
	return srv.Shutdown(shutdownCtx)
}
