package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coursebot/internal/app"
	"coursebot/internal/domain"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API",
		Long: "Serve POST /chat for the course site's chat widget. The index is built from the chunk store at startup; " +
			"an empty store is first filled from the docs directory.",
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().Bool("watch", false, "Re-ingest the docs directory when course sources change")
	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("watch") {
		cfg.Corpus.Watch, _ = cmd.Flags().GetBool("watch")
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			logger.Warn("shutdown cleanup failed", zap.Error(err))
		}
	}()

	ctx := cmd.Context()
	report, err := a.Bootstrap(ctx)
	switch {
	case err == nil:
		logger.Info("index ready",
			zap.Int("documents", report.Documents),
			zap.Int("chunks", report.Chunks),
			zap.Uint64("generation", report.Generation),
			zap.Duration("duration", report.Duration))
	case cfg.Corpus.Watch && !domain.IsCanceled(err):
		// the watcher retries on the next source change; until then /chat answers 503
		logger.Error("initial index build failed, serving unavailable until a rebuild succeeds", zap.Error(err))
	default:
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Server(Version).Start(ctx) })
	if cfg.Corpus.Watch {
		g.Go(func() error { return a.Watcher().Run(ctx) })
	}
	return g.Wait()
}
