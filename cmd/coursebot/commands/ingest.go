package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coursebot/internal/app"
)

func newIngestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Rebuild the chunk store from the docs directory",
		Long: "Load every course source, chunk it, replace the stored chunks and build a trial index over them. " +
			"A source that cannot be processed halts the run and leaves the store unchanged. " +
			"The trial index is released on exit; a server builds its own index from the store when it starts.",
		Args: cobra.NoArgs,
		RunE: runIngest,
	}
	cmd.Flags().String("docs", "", "Docs directory (overrides corpus.docs_dir)")
	return cmd
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("docs"); dir != "" {
		cfg.Corpus.DocsDir = dir
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
	defer func() { _ = a.Close(context.WithoutCancel(cmd.Context())) }()

	report, err := a.Pipeline.Run(cmd.Context())
	if err != nil {
		logger.Error("ingest failed", zap.Error(err))
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d documents into %d chunks (removed %d, generation %d) in %s\n",
		report.Documents, report.Chunks, report.Removed, report.Generation, report.Duration.Round(time.Millisecond))
	return err
}
