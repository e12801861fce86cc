package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/pipeline"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Extract fields and embeddings for every posting that still needs them",
	Run: func(cmd *cobra.Command, _ []string) {
		runProcess(cmd)
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().Bool("force-refresh", false, "re-derive fields and embeddings for all postings, including processed ones")
}

func runProcess(cmd *cobra.Command) {
	ctx := context.Background()
	l := newLogger()

	config, err := getConfig()
	if err != nil {
		l.Fatal("getting a config", zap.Error(err))
	}

	st := openStore(config, l)

	force := cmd.Flag("force-refresh").Value.String() == "true"
	pipe, err := buildPipeline(ctx, config, st, force, l)
	if err != nil {
		l.Fatal("building the pipeline", zap.Error(err))
	}

	summary, err := pipe.Run(ctx)
	logSummary(l, summary)
	if err != nil {
		l.Fatal("pipeline run failed", zap.Error(err))
	}
}

func logSummary(l *zap.Logger, summary pipeline.Summary) {
	l.Info("run summary",
		zap.String("run_id", summary.RunID),
		zap.Int("extracted", summary.Extract.Succeeded),
		zap.Int("extract_failures", summary.Extract.Failed),
		zap.Int("embedded", summary.Embed.Succeeded),
		zap.Int("embed_failures", summary.Embed.Failed),
		zap.Duration("duration", summary.Duration),
	)
}
