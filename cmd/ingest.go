package cmd

import (
	"context"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/ingest"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load scraped postings into the store, deduplicating against existing records",
	Run: func(cmd *cobra.Command, _ []string) {
		runIngest(cmd)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringP("file", "f", "", "JSON file with scraped postings (required)")
	ingestCmd.Flags().BoolP("process", "p", false, "run the enrichment pipeline right after ingestion without asking")

	ingestCmd.MarkFlagRequired("file")
}

func runIngest(cmd *cobra.Command) {
	ctx := context.Background()
	l := newLogger()

	config, err := getConfig()
	if err != nil {
		l.Fatal("getting a config", zap.Error(err))
	}

	st := openStore(config, l)

	ingestor := ingest.New(st, l)
	result, err := ingestor.FromFile(cmd.Flag("file").Value.String())
	if err != nil {
		l.Fatal("ingesting postings", zap.Error(err))
	}

	pending := result.Added + result.Refreshed
	if pending == 0 {
		l.Info("nothing new to process")
		return
	}

	process := cmd.Flag("process").Value.String() == "true"
	if !process {
		prompt := promptui.Select{
			Label: "Process the new postings now?",
			Items: []string{PromptYes, PromptNo},
		}

		_, answer, err := prompt.Run()
		if err != nil || answer != PromptYes {
			l.Info("skipping processing", zap.Int("pending", pending))
			return
		}
	}

	pipe, err := buildPipeline(ctx, config, st, false, l)
	if err != nil {
		l.Fatal("building the pipeline", zap.Error(err))
	}

	summary, err := pipe.Run(ctx)
	logSummary(l, summary)
	if err != nil {
		l.Fatal("pipeline run failed", zap.Error(err))
	}
}
