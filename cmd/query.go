package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Rank stored postings against a resume and print the best matches",
	Run: func(cmd *cobra.Command, _ []string) {
		runQuery(cmd)
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringP("resume", "r", "", "path to the resume text file (required)")
	queryCmd.Flags().IntP("top", "t", 10, "number of matches to print")

	queryCmd.MarkFlagRequired("resume")
}

func runQuery(cmd *cobra.Command) {
	ctx := context.Background()
	l := newLogger()

	config, err := getConfig()
	if err != nil {
		l.Fatal("getting a config", zap.Error(err))
	}

	resumeText, err := os.ReadFile(cmd.Flag("resume").Value.String())
	if err != nil {
		l.Fatal("reading the resume file", zap.Error(err))
	}

	st := openStore(config, l)

	pipe, err := buildPipeline(ctx, config, st, false, l)
	if err != nil {
		l.Fatal("building the pipeline", zap.Error(err))
	}

	topK, err := cmd.Flags().GetInt("top")
	if err != nil {
		l.Fatal("reading the top flag", zap.Error(err))
	}

	ranked, err := pipe.RankAgainstResume(ctx, string(resumeText), topK)
	if err != nil {
		l.Fatal("ranking postings", zap.Error(err))
	}

	if len(ranked) == 0 {
		l.Info("no embedded postings to rank", zap.String("hint", "run 'job-radar process' first"))
		return
	}

	for i, match := range ranked {
		p := match.Record.Posting
		fmt.Printf("%2d. %.4f  %s / %s / %s\n", i+1, match.Score, p.Title, p.Company, p.Location)
		if p.URL != "" {
			fmt.Printf("           %s\n", p.URL)
		}
	}
}
