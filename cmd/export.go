package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the posting collection to a file or stdout",
	Run: func(cmd *cobra.Command, _ []string) {
		runExport(cmd)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("format", "json", "output format: json or csv")
	exportCmd.Flags().StringP("out", "o", "", "output file (default is stdout)")
}

func runExport(cmd *cobra.Command) {
	l := newLogger()

	config, err := getConfig()
	if err != nil {
		l.Fatal("getting a config", zap.Error(err))
	}

	format, err := export.ParseFormat(cmd.Flag("format").Value.String())
	if err != nil {
		l.Fatal("parsing the format flag", zap.Error(err))
	}

	st := openStore(config, l)

	out := os.Stdout
	if path := cmd.Flag("out").Value.String(); path != "" {
		file, err := os.Create(path)
		if err != nil {
			l.Fatal("creating the output file", zap.Error(err))
		}
		defer file.Close()
		out = file
	}

	if err := export.Records(out, format, st.All()); err != nil {
		l.Fatal("exporting postings", zap.Error(err))
	}

	l.Info("export finished",
		zap.Int("records", st.Len()),
		zap.String("format", string(format)),
	)
}
