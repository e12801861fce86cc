package cmd

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/ai"
	"github.com/spigell/job-radar/internal/ai/gemini"
	"github.com/spigell/job-radar/internal/logger"
	"github.com/spigell/job-radar/internal/pipeline"
	"github.com/spigell/job-radar/internal/resume"
	"github.com/spigell/job-radar/internal/secrets"
	"github.com/spigell/job-radar/internal/store"
)

const (
	app = "job-radar"

	resumeCacheFile = "resume-profiles.json"
)

type Config struct {
	StoreFile string          `mapstructure:"store-file"`
	AI        *AIConfig       `mapstructure:"ai"`
	Pipeline  *PipelineConfig `mapstructure:"pipeline"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey             string `mapstructure:"api-key"`
	APIKeyFile         string `mapstructure:"api-key-file"`
	Model              string `mapstructure:"model"`
	EmbeddingModel     string `mapstructure:"embedding-model"`
	EmbeddingDimension int    `mapstructure:"embedding-dimension"`
	MaxRetries         int    `mapstructure:"max-retries"`
	RequestsPerMinute  int    `mapstructure:"requests-per-minute"`
	MaxLogLength       int    `mapstructure:"max-log-length"`
}

type PipelineConfig struct {
	BatchSize   int `mapstructure:"batch-size"`
	Parallelism int `mapstructure:"parallelism"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "job-radar ingests scraped job postings, enriches them with an LLM and ranks them against your resume",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// A local .env file is the easiest place for the API key during
	// development. Missing file is fine.
	_ = godotenv.Load()

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is job-radar.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("store-file", app+".json", "path to the posting store file")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("store-file", rootCmd.PersistentFlags().Lookup("store-file"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
		viper.SetConfigType("yaml")
	}

	// The config file is optional: every knob has a default or a flag. A
	// present but unparseable file is still fatal.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return
		}
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config == nil {
		config = &Config{}
	}
	if config.StoreFile == "" {
		config.StoreFile = viper.GetString("store-file")
	}

	return config, nil
}

func newLogger() *zap.Logger {
	l, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	return l
}

func openStore(config *Config, l *zap.Logger) *store.Store {
	st, err := store.Open(config.StoreFile, l)
	if err != nil {
		l.Fatal("opening the posting store", zap.Error(err))
	}
	return st
}

// newProviders builds the extractor and embedder for the configured AI
// provider. Gemini is the only provider for now.
func newProviders(ctx context.Context, config *Config, l *zap.Logger) (ai.Extractor, ai.Embedder, error) {
	aiCfg := config.AI
	if aiCfg == nil {
		aiCfg = &AIConfig{}
	}

	provider := strings.TrimSpace(strings.ToLower(aiCfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, nil, errors.New("unsupported ai provider: " + aiCfg.Provider)
	}

	geminiCfg := aiCfg.Gemini
	if geminiCfg == nil {
		geminiCfg = &GeminiConfig{}
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: geminiCfg.APIKey,
		Env:   "GEMINI_API_KEY",
		File:  geminiCfg.APIKeyFile,
	})
	if err != nil {
		return nil, nil, err
	}

	policy := ai.DefaultPolicy()
	if geminiCfg.MaxRetries > 0 {
		policy.MaxRetries = geminiCfg.MaxRetries
	}
	if geminiCfg.RequestsPerMinute > 0 {
		policy.RequestsPerMinute = geminiCfg.RequestsPerMinute
	}
	if config.Pipeline != nil && config.Pipeline.BatchSize > 0 {
		policy.MaxBatchSize = config.Pipeline.BatchSize
	}

	client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:             apiKey,
		Model:              geminiCfg.Model,
		EmbeddingModel:     geminiCfg.EmbeddingModel,
		EmbeddingDimension: geminiCfg.EmbeddingDimension,
		Policy:             policy,
	}, l)
	if err != nil {
		return nil, nil, err
	}

	extractor := gemini.NewExtractor(client, policy.MaxBatchSize, geminiCfg.MaxLogLength, l)
	embedder := gemini.NewEmbedder(client, policy.MaxBatchSize, l)

	return extractor, embedder, nil
}

func buildPipeline(ctx context.Context, config *Config, st *store.Store, forceRefresh bool, l *zap.Logger) (*pipeline.Pipeline, error) {
	extractor, embedder, err := newProviders(ctx, config, l)
	if err != nil {
		return nil, err
	}

	cachePath := filepath.Join(filepath.Dir(config.StoreFile), resumeCacheFile)
	resumes := resume.NewManager(extractor, embedder, cachePath, l)

	opts := pipeline.Options{ForceRefresh: forceRefresh}
	if config.Pipeline != nil {
		opts.BatchSize = config.Pipeline.BatchSize
		opts.Parallelism = config.Pipeline.Parallelism
	}

	return pipeline.New(st, extractor, embedder, resumes, opts, l), nil
}
