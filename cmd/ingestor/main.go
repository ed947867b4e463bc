package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/filegraph/filegraph/internal/ingest"
	"github.com/filegraph/filegraph/internal/version"
)

var home, _ = os.UserHomeDir()

var rootCmd = &cobra.Command{
	Use:     "filegraph-ingestor",
	Short:   "Watches a directory tree and publishes FileEvents to the bus",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &ingest.Config{
			Root:              viper.GetString("root"),
			AMQPUrl:           viper.GetString("amqp_url"),
			Exchange:          viper.GetString("exchange"),
			CompanionSuffixes: viper.GetStringSlice("companion_suffixes"),
			ChunkSize:         viper.GetInt("chunk_size"),
			ScanOnStart:       viper.GetBool("scan_on_start"),
			MaxInflight:       viper.GetInt("max_inflight"),
			DrainGrace:        viper.GetDuration("drain_grace"),
			MetricsAddr:       viper.GetString("metrics_addr"),
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader()

		defer slog.Info("Bye!")
		return ingest.NewService(cfg).Run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("root", "r", "", "Directory tree to watch")
	rootCmd.Flags().StringP("amqp", "a", ingest.DefaultAMQPUrl, "AMQP broker URL")
	rootCmd.Flags().StringP("exchange", "e", ingest.DefaultExchange, "Fan-out exchange name")
	rootCmd.Flags().Bool("scan", true, "Ingest files already present under the root on start")
	rootCmd.Flags().StringSlice("suffixes", ingest.DefaultProspectorConfig().CompanionSuffixes, "Companion suffixes treated as neighbors")
	rootCmd.Flags().Int("chunk-size", ingest.DefaultChunkSize, "Read block size while hashing, in bytes")
	rootCmd.Flags().Int("max-inflight", ingest.DefaultMaxInflight, "Max files fingerprinted concurrently")
	rootCmd.Flags().Duration("drain-grace", ingest.DefaultDrainGrace, "Time allowed for in-flight files on shutdown")
	rootCmd.Flags().String("metrics", "", "Bind address for /metrics (empty disables)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path")
}

func main() {
	setupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogger() {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".filegraph"))
		viper.AddConfigPath(filepath.Join(home, ".config/filegraph"))
		viper.SetConfigName("ingestor")
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("root", cmd.Flags().Lookup("root"))
	viper.BindPFlag("amqp_url", cmd.Flags().Lookup("amqp"))
	viper.BindPFlag("exchange", cmd.Flags().Lookup("exchange"))
	viper.BindPFlag("scan_on_start", cmd.Flags().Lookup("scan"))
	viper.BindPFlag("companion_suffixes", cmd.Flags().Lookup("suffixes"))
	viper.BindPFlag("chunk_size", cmd.Flags().Lookup("chunk-size"))
	viper.BindPFlag("max_inflight", cmd.Flags().Lookup("max-inflight"))
	viper.BindPFlag("drain_grace", cmd.Flags().Lookup("drain-grace"))
	viper.BindPFlag("metrics_addr", cmd.Flags().Lookup("metrics"))

	viper.SetEnvPrefix("FILEGRAPH")
	viper.AutomaticEnv()

	return nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Println(version.ShortWithApp() + " ingestor")
}
