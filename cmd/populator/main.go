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

	"github.com/filegraph/filegraph/internal/db"
	"github.com/filegraph/filegraph/internal/graph"
	"github.com/filegraph/filegraph/internal/populate"
	"github.com/filegraph/filegraph/internal/version"
)

var home, _ = os.UserHomeDir()

var rootCmd = &cobra.Command{
	Use:     "filegraph-populator",
	Short:   "Consumes FileEvents and projects them into the graph store",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &populate.Config{
			AMQPUrl:     viper.GetString("amqp_url"),
			Exchange:    viper.GetString("exchange"),
			Queue:       viper.GetString("queue"),
			Prefetch:    viper.GetInt("prefetch"),
			Store:       viper.GetString("store"),
			Neo4jURI:    viper.GetString("neo4j_uri"),
			Neo4jUser:   viper.GetString("neo4j_user"),
			Neo4jPass:   viper.GetString("neo4j_pass"),
			SqlitePath:  viper.GetString("sqlite_path"),
			DrainGrace:  viper.GetDuration("drain_grace"),
			MetricsAddr: viper.GetString("metrics_addr"),
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader()

		store, err := newStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		return populate.New(cfg, store).Run(cmd.Context())
	},
}

func newStore(ctx context.Context, cfg *populate.Config) (graph.Store, error) {
	switch cfg.Store {
	case populate.StoreNeo4j:
		return graph.NewNeo4jStore(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	case populate.StoreSqlite:
		sqliteDB, err := db.NewSqliteDB(db.WithPath(cfg.SqlitePath))
		if err != nil {
			return nil, err
		}
		return graph.NewSqliteStore(sqliteDB)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("amqp", "a", populate.DefaultAMQPUrl, "AMQP broker URL")
	rootCmd.Flags().StringP("exchange", "e", populate.DefaultExchange, "Fan-out exchange name")
	rootCmd.Flags().StringP("queue", "q", populate.DefaultQueue, "Durable consumer queue name")
	rootCmd.Flags().IntP("prefetch", "p", 1, "Max unacknowledged deliveries in flight")
	rootCmd.Flags().StringP("store", "s", populate.StoreNeo4j, "Projection backend (neo4j or sqlite)")
	rootCmd.Flags().String("neo4j-uri", populate.DefaultNeo4jURI, "Neo4j bolt URI")
	rootCmd.Flags().String("neo4j-user", populate.DefaultNeo4jUser, "Neo4j username")
	rootCmd.Flags().String("neo4j-pass", "", "Neo4j password")
	rootCmd.Flags().String("sqlite", "", "SQLite db path for the sqlite backend")
	rootCmd.Flags().Duration("drain-grace", populate.DefaultDrainGrace, "Time allowed for the in-flight message on shutdown")
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
		viper.SetConfigName("populator")
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("amqp_url", cmd.Flags().Lookup("amqp"))
	viper.BindPFlag("exchange", cmd.Flags().Lookup("exchange"))
	viper.BindPFlag("queue", cmd.Flags().Lookup("queue"))
	viper.BindPFlag("prefetch", cmd.Flags().Lookup("prefetch"))
	viper.BindPFlag("store", cmd.Flags().Lookup("store"))
	viper.BindPFlag("neo4j_uri", cmd.Flags().Lookup("neo4j-uri"))
	viper.BindPFlag("neo4j_user", cmd.Flags().Lookup("neo4j-user"))
	viper.BindPFlag("neo4j_pass", cmd.Flags().Lookup("neo4j-pass"))
	viper.BindPFlag("sqlite_path", cmd.Flags().Lookup("sqlite"))
	viper.BindPFlag("drain_grace", cmd.Flags().Lookup("drain-grace"))
	viper.BindPFlag("metrics_addr", cmd.Flags().Lookup("metrics"))

	viper.SetEnvPrefix("FILEGRAPH")
	viper.AutomaticEnv()

	return nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Println(version.ShortWithApp() + " populator")
}
