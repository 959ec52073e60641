package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pointerdev/pointer/internal/config"
	"github.com/pointerdev/pointer/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	flagConfig string
	flagDB     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "pointerd",
	Short:         "Content-addressed source repository index",
	Long:          "Pointer stores deduplicated file content with its extracted symbols and answers ranked symbol and full-text searches over it.",
	Version:       fmt.Sprintf("%s (built %s, %s/%s)", version, buildTime, storage.BuildMode, storage.DriverName),
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default: $POINTER_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (overrides config)")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(retentionCmd)
	rootCmd.AddCommand(liveBranchCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
}

// app bundles the pieces every command needs
type app struct {
	cfg *config.Config
	db  *storage.SQLiteStorage
	log *logrus.Logger
}

// openApp loads configuration and opens the database
func openApp() (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	db, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	return &app{cfg: cfg, db: db, log: log}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.WithError(err).Warn("closing database")
	}
}
