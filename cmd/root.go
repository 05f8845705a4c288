package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-sorter/internal/config"
	"github.com/kozaktomas/face-sorter/internal/database"
	"github.com/kozaktomas/face-sorter/internal/logging"

	// Database backends register themselves by URL scheme.
	_ "github.com/kozaktomas/face-sorter/internal/database/mariadb"
	_ "github.com/kozaktomas/face-sorter/internal/database/postgres"
	_ "github.com/kozaktomas/face-sorter/internal/database/sqlite"
)

var rootCmd = &cobra.Command{
	Use:   "face-sorter",
	Short: "Find photos of known people and copy them to one folder",
	Long: `Face Sorter scans photo folders, extracts the faces of every image through
a face embedding service and copies the images showing a known person into an
output folder. Extracted faces are cached by content hash, so unchanged files
are never sent to the embedding service twice, and an interrupted run resumes
from its saved queue.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides FACESORT_LOG_LEVEL)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json (overrides FACESORT_LOG_FORMAT)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// app holds what every command needs: configuration, a logger and the store.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	store     database.Store
}

// newApp loads configuration and opens the logger. The store is opened by
// openStore, so commands that never touch it do not create a database.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}

	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, logCloser: closer}, nil
}

func (a *app) openStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	store, err := database.Open(ctx, database.Options{
		URL:          a.cfg.Database.URL,
		MaxOpenConns: a.cfg.Database.MaxOpenConns,
		MaxIdleConns: a.cfg.Database.MaxIdleConns,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.store = store
	return nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
	_ = a.logCloser.Close()
}
