// Command clear-task-flag removes the global "audit running" flag left
// behind by a crashed batch.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/shyim/perfaudit/internal/config"
	"github.com/shyim/perfaudit/internal/flags"
	"github.com/shyim/perfaudit/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeStore, err := flags.Open(ctx, cfg.Flags, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open flag store")
	}
	defer closeStore()

	existed, err := flags.MarkFinished(ctx, store)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to clear the running flag")
		closeStore()
		os.Exit(1)
	}
	if existed {
		logger.Info().Msg("Cleared the Performance Audit task running flag")
		return
	}
	logger.Info().Msg("No Performance Audit task running flag was set")
}
