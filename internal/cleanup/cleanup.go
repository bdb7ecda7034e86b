// Package cleanup removes the profile directories headless Chrome leaves
// behind in the temp dir.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const chromiumPrefix = ".org.chromium.Chromium."

type Options struct {
	Dir      string
	Interval time.Duration
	MaxAge   time.Duration
}

// Start sweeps once and then every Interval until ctx is cancelled.
func Start(ctx context.Context, opts Options, logger zerolog.Logger) {
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 5 * time.Minute
	}
	logger = logger.With().Str("component", "cleanup").Logger()

	logger.Info().Dur("interval", opts.Interval).Str("dir", opts.Dir).Msg("Chromium temp file cleanup scheduled")
	Sweep(opts.Dir, opts.MaxAge, time.Now(), logger)

	ticker := time.NewTicker(opts.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				Sweep(opts.Dir, opts.MaxAge, now, logger)
			}
		}
	}()
}

// Sweep removes Chromium directories in dir last modified more than maxAge
// before now and returns how many were removed.
func Sweep(dir string, maxAge time.Duration, now time.Time, logger zerolog.Logger) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read temp dir for cleanup")
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), chromiumPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())
		if age <= maxAge {
			continue
		}

		fullPath := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(fullPath); err != nil {
			logger.Warn().Err(err).Str("path", fullPath).Msg("Failed to clean up Chromium temp directory")
			continue
		}
		removed++
		logger.Debug().Str("path", fullPath).Int("age_minutes", int(age.Minutes())).Msg("Cleaned up Chromium temp directory")
	}
	return removed
}
