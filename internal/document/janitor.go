package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Janitor deletes uploads older than MaxAge. Without it the upload
// directory grows without bound.
type Janitor struct {
	Dir      string
	MaxAge   time.Duration // <= 0 disables deletion
	Interval time.Duration
	Logger   *slog.Logger
}

// Sweep removes every stored document whose modification time is more than
// MaxAge before now, and returns how many were removed. Files whose names
// Save could not have produced are left alone.
func (j *Janitor) Sweep(now time.Time) (int, error) {
	if j.MaxAge <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(j.Dir)
	if err != nil {
		return 0, fmt.Errorf("reading upload dir: %w", err)
	}

	cutoff := now.Add(-j.MaxAge)
	removed := 0
	var errs []error

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !ValidName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		err = os.Remove(filepath.Join(j.Dir, entry.Name()))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	return removed, errors.Join(errs...)
}

// Run sweeps immediately and then every Interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if j.MaxAge <= 0 || j.Interval <= 0 {
		logger.Info("upload retention disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		n, err := j.Sweep(time.Now())
		if err != nil {
			logger.Warn("upload sweep failed", "err", err)
		}
		if n > 0 {
			logger.Info("removed expired uploads", "count", n, "max_age", j.MaxAge)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
