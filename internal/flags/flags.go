// Package flags persists the scheduling flags that guard audit batches.
package flags

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const runningKey = "hasRunningPerformanceAuditTask"

// RunningKey names the process-wide "a batch is running" flag.
func RunningKey() string { return runningKey }

// LastRunKey names the flag holding the day a site batch last started.
func LastRunKey(siteID int) string {
	return fmt.Sprintf("lastRunPerformanceAuditTask_%d", siteID)
}

// Store is a small key value store visible to every process of a deployment.
type Store interface {
	Get(ctx context.Context, name string) (value string, ok bool, err error)
	Set(ctx context.Context, name, value string) error
	// Delete removes name and reports whether it was present.
	Delete(ctx context.Context, name string) (bool, error)
}

// IsRunning reports whether the running flag holds a truthy value.
func IsRunning(ctx context.Context, s Store) (bool, error) {
	v, ok, err := s.Get(ctx, runningKey)
	if err != nil || !ok {
		return false, err
	}
	return v != "" && v != "0", nil
}

func MarkRunning(ctx context.Context, s Store) error {
	return s.Set(ctx, runningKey, "1")
}

func MarkFinished(ctx context.Context, s Store) (bool, error) {
	return s.Delete(ctx, runningKey)
}

// StartedToday reports whether the last-run flag of a site falls on the
// same calendar day as now, in now's location.
func StartedToday(ctx context.Context, s Store, siteID int, now time.Time) (bool, error) {
	v, ok, err := s.Get(ctx, LastRunKey(siteID))
	if err != nil || !ok {
		return false, err
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ts == 0 {
		return false, nil
	}
	last := time.Unix(ts, 0).In(now.Location())
	y1, m1, d1 := last.Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2, nil
}

// MarkStartedToday stores the unix timestamp of today's midnight.
func MarkStartedToday(ctx context.Context, s Store, siteID int, now time.Time) error {
	return s.Set(ctx, LastRunKey(siteID), strconv.FormatInt(Midnight(now).Unix(), 10))
}

func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
