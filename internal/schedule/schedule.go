// Package schedule triggers a function once a day at a fixed wall clock time.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/datapipe-pro/datapipe/internal/errors"
	"github.com/datapipe-pro/datapipe/pkg/log"
)

// Daily fires every day at the same wall clock time in its location.
type Daily struct {
	Location *time.Location
	Hour     int
	Minute   int
}

// ParseDaily parses an "HH:MM" time of day in the named IANA time zone. An empty zone means UTC.
func ParseDaily(at, zone string) (*Daily, error) {
	parsed, err := time.Parse("15:04", at)
	if err != nil {
		return nil, errors.Errorf("invalid schedule time %q, expected HH:MM: %w", at, err)
	}

	loc := time.UTC

	if zone != "" {
		if loc, err = time.LoadLocation(zone); err != nil {
			return nil, errors.Errorf("invalid schedule time zone %q: %w", zone, err)
		}
	}

	return &Daily{Hour: parsed.Hour(), Minute: parsed.Minute(), Location: loc}, nil
}

func (daily *Daily) String() string {
	return fmt.Sprintf("daily at %02d:%02d %s", daily.Hour, daily.Minute, daily.Location)
}

// Next returns the first occurrence strictly after the given time. On days where the time of day
// does not exist, such as a daylight saving gap, it follows the normalisation of time.Date.
func (daily *Daily) Next(after time.Time) time.Time {
	local := after.In(daily.Location)

	next := time.Date(local.Year(), local.Month(), local.Day(), daily.Hour, daily.Minute, 0, 0, daily.Location)
	if !next.After(after) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, daily.Hour, daily.Minute, 0, 0, daily.Location)
	}

	return next
}

// Run calls fn at every occurrence until ctx is cancelled. Errors returned by fn are logged and
// do not stop the schedule. Occurrences missed while fn is running are skipped.
func Run(ctx context.Context, l log.Logger, daily *Daily, fn func(ctx context.Context) error) error {
	return RunWithClock(ctx, l, daily, time.Now, fn)
}

// RunWithClock is Run with an injectable clock.
func RunWithClock(ctx context.Context, l log.Logger, daily *Daily, now func() time.Time, fn func(ctx context.Context) error) error {
	for {
		next := daily.Next(now())
		wait := next.Sub(now())

		l.Infof("Next pipeline run scheduled at %s (in %s)", next.Format(time.RFC3339), wait.Round(time.Second))

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := fn(ctx); err != nil {
			if errors.IsContextCanceled(err) {
				return nil
			}

			l.Errorf("Scheduled pipeline run failed: %v", err)
		}
	}
}
