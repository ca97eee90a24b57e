// Package gather keeps each tracked symbol's series current by fetching only
// the missing days from its provider and merging them into the bar store.
package gather

import (
	"context"
	"time"

	"marketpulse/internal/domain"
	"marketpulse/internal/util"
)

// Provider fetches daily bars from one upstream source. Implementations make
// a single attempt per call; rate limiting and retries are applied by the
// fetch.Fetcher wrapped around them.
type Provider interface {
	// Name returns the provider identifier used in logs and errors.
	Name() string
	// FetchDaily returns bars dated within r, inclusive on both ends.
	FetchDaily(ctx context.Context, symbol string, r DateRange) ([]domain.Bar, error)
}

// SpotProvider is implemented by providers that can report a live price for
// the current day in addition to historical bars.
type SpotProvider interface {
	Spot(ctx context.Context, symbol string) (domain.Bar, error)
}

// QuoteProvider is implemented by providers that can serve a latest quote.
type QuoteProvider interface {
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
}

// DateRange is an inclusive range of UTC calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the bar date falls inside the range.
func (r DateRange) Contains(date string) bool {
	return date >= util.FormatDate(r.Start) && date <= util.FormatDate(r.End)
}

// Days returns the number of calendar days the range covers.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start)/util.Day) + 1
}

func (r DateRange) String() string {
	return util.FormatDate(r.Start) + ".." + util.FormatDate(r.End)
}

// PlanRange computes the fetch range for a series whose last bar is dated
// last (empty for a new series). It returns false when the series already
// covers today. A new series gets lookbackDays of history. A range that
// collapses to a single day is widened one day backward, since providers
// reject zero-length ranges.
func PlanRange(last string, today time.Time, lookbackDays int) (DateRange, bool) {
	today = util.Midnight(today)

	var start time.Time
	if last == "" {
		start = today.AddDate(0, 0, -lookbackDays)
	} else {
		lastDay, err := time.Parse(domain.DateLayout, last)
		if err != nil {
			start = today.AddDate(0, 0, -lookbackDays)
		} else {
			if !lastDay.Before(today) {
				return DateRange{}, false
			}
			start = lastDay.AddDate(0, 0, 1)
		}
	}

	if !start.Before(today) {
		start = today.AddDate(0, 0, -1)
	}
	return DateRange{Start: start, End: today}, true
}

// Clip drops bars dated outside r.
func Clip(bars []domain.Bar, r DateRange) []domain.Bar {
	out := bars[:0:0]
	for _, b := range bars {
		if r.Contains(b.Date) {
			out = append(out, b)
		}
	}
	return out
}
