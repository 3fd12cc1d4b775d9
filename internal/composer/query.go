package composer

import (
	"fmt"
	"time"

	"fknsrs.biz/p/ytfeeds/internal/feederr"
)

type Period string

const (
	PeriodAll   = Period("all")
	PeriodToday = Period("today")
	PeriodWeek  = Period("week")
	PeriodMonth = Period("month")
	PeriodYear  = Period("year")
)

// Cutoff is the earliest upload time inside the period. Today starts at
// midnight in now's location; the others reach back a calendar week, month
// or year.
func (p Period) Cutoff(now time.Time) (time.Time, bool) {
	switch p {
	case PeriodToday:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), true
	case PeriodWeek:
		return now.AddDate(0, 0, -7), true
	case PeriodMonth:
		return now.AddDate(0, -1, 0), true
	case PeriodYear:
		return now.AddDate(-1, 0, 0), true
	default:
		return time.Time{}, false
	}
}

type SortOrder string

const (
	SortNewest = SortOrder("newest")
	SortOldest = SortOrder("oldest")
	SortViews  = SortOrder("views")
)

// Query is a video list request. The zero value lists every unwatched video
// of a visible channel, newest first.
type Query struct {
	Text           string    `formam:"q" json:"q"`
	ChannelIDs     []string  `formam:"channel" json:"channel"`
	Window         Period    `formam:"window" json:"window"`
	IncludeWatched bool      `formam:"include_watched" json:"include_watched"`
	Sort           SortOrder `formam:"sort" json:"sort"`
	Limit          int       `formam:"limit" json:"limit"`
}

func (q Query) Validate() error {
	switch q.Window {
	case "", PeriodAll, PeriodToday, PeriodWeek, PeriodMonth, PeriodYear:
	default:
		return fmt.Errorf("composer.Query.Validate: %w: unknown window %q", feederr.ErrInvalidInput, q.Window)
	}

	switch q.Sort {
	case "", SortNewest, SortOldest, SortViews:
	default:
		return fmt.Errorf("composer.Query.Validate: %w: unknown sort %q", feederr.ErrInvalidInput, q.Sort)
	}

	if q.Limit < 0 {
		return fmt.Errorf("composer.Query.Validate: %w: negative limit", feederr.ErrInvalidInput)
	}

	return nil
}
