// Package planner decides which hour windows still need exporting.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinytelemetry/lotus-export/internal/model"
)

const hoursPerDay = 24

// Lister is the listing half of model.ObjectStore.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

// Planner builds the export plan for one key prefix.
type Planner struct {
	Store        Lister
	Location     *time.Location
	LookbackDays int
	// Extension is appended after ".log", e.g. ".gz".
	Extension string
	Now       func() time.Time
	Logger    *slog.Logger
}

// Plan returns the windows under prefix that have no object yet: the elapsed
// hours of today, then every hour of each of the previous LookbackDays days
// starting with yesterday. The running hour is never included. A listing
// failure aborts planning and no partial plan is returned.
func (p *Planner) Plan(ctx context.Context, prefix string) ([]model.HourWindow, error) {
	loc := p.location()
	now := p.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	days := make([][]model.HourWindow, 0, p.LookbackDays+1)
	days = append(days, p.dayWindows(prefix, today, now.Hour()))
	for i := 1; i <= p.LookbackDays; i++ {
		day := time.Date(today.Year(), today.Month(), today.Day()-i, 0, 0, 0, 0, loc)
		days = append(days, p.dayWindows(prefix, day, hoursPerDay))
	}

	existing := make(map[string]struct{})
	for _, windows := range days {
		if len(windows) == 0 {
			continue
		}
		dayPrefix := DayPrefix(prefix, windows[0].Start)
		keys, err := p.Store.List(ctx, dayPrefix)
		if err != nil {
			return nil, fmt.Errorf("planner: list %q: %w: %w", dayPrefix, model.ErrListing, err)
		}
		for _, k := range keys {
			existing[k] = struct{}{}
		}
	}

	var plan []model.HourWindow
	candidates := 0
	for _, windows := range days {
		candidates += len(windows)
		for _, w := range windows {
			if _, ok := existing[w.Key]; !ok {
				plan = append(plan, w)
			}
		}
	}

	p.logger().Debug("planner: plan built",
		"prefix", prefix,
		"candidates", candidates,
		"pending", len(plan))
	return plan, nil
}

// dayWindows returns hours [0, hours) of day. Boundaries come from wall-clock
// dates in the day's location, so a DST change shortens or stretches one
// window instead of shifting the keys.
func (p *Planner) dayWindows(prefix string, day time.Time, hours int) []model.HourWindow {
	windows := make([]model.HourWindow, 0, hours)
	for h := 0; h < hours; h++ {
		start := time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, day.Location())
		end := time.Date(day.Year(), day.Month(), day.Day(), h+1, 0, 0, 0, day.Location())
		windows = append(windows, model.HourWindow{
			Start: start,
			End:   end,
			Key:   ObjectKey(prefix, day, h, p.Extension),
		})
	}
	return windows
}

// ObjectKey returns "<prefix><yyyy>-<mm>-<dd>/<hh>.log<ext>".
func ObjectKey(prefix string, day time.Time, hour int, ext string) string {
	return fmt.Sprintf("%s%02d.log%s", DayPrefix(prefix, day), hour, ext)
}

// DayPrefix returns "<prefix><yyyy>-<mm>-<dd>/", the listing prefix for day.
func DayPrefix(prefix string, day time.Time) string {
	return prefix + day.Format("2006-01-02") + "/"
}

func (p *Planner) location() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

func (p *Planner) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func (p *Planner) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger
}
