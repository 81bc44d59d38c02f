package domain

import (
	"fmt"
	"time"
)

// Window is the pair of hourly entries a cycle reports on.
type Window struct {
	Current HourlyEntry
	Next    HourlyEntry
}

// SelectWindow projects every hourly entry into tz and picks the entry for the
// current local hour and the one for (hour+1) mod 24. Entries that start
// before the current local hour are ignored so yesterday's data never matches.
func SelectWindow(entries []HourlyEntry, now time.Time, tz *time.Location) (Window, error) {
	local := now.In(tz)
	slot := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, tz)
	localHour := local.Hour()
	nextHour := (localHour + 1) % 24

	var (
		w                     Window
		haveCurrent, haveNext bool
	)
	for _, e := range entries {
		if e.Time.Before(slot) {
			continue
		}
		h := e.Time.In(tz).Hour()
		switch {
		case !haveCurrent && h == localHour:
			w.Current, haveCurrent = e, true
		case !haveNext && h == nextHour:
			w.Next, haveNext = e, true
		}
		if haveCurrent && haveNext {
			return w, nil
		}
	}

	if !haveCurrent {
		return Window{}, fmt.Errorf("%w: no entry for local hour %02d", ErrDataGap, localHour)
	}
	return Window{}, fmt.Errorf("%w: no entry for local hour %02d", ErrDataGap, nextHour)
}

// HourLabel renders an instant as a local-time label like "2 PM".
func HourLabel(t time.Time, tz *time.Location) string {
	return t.In(tz).Format("3 PM")
}
