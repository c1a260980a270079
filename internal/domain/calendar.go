package domain

import (
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"
)

// DefaultBusinessTimezone is the calendar used for ticket numbering and display ids.
const DefaultBusinessTimezone = "America/Sao_Paulo"

var (
	businessMu       sync.RWMutex
	businessLocation *time.Location
)

// SetBusinessTimezone replaces the business calendar. Call once at startup.
func SetBusinessTimezone(tz string) error {
	if tz == "" {
		tz = DefaultBusinessTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("load business timezone %q: %w", tz, err)
	}
	businessMu.Lock()
	businessLocation = loc
	businessMu.Unlock()
	return nil
}

// BusinessLocation returns the business calendar, loading the default lazily.
func BusinessLocation() *time.Location {
	businessMu.RLock()
	loc := businessLocation
	businessMu.RUnlock()
	if loc != nil {
		return loc
	}
	if err := SetBusinessTimezone(""); err != nil {
		panic(err)
	}
	return BusinessLocation()
}

// BusinessDay returns the calendar date of t in the business timezone.
func BusinessDay(t time.Time) time.Time {
	local := t.In(BusinessLocation())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
