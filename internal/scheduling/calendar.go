// Package scheduling offers consultation slots and resolves a lead's reply to
// one of them.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultDaysAhead = 7
	maxSlots         = 3
	// candidates gathered before the day loop stops
	enoughCandidates = 5
)

var defaultWorkHours = []int{9, 10, 11, 14, 15, 16}

var dayNames = [...]string{"Domingo", "Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado"}

// MockCalendar produces plausible availability without a calendar backend:
// weekdays from tomorrow on, even work hours only.
type MockCalendar struct {
	loc       *time.Location
	workHours []int
	now       func() time.Time
}

type CalendarOption func(*MockCalendar)

// WithClock overrides the time source.
func WithClock(now func() time.Time) CalendarOption {
	return func(c *MockCalendar) { c.now = now }
}

// WithWorkHours overrides the candidate hours of a day (0-23).
func WithWorkHours(hours []int) CalendarOption {
	return func(c *MockCalendar) { c.workHours = hours }
}

// NewMockCalendar returns a calendar that renders slots in loc.
func NewMockCalendar(loc *time.Location, opts ...CalendarOption) (*MockCalendar, error) {
	if loc == nil {
		return nil, errors.New("scheduling: location must not be nil")
	}
	c := &MockCalendar{loc: loc, workHours: defaultWorkHours, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AvailableSlots returns up to three labels such as "Lunes 24 - 10:00 AM".
func (c *MockCalendar) AvailableSlots(ctx context.Context, daysAhead int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if daysAhead <= 0 {
		daysAhead = defaultDaysAhead
	}

	now := c.now().In(c.loc)
	var slots []string
	for offset := 1; offset <= daysAhead; offset++ {
		day := now.AddDate(0, 0, offset)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		for _, hour := range c.workHours {
			if hour%2 != 0 {
				continue
			}
			slots = append(slots, label(day, hour))
		}
		if len(slots) >= enoughCandidates {
			break
		}
	}
	if len(slots) > maxSlots {
		slots = slots[:maxSlots]
	}
	return slots, nil
}

func label(day time.Time, hour int) string {
	return fmt.Sprintf("%s %d - %s", dayNames[day.Weekday()], day.Day(), clock(hour))
}

func clock(hour int) string {
	switch {
	case hour == 0:
		return "12:00 AM"
	case hour < 12:
		return fmt.Sprintf("%d:00 AM", hour)
	case hour == 12:
		return "12:00 PM"
	default:
		return fmt.Sprintf("%d:00 PM", hour-12)
	}
}
