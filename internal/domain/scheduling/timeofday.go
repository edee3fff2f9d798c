package scheduling

import (
	"errors"
	"fmt"
	"time"
)

// AppointmentDuration is the length of every consultation.
const AppointmentDuration = 50 * time.Minute

var (
	ErrInvalidTime         = errors.New("time must be HH:MM")
	ErrSlotCrossesMidnight = errors.New("appointment would end after midnight")
)

// TimeOfDay is a wall-clock time stored as minutes since midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// ParseTimeOfDay parses a zero-padded 24 hour "HH:MM" value.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, ErrInvalidTime
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, ErrInvalidTime
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// Add returns t+d. Results at or past midnight are rejected.
func (t TimeOfDay) Add(d time.Duration) (TimeOfDay, error) {
	end := int(t) + int(d/time.Minute)
	if end >= minutesPerDay {
		return 0, ErrSlotCrossesMidnight
	}
	return TimeOfDay(end), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// EndTime returns the end of an appointment starting at start.
func EndTime(start string) (string, error) {
	t, err := ParseTimeOfDay(start)
	if err != nil {
		return "", err
	}
	end, err := t.Add(AppointmentDuration)
	if err != nil {
		return "", err
	}
	return end.String(), nil
}
