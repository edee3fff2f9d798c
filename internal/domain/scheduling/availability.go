package scheduling

import (
	"sort"
	"time"
)

// templateTimes returns the start times offered on weekday. A nutritionist
// without any active template falls back to defaults on every day.
func templateTimes(templates []*SlotTemplate, weekday time.Weekday, defaults []string) []string {
	if len(templates) == 0 {
		return defaults
	}
	var out []string
	for _, t := range templates {
		if t.Active && t.DayOfWeek == int(weekday) {
			out = append(out, t.StartTime)
		}
	}
	return out
}

// AvailableSlots computes offered minus booked, compared by start time, and
// returns the result in ascending order. Start times that are malformed or
// whose appointment would cross midnight are skipped.
func AvailableSlots(date string, offered, booked []string) []Slot {
	taken := make(map[TimeOfDay]bool, len(booked))
	for _, b := range booked {
		if t, err := ParseTimeOfDay(b); err == nil {
			taken[t] = true
		}
	}

	seen := make(map[TimeOfDay]bool, len(offered))
	var starts []TimeOfDay
	for _, o := range offered {
		t, err := ParseTimeOfDay(o)
		if err != nil || taken[t] || seen[t] {
			continue
		}
		if _, err := t.Add(AppointmentDuration); err != nil {
			continue
		}
		seen[t] = true
		starts = append(starts, t)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	slots := make([]Slot, 0, len(starts))
	for _, t := range starts {
		end, _ := t.Add(AppointmentDuration)
		slots = append(slots, Slot{Date: date, StartTime: t.String(), EndTime: end.String()})
	}
	return slots
}
