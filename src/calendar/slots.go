package calendar

import "time"

const clockFormat = "3:04 PM"

// Interval is a busy span on the calendar.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) overlaps(start, end time.Time) bool {
	return start.Before(iv.End) && end.After(iv.Start)
}

type searchParams struct {
	meeting   time.Duration
	step      time.Duration
	daysAhead int
	startHour int
	endHour   int
}

// findSlot walks business days starting at the next full hour and returns
// the first slot of p.meeting length that overlaps no busy interval. A zero
// time means nothing was free.
func findSlot(now time.Time, p searchParams, busy func(from, to time.Time) ([]Interval, error)) (time.Time, error) {
	// next full hour on the wall clock
	searchStart := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location()).Add(time.Hour)

	for offset := 0; offset < p.daysAhead; offset++ {
		day := searchStart.AddDate(0, 0, offset)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}

		dayStart := time.Date(day.Year(), day.Month(), day.Day(), p.startHour, 0, 0, 0, day.Location())
		dayEnd := time.Date(day.Year(), day.Month(), day.Day(), p.endHour, 0, 0, 0, day.Location())
		if offset == 0 && searchStart.After(dayStart) {
			dayStart = searchStart
		}
		if dayStart.Add(p.meeting).After(dayEnd) {
			continue
		}

		intervals, err := busy(dayStart, dayEnd)
		if err != nil {
			return time.Time{}, err
		}

		for slot := dayStart; !slot.Add(p.meeting).After(dayEnd); slot = slot.Add(p.step) {
			end := slot.Add(p.meeting)
			free := true
			for _, iv := range intervals {
				if iv.overlaps(slot, end) {
					free = false
					break
				}
			}
			if free {
				return slot, nil
			}
		}
	}
	return time.Time{}, nil
}

// describeSlot renders "Today at 2:00 PM", "Tomorrow at 9:30 AM" or
// "Monday at 10:00 AM".
func describeSlot(now, slot time.Time) string {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, slot.Location())
	slotDay := time.Date(slot.Year(), slot.Month(), slot.Day(), 0, 0, 0, 0, slot.Location())

	var day string
	switch int(slotDay.Sub(today).Hours()+12) / 24 {
	case 0:
		day = "Today"
	case 1:
		day = "Tomorrow"
	default:
		day = slot.Weekday().String()
	}
	return day + " at " + slot.Format(clockFormat)
}
