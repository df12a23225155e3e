package sandbox

import (
	"time"

	"github.com/tyemirov/clinicgate/internal/clinic"
)

// practiceHours are the session start hours offered on a weekday, in UTC.
var practiceHours = []int{9, 10, 11, 14, 15, 16, 17}

// availableSlots lists open slots for the next days weekdays after now, skipping booked starts.
func availableSlots(now time.Time, days int, booked map[time.Time]struct{}) []clinic.AvailableSlot {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	slots := make([]clinic.AvailableSlot, 0, days)
	for len(slots) < days {
		day = day.AddDate(0, 0, 1)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		entry := clinic.AvailableSlot{Date: day.Format("2006-01-02"), TimeSlots: []clinic.TimeSlot{}}
		for _, hour := range practiceHours {
			start := day.Add(time.Duration(hour) * time.Hour)
			if _, taken := booked[start]; taken {
				continue
			}
			end := start.Add(DefaultSlotMinutes * time.Minute)
			entry.TimeSlots = append(entry.TimeSlots, clinic.TimeSlot{
				StartTime:       start.Format("15:04"),
				EndTime:         end.Format("15:04"),
				DurationMinutes: DefaultSlotMinutes,
			})
		}
		slots = append(slots, entry)
	}
	return slots
}
