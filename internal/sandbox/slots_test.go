package sandbox

import (
	"testing"
	"time"
)

func TestAvailableSlotsSkipWeekendsAndBookings(t *testing.T) {
	friday := time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)
	booked := map[time.Time]struct{}{
		time.Date(2026, time.October, 19, 9, 0, 0, 0, time.UTC): {},
	}

	slots := availableSlots(friday, 2, booked)
	if len(slots) != 2 {
		t.Fatalf("expected 2 days, got %d", len(slots))
	}
	if slots[0].Date != "2026-10-19" || slots[1].Date != "2026-10-20" {
		t.Fatalf("expected Monday and Tuesday, got %s and %s", slots[0].Date, slots[1].Date)
	}
	if len(slots[0].TimeSlots) != len(practiceHours)-1 {
		t.Fatalf("expected booked slot to be removed, got %d slots", len(slots[0].TimeSlots))
	}
	first := slots[0].TimeSlots[0]
	if first.StartTime != "10:00" || first.EndTime != "10:50" || first.DurationMinutes != DefaultSlotMinutes {
		t.Fatalf("unexpected first slot %#v", first)
	}
	if len(slots[1].TimeSlots) != len(practiceHours) {
		t.Fatalf("expected a full day, got %d slots", len(slots[1].TimeSlots))
	}
}
