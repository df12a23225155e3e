package clinic

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Dashboard is the landing summary for a signed-in psychologist.
type Dashboard struct {
	Patients      []Patient       `json:"patients"`
	PatientCount  int             `json:"patientCount"`
	OpenSlots     []AvailableSlot `json:"openSlots"`
	OpenSlotCount int             `json:"openSlotCount"`
	NextOpenSlot  *SlotReference  `json:"nextOpenSlot,omitempty"`
}

// SlotReference points at one open time slot.
type SlotReference struct {
	Date string   `json:"date"`
	Slot TimeSlot `json:"slot"`
}

// BuildDashboard fetches patients and open slots concurrently. Both requests go through the
// same gateway, so an expired access token triggers a single shared refresh.
func BuildDashboard(ctx context.Context, patients *PatientService, schedule *ScheduleService) (Dashboard, error) {
	var dashboard Dashboard
	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		list, err := patients.List(groupContext)
		if err != nil {
			return err
		}
		dashboard.Patients = list
		return nil
	})
	group.Go(func() error {
		slots, err := schedule.AvailableSlots(groupContext)
		if err != nil {
			return err
		}
		dashboard.OpenSlots = slots
		return nil
	})
	if err := group.Wait(); err != nil {
		return Dashboard{}, fmt.Errorf("clinic.dashboard: %w", err)
	}
	dashboard.PatientCount = len(dashboard.Patients)
	for _, day := range dashboard.OpenSlots {
		dashboard.OpenSlotCount += len(day.TimeSlots)
		if dashboard.NextOpenSlot == nil && len(day.TimeSlots) > 0 {
			dashboard.NextOpenSlot = &SlotReference{Date: day.Date, Slot: day.TimeSlots[0]}
		}
	}
	return dashboard, nil
}
