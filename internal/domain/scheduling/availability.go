package scheduling

// Slot is one candidate start time and whether it can be booked.
type Slot struct {
	Time      Clock `json:"time"`
	Available bool  `json:"available"`
}

// AvailabilityInput is everything FilterAvailability needs for one date.
// Booked holds times held by Scheduled or Confirmed appointments;
// ActiveCount counts every non-canceled appointment on the date. A non-nil
// Now marks slots at or before it as past.
type AvailabilityInput struct {
	Hours       *WorkingHours
	Config      *DoctorConfig
	Booked      []Clock
	ActiveCount int
	Now         *Clock
}

// FilterAvailability marks each candidate slot. Reaching the daily limit
// closes every slot of the date.
func FilterAvailability(in AvailabilityInput) []Slot {
	if in.Hours == nil {
		return []Slot{}
	}

	booked := make(map[Clock]bool, len(in.Booked))
	for _, c := range in.Booked {
		booked[c] = true
	}

	limitReached := false
	var breakStart, breakEnd *Clock
	if in.Config != nil {
		if in.Config.DailyAppointmentLimit != nil && in.ActiveCount >= *in.Config.DailyAppointmentLimit {
			limitReached = true
		}
		if in.Config.BreakStart != nil && in.Config.BreakEnd != nil {
			breakStart, breakEnd = in.Config.BreakStart, in.Config.BreakEnd
		}
	}

	out := make([]Slot, 0, len(in.Hours.Slots))
	for _, c := range in.Hours.Slots {
		available := !limitReached && !booked[c] && inWindows(in.Hours.Windows, c)
		if available && breakStart != nil && c >= *breakStart && c < *breakEnd {
			available = false
		}
		if available && in.Now != nil && c <= *in.Now {
			available = false
		}
		out = append(out, Slot{Time: c, Available: available})
	}
	return out
}

func inWindows(windows []Window, c Clock) bool {
	// Hours built without windows carry no bounds to recheck.
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if w.Contains(c) {
			return true
		}
	}
	return false
}
