package scheduling

import "fmt"

// Status is the appointment lifecycle state. The integer codes are part of
// the API and the database schema.
type Status int

const (
	StatusScheduled Status = 0
	StatusConfirmed Status = 1
	StatusCanceled  Status = 2
	StatusPending   Status = 3
)

// StatusDisplay is how clients render a status badge.
type StatusDisplay struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
	Value int    `json:"value"`
}

func ParseStatus(v int) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidStatus, v)
	}
	return s, nil
}

func (s Status) Valid() bool {
	return s >= StatusScheduled && s <= StatusPending
}

func (s Status) String() string {
	return s.Display().Name
}

func (s Status) Display() StatusDisplay {
	switch s {
	case StatusScheduled:
		return StatusDisplay{Name: "Scheduled", Color: "primary", Icon: "calendar", Value: int(s)}
	case StatusConfirmed:
		return StatusDisplay{Name: "Confirmed", Color: "success", Icon: "check-circle", Value: int(s)}
	case StatusCanceled:
		return StatusDisplay{Name: "Canceled", Color: "danger", Icon: "x-circle", Value: int(s)}
	case StatusPending:
		return StatusDisplay{Name: "Pending", Color: "warning", Icon: "clock", Value: int(s)}
	}
	return StatusDisplay{Name: "Unknown", Color: "secondary", Icon: "help-circle", Value: int(s)}
}

// Booked reports whether an appointment in this state holds its slot in the
// availability view.
func (s Status) Booked() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCanceled, StatusPending},
	StatusPending:   {StatusScheduled, StatusConfirmed, StatusCanceled},
	StatusConfirmed: {StatusCanceled},
}

// CanTransitionTo reports whether s may move to next. Canceled is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// BookedStatuses are the states that make a slot unavailable.
var BookedStatuses = []Status{StatusScheduled, StatusConfirmed}
