package scheduling

import "errors"

var (
	ErrMissingDate        = errors.New("date is required")
	ErrInvalidDateFormat  = errors.New("invalid date format")
	ErrPastDate           = errors.New("date is in the past")
	ErrSlotConflict       = errors.New("the selected time slot is already booked for this doctor")
	ErrNoAvailableSlots   = errors.New("no available slots for this date")
	ErrNotFound           = errors.New("not found")
	ErrInvalidClockFormat = errors.New("invalid time format")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidStatus      = errors.New("invalid appointment status")
	ErrInvalidTransition  = errors.New("invalid status transition")
)
