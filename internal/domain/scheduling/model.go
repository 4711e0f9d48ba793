package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ShiftPeriod string

const (
	ShiftMorning   ShiftPeriod = "morning"
	ShiftAfternoon ShiftPeriod = "afternoon"
)

// shiftOrder is the order shifts are expanded into slots.
var shiftOrder = []ShiftPeriod{ShiftMorning, ShiftAfternoon}

func (p ShiftPeriod) Valid() bool {
	return p == ShiftMorning || p == ShiftAfternoon
}

// DoctorSchedule is one shift of a doctor's working week, or of a single
// date when SpecificDate is set.
type DoctorSchedule struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	DoctorID       uuid.UUID   `db:"doctor_id" json:"doctor_id"`
	DayOfWeek      *int        `db:"day_of_week" json:"day_of_week,omitempty"`
	SpecificDate   *time.Time  `db:"specific_date" json:"specific_date,omitempty"`
	ShiftPeriod    ShiftPeriod `db:"shift_period" json:"shift_period"`
	StartTime      Clock       `db:"start_time" json:"start_time"`
	EndTime        Clock       `db:"end_time" json:"end_time"`
	PatientsPerDay int         `db:"number_of_patients_per_day" json:"number_of_patients_per_day"`
	IsActive       bool        `db:"is_active" json:"is_active"`
	CreatedBy      string      `db:"created_by" json:"created_by"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

func (s *DoctorSchedule) Validate() error {
	if s.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor_id is required", ErrValidation)
	}
	if (s.DayOfWeek == nil) == (s.SpecificDate == nil) {
		return fmt.Errorf("%w: exactly one of day_of_week and specific_date is required", ErrValidation)
	}
	if s.DayOfWeek != nil && (*s.DayOfWeek < 0 || *s.DayOfWeek > 6) {
		return fmt.Errorf("%w: day_of_week must be 0 (Sunday) to 6 (Saturday)", ErrValidation)
	}
	if !s.ShiftPeriod.Valid() {
		return fmt.Errorf("%w: shift_period must be morning or afternoon", ErrValidation)
	}
	if s.StartTime >= s.EndTime {
		return fmt.Errorf("%w: start_time must be before end_time", ErrValidation)
	}
	if s.PatientsPerDay < 0 {
		return fmt.Errorf("%w: number_of_patients_per_day must not be negative", ErrValidation)
	}
	return nil
}

// DoctorConfig tunes slot generation for one doctor. A nil TimeSlotMinutes
// selects patient-count mode; a nil DailyAppointmentLimit means unlimited.
type DoctorConfig struct {
	DoctorID              uuid.UUID `db:"doctor_id" json:"doctor_id"`
	TimeSlotMinutes       *int      `db:"time_slot_minutes" json:"time_slot_minutes"`
	BreakStart            *Clock    `db:"break_start" json:"break_start"`
	BreakEnd              *Clock    `db:"break_end" json:"break_end"`
	DailyAppointmentLimit *int      `db:"daily_appointment_limit" json:"daily_appointment_limit"`
	UpdatedBy             string    `db:"updated_by" json:"updated_by"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

func (c *DoctorConfig) Validate() error {
	if c.TimeSlotMinutes != nil && *c.TimeSlotMinutes < 0 {
		return fmt.Errorf("%w: time_slot_minutes must not be negative", ErrValidation)
	}
	if (c.BreakStart == nil) != (c.BreakEnd == nil) {
		return fmt.Errorf("%w: break_start and break_end must be set together", ErrValidation)
	}
	if c.BreakStart != nil && *c.BreakStart >= *c.BreakEnd {
		return fmt.Errorf("%w: break_start must be before break_end", ErrValidation)
	}
	if c.DailyAppointmentLimit != nil && *c.DailyAppointmentLimit < 0 {
		return fmt.Errorf("%w: daily_appointment_limit must not be negative", ErrValidation)
	}
	return nil
}

func (c *DoctorConfig) fixedSlotMinutes() int {
	if c == nil || c.TimeSlotMinutes == nil {
		return 0
	}
	return *c.TimeSlotMinutes
}

type Appointment struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	DoctorID  uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	Date      time.Time  `db:"appointment_date" json:"appointment_date"`
	Time      Clock      `db:"appointment_time" json:"appointment_time"`
	Status    Status     `db:"status" json:"status"`
	Notes     *string    `db:"notes" json:"notes,omitempty"`
	CreatedBy string     `db:"created_by" json:"created_by"`
	UpdatedBy string     `db:"updated_by" json:"updated_by"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ExcludedDate blocks a date range for one doctor, or for every doctor when
// DoctorID is nil. A yearly-recurring range matches on month and day only.
type ExcludedDate struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	DoctorID        *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	StartDate       time.Time  `db:"start_date" json:"start_date"`
	EndDate         time.Time  `db:"end_date" json:"end_date"`
	RecurringYearly bool       `db:"recurring_yearly" json:"recurring_yearly"`
	Reason          *string    `db:"reason" json:"reason,omitempty"`
	CreatedBy       string     `db:"created_by" json:"created_by"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

func (e *ExcludedDate) Validate() error {
	if e.StartDate.IsZero() || e.EndDate.IsZero() {
		return fmt.Errorf("%w: start_date and end_date are required", ErrValidation)
	}
	if DateOnly(e.EndDate).Before(DateOnly(e.StartDate)) {
		return fmt.Errorf("%w: end_date must not be before start_date", ErrValidation)
	}
	if e.RecurringYearly && DateOnly(e.EndDate).Sub(DateOnly(e.StartDate)) >= 366*24*time.Hour {
		return fmt.Errorf("%w: a yearly range must be shorter than a year", ErrValidation)
	}
	return nil
}

// AppliesTo reports whether the exclusion targets doctorID.
func (e *ExcludedDate) AppliesTo(doctorID uuid.UUID) bool {
	return e.DoctorID == nil || *e.DoctorID == doctorID
}

// Covers reports whether date falls inside the range, inclusive at both
// ends. Recurring ranges may wrap the new year (Dec 24 to Jan 2).
func (e *ExcludedDate) Covers(date time.Time) bool {
	d := DateOnly(date)
	start, end := DateOnly(e.StartDate), DateOnly(e.EndDate)
	if !e.RecurringYearly {
		return !d.Before(start) && !d.After(end)
	}

	key := monthDay(d)
	from, to := monthDay(start), monthDay(end)
	if start.Year() != end.Year() || from > to {
		return key >= from || key <= to
	}
	return key >= from && key <= to
}

func monthDay(t time.Time) int {
	return int(t.Month())*100 + t.Day()
}
