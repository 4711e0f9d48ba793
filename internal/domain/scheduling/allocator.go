package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/identity"
)

// DefaultOverflowMinutes spaces appointments placed after the regular slots
// of a date run out.
const DefaultOverflowMinutes = 15

// ImportRow is one data row of an import file. Line is the 1-based data row
// number used in error messages.
type ImportRow struct {
	Line        int
	FirstName   string
	LastName    string
	Phone       string
	DateOfBirth string
	Email       string
	Date        string
	Notes       string
}

// RowError is a row that was skipped.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("Row %d: %s", e.Line, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// PatientResolver finds a patient by identity or creates one.
// *identity.Service satisfies it.
type PatientResolver interface {
	FindOrCreatePatient(ctx context.Context, actor string, in identity.PatientIdentity) (*identity.Patient, error)
}

// HoursSource is the subset of HoursCalculator the allocator needs.
type HoursSource interface {
	Compute(ctx context.Context, doctorID uuid.UUID, date time.Time) (*WorkingHours, error)
}

// Draft is an unsaved appointment and the row it came from.
type Draft struct {
	Line        int
	Appointment *Appointment
}

type Allocation struct {
	Drafts []Draft
	Errors []RowError
}

// Allocator assigns start times to imported rows. It never fails as a
// whole: each bad row becomes a RowError and the rest continue.
type Allocator struct {
	hours        HoursSource
	appointments AppointmentRepository
	patients     PatientResolver
	overflow     int
	today        func() time.Time
}

func NewAllocator(hours HoursSource, appointments AppointmentRepository, patients PatientResolver,
	overflowMinutes int, today func() time.Time) *Allocator {
	if overflowMinutes <= 0 {
		overflowMinutes = DefaultOverflowMinutes
	}
	if today == nil {
		today = time.Now
	}
	return &Allocator{
		hours:        hours,
		appointments: appointments,
		patients:     patients,
		overflow:     overflowMinutes,
		today:        today,
	}
}

// allocationRun holds per-date state for one Allocate call.
type allocationRun struct {
	doctorID uuid.UUID
	slots    map[time.Time][]Clock
	lastEnd  map[time.Time]*Clock
	booked   map[time.Time][]Clock
	used     map[time.Time]map[Clock]bool
}

// Allocate turns rows into drafts for doctorID, attributed to actor.
func (a *Allocator) Allocate(ctx context.Context, doctorID uuid.UUID, actor string, rows []ImportRow) *Allocation {
	run := &allocationRun{
		doctorID: doctorID,
		slots:    make(map[time.Time][]Clock),
		lastEnd:  make(map[time.Time]*Clock),
		booked:   make(map[time.Time][]Clock),
		used:     make(map[time.Time]map[Clock]bool),
	}

	out := &Allocation{}
	for _, row := range rows {
		appt, err := a.allocateRow(ctx, run, actor, row)
		if err != nil {
			out.Errors = append(out.Errors, RowError{Line: row.Line, Err: err})
			continue
		}
		out.Drafts = append(out.Drafts, Draft{Line: row.Line, Appointment: appt})
	}
	return out
}

func (a *Allocator) allocateRow(ctx context.Context, run *allocationRun, actor string, row ImportRow) (*Appointment, error) {
	date, err := ParseImportDate(row.Date)
	if err != nil {
		return nil, err
	}
	date = DateOnly(date)
	if date.Before(DateOnly(a.today())) {
		return nil, fmt.Errorf("%w: %s", ErrPastDate, date.Format(dateLayout))
	}

	at, err := a.nextTime(ctx, run, date)
	if err != nil {
		return nil, err
	}

	pi, err := row.identity()
	if err != nil {
		return nil, err
	}
	patient, err := a.patients.FindOrCreatePatient(ctx, actor, pi)
	if err != nil {
		return nil, err
	}

	if run.used[date] == nil {
		run.used[date] = make(map[Clock]bool)
	}
	run.used[date][at] = true

	appt := &Appointment{
		DoctorID:  run.doctorID,
		PatientID: patient.ID,
		Date:      date,
		Time:      at,
		Status:    StatusScheduled,
		CreatedBy: actor,
		UpdatedBy: actor,
	}
	if notes := strings.TrimSpace(row.Notes); notes != "" {
		appt.Notes = &notes
	}
	return appt, nil
}

// nextTime picks the earliest free regular slot, or stacks an overflow time
// after the latest taken time or the last shift end, whichever is later.
func (a *Allocator) nextTime(ctx context.Context, run *allocationRun, date time.Time) (Clock, error) {
	slots, ok := run.slots[date]
	if !ok {
		wh, err := a.hours.Compute(ctx, run.doctorID, date)
		if err != nil {
			return 0, fmt.Errorf("compute working hours: %w", err)
		}
		booked, err := a.appointments.BookedTimes(ctx, run.doctorID, date, nil)
		if err != nil {
			return 0, fmt.Errorf("load booked times: %w", err)
		}
		slots = wh.Slots
		run.slots[date] = slots
		run.lastEnd[date] = wh.LastSlotEnd
		run.booked[date] = booked
	}

	unavailable := make(map[Clock]bool, len(run.booked[date])+len(run.used[date]))
	var latest *Clock
	mark := func(c Clock) {
		unavailable[c] = true
		if latest == nil || c > *latest {
			v := c
			latest = &v
		}
	}
	for _, c := range run.booked[date] {
		mark(c)
	}
	for c := range run.used[date] {
		mark(c)
	}

	for _, c := range slots {
		if !unavailable[c] {
			return c, nil
		}
	}

	anchor := latest
	if end := run.lastEnd[date]; end != nil && (anchor == nil || *end > *anchor) {
		anchor = end
	}
	if anchor == nil {
		return 0, ErrNoAvailableSlots
	}
	next := anchor.Add(a.overflow)
	if next.Minutes() >= minutesPerDay {
		return 0, fmt.Errorf("%w: overflow runs past midnight", ErrNoAvailableSlots)
	}
	return next, nil
}

func (r ImportRow) identity() (identity.PatientIdentity, error) {
	pi := identity.PatientIdentity{
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Phone:     r.Phone,
	}
	if email := strings.TrimSpace(r.Email); email != "" {
		pi.Email = &email
	}
	if strings.TrimSpace(r.DateOfBirth) != "" {
		dob, err := ParseImportDate(r.DateOfBirth)
		if err != nil {
			return pi, fmt.Errorf("date of birth: %w", err)
		}
		pi.DateOfBirth = &dob
	}
	return pi, nil
}
