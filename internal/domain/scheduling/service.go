package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/events"
)

// PatientDirectory looks up and resolves patients. *identity.Service
// satisfies it.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
	PatientResolver
}

// Deps wires a Service. Cache, Events and Now are optional.
type Deps struct {
	Doctors         DoctorDirectory
	Patients        PatientDirectory
	Schedules       ScheduleRepository
	Configs         ConfigRepository
	Appointments    AppointmentRepository
	ExcludedDates   ExcludedDateRepository
	Tx              db.TxRunner
	Cache           SlotCache
	CacheTTL        time.Duration
	Events          events.Publisher
	Location        *time.Location
	Now             func() time.Time
	OverflowMinutes int
	ImportChunkSize int
	Logger          zerolog.Logger
}

type Service struct {
	doctors      DoctorDirectory
	patients     PatientDirectory
	schedules    ScheduleRepository
	configs      ConfigRepository
	appointments AppointmentRepository
	excluded     ExcludedDateRepository
	cache        SlotCache
	events       events.Publisher
	loc          *time.Location
	now          func() time.Time
	logger       zerolog.Logger

	hours    *HoursCalculator
	guard    *ConflictGuard
	importer *Importer
}

func NewService(d Deps) *Service {
	s := &Service{
		doctors:      d.Doctors,
		patients:     d.Patients,
		schedules:    d.Schedules,
		configs:      d.Configs,
		appointments: d.Appointments,
		excluded:     d.ExcludedDates,
		cache:        d.Cache,
		events:       d.Events,
		loc:          d.Location,
		now:          d.Now,
		logger:       d.Logger,
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.hours = NewHoursCalculator(d.Doctors, d.Schedules, d.Configs, d.ExcludedDates, d.Logger)
	if d.Cache != nil {
		s.hours.WithCache(d.Cache, d.CacheTTL)
	}
	s.guard = NewConflictGuard(d.Appointments)
	allocator := NewAllocator(s.hours, d.Appointments, d.Patients, d.OverflowMinutes, s.localNow)
	s.importer = NewImporter(allocator, d.Appointments, d.Tx, d.ImportChunkSize, d.Logger)
	return s
}

func (s *Service) localNow() time.Time {
	return s.now().In(s.loc)
}

func (s *Service) today() time.Time {
	return DateOnly(s.localNow())
}

// parseFutureDate validates a YYYY-MM-DD value that must not be in the past.
func (s *Service) parseFutureDate(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, ErrMissingDate
	}
	date, err := ParseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	if date.Before(s.today()) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrPastDate, raw)
	}
	return date, nil
}

func (s *Service) requireDoctor(ctx context.Context, id uuid.UUID) (*identity.Doctor, error) {
	doc, err := s.doctors.GetDoctor(ctx, id)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("doctor %w", ErrNotFound)
	}
	return doc, err
}

func (s *Service) doctorConfig(ctx context.Context, doctorID uuid.UUID) (*DoctorConfig, error) {
	cfg, err := s.configs.Get(ctx, doctorID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return cfg, err
}

// -- Slots --

type SlotsResult struct {
	Slots        []Slot `json:"slots"`
	SlotDuration int    `json:"slotDuration"`
}

// GetSlots lists the doctor's candidate slots for date with availability.
func (s *Service) GetSlots(ctx context.Context, doctorID uuid.UUID, rawDate string) (*SlotsResult, error) {
	date, err := s.parseFutureDate(rawDate)
	if err != nil {
		return nil, err
	}

	wh, err := s.hours.Compute(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	cfg, err := s.doctorConfig(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("get doctor config: %w", err)
	}
	booked, err := s.appointments.BookedTimes(ctx, doctorID, date, BookedStatuses)
	if err != nil {
		return nil, fmt.Errorf("load booked times: %w", err)
	}
	active, err := s.appointments.CountActive(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}

	in := AvailabilityInput{Hours: wh, Config: cfg, Booked: booked, ActiveCount: active}
	if date.Equal(s.today()) {
		now := ClockOf(s.localNow())
		in.Now = &now
	}
	return &SlotsResult{Slots: FilterAvailability(in), SlotDuration: wh.SlotDuration}, nil
}

// CheckAvailability reports whether no live appointment holds the slot.
func (s *Service) CheckAvailability(ctx context.Context, doctorID uuid.UUID, rawDate, rawTime string) (bool, error) {
	if strings.TrimSpace(rawDate) == "" {
		return false, ErrMissingDate
	}
	date, err := ParseDate(rawDate)
	if err != nil {
		return false, err
	}
	at, err := ParseClock(rawTime)
	if err != nil {
		return false, err
	}
	taken, err := s.guard.SlotTaken(ctx, doctorID, date, at, nil)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// -- Booking --

// BookingInput is a create or reschedule request. The patient is taken from
// PatientID when set, otherwise matched or created from the identity fields.
type BookingInput struct {
	DoctorID    uuid.UUID
	PatientID   *uuid.UUID
	FirstName   string
	LastName    string
	Phone       string
	DateOfBirth *time.Time
	Email       *string
	Date        string
	Time        string
	Notes       *string
	Status      *int
}

func (in BookingInput) hasIdentity() bool {
	return in.FirstName != "" || in.LastName != "" || in.Phone != ""
}

func (s *Service) resolvePatient(ctx context.Context, actor string, in BookingInput) (*identity.Patient, error) {
	if in.PatientID != nil {
		p, err := s.patients.GetPatient(ctx, *in.PatientID)
		if errors.Is(err, identity.ErrNotFound) {
			return nil, fmt.Errorf("patient %w", ErrNotFound)
		}
		return p, err
	}
	p, err := s.patients.FindOrCreatePatient(ctx, actor, identity.PatientIdentity{
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Phone:       in.Phone,
		DateOfBirth: in.DateOfBirth,
		Email:       in.Email,
	})
	if errors.Is(err, identity.ErrValidation) {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return p, err
}

// Book creates an appointment after checking the slot is free.
func (s *Service) Book(ctx context.Context, actor string, in BookingInput) (*AppointmentView, error) {
	date, err := s.parseFutureDate(in.Date)
	if err != nil {
		return nil, err
	}
	at, err := ParseClock(in.Time)
	if err != nil {
		return nil, err
	}
	status := StatusScheduled
	if in.Status != nil {
		if status, err = ParseStatus(*in.Status); err != nil {
			return nil, err
		}
		if status == StatusCanceled {
			return nil, fmt.Errorf("%w: cannot book a canceled appointment", ErrInvalidStatus)
		}
	}

	if _, err := s.requireDoctor(ctx, in.DoctorID); err != nil {
		return nil, err
	}
	patient, err := s.resolvePatient(ctx, actor, in)
	if err != nil {
		return nil, err
	}

	if err := s.guard.Ensure(ctx, in.DoctorID, date, at, nil); err != nil {
		return nil, err
	}
	appt := &Appointment{
		DoctorID:  in.DoctorID,
		PatientID: patient.ID,
		Date:      date,
		Time:      at,
		Status:    status,
		Notes:     trimNotes(in.Notes),
		CreatedBy: actor,
		UpdatedBy: actor,
	}
	if err := s.appointments.Create(ctx, appt); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	view, err := s.view(ctx, appt, newViewLookup())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.AppointmentCreated, actor, appt, view)
	return view, nil
}

// Reschedule updates an appointment. A changed slot is re-checked against
// other appointments, never against the appointment itself.
func (s *Service) Reschedule(ctx context.Context, actor string, id uuid.UUID, in BookingInput) (*AppointmentView, error) {
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.DoctorID != uuid.Nil && in.DoctorID != appt.DoctorID {
		if _, err := s.requireDoctor(ctx, in.DoctorID); err != nil {
			return nil, err
		}
		appt.DoctorID = in.DoctorID
	}
	if in.Date != "" {
		date, err := s.parseFutureDate(in.Date)
		if err != nil {
			return nil, err
		}
		appt.Date = date
	}
	if in.Time != "" {
		if appt.Time, err = ParseClock(in.Time); err != nil {
			return nil, err
		}
	}
	if in.Status != nil {
		next, err := ParseStatus(*in.Status)
		if err != nil {
			return nil, err
		}
		if next == StatusCanceled {
			return nil, fmt.Errorf("%w: cancel through the status or delete endpoint", ErrInvalidTransition)
		}
		if !appt.Status.CanTransitionTo(next) {
			return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, appt.Status, next)
		}
		appt.Status = next
	}
	if in.PatientID != nil || in.hasIdentity() {
		patient, err := s.resolvePatient(ctx, actor, in)
		if err != nil {
			return nil, err
		}
		appt.PatientID = patient.ID
	}
	if in.Notes != nil {
		appt.Notes = trimNotes(in.Notes)
	}

	if err := s.guard.Ensure(ctx, appt.DoctorID, appt.Date, appt.Time, &appt.ID); err != nil {
		return nil, err
	}
	appt.UpdatedBy = actor
	if err := s.appointments.Update(ctx, appt); err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	view, err := s.view(ctx, appt, newViewLookup())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.AppointmentUpdated, actor, appt, view)
	return view, nil
}

// Cancel soft-deletes the appointment and frees its slot.
func (s *Service) Cancel(ctx context.Context, actor string, id uuid.UUID) error {
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.appointments.SoftDelete(ctx, id, actor); err != nil {
		return err
	}
	appt.Status = StatusCanceled
	s.publish(ctx, events.AppointmentCanceled, actor, appt, nil)
	return nil
}

// UpdateStatus moves an appointment along its lifecycle. Moving to Canceled
// also frees the slot.
func (s *Service) UpdateStatus(ctx context.Context, actor string, id uuid.UUID, code int) (*AppointmentView, error) {
	next, err := ParseStatus(code)
	if err != nil {
		return nil, err
	}
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appt.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, appt.Status, next)
	}

	if next == StatusCanceled {
		if err := s.appointments.SoftDelete(ctx, id, actor); err != nil {
			return nil, err
		}
	} else if err := s.appointments.UpdateStatus(ctx, id, next, actor); err != nil {
		return nil, err
	}
	appt.Status = next
	appt.UpdatedBy = actor

	view, err := s.view(ctx, appt, newViewLookup())
	if err != nil {
		return nil, err
	}
	eventType := events.AppointmentUpdated
	if next == StatusCanceled {
		eventType = events.AppointmentCanceled
	}
	s.publish(ctx, eventType, actor, appt, view)
	return view, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentView, error) {
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, appt, newViewLookup())
}

func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter) ([]*AppointmentView, int, error) {
	items, total, err := s.appointments.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	lookup := newViewLookup()
	views := make([]*AppointmentView, 0, len(items))
	for _, a := range items {
		v, err := s.view(ctx, a, lookup)
		if err != nil {
			return nil, 0, err
		}
		views = append(views, v)
	}
	return views, total, nil
}

// -- Import --

// Import books one appointment per row for doctorID. Row problems are
// reported in the result; only an unknown doctor fails the call.
func (s *Service) Import(ctx context.Context, actor string, doctorID uuid.UUID, rows []ImportRow) (*ImportResult, error) {
	if _, err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	res := s.importer.Import(ctx, doctorID, actor, rows)
	if res.Imported > 0 {
		data, _ := json.Marshal(map[string]int{"imported": res.Imported, "errors": len(res.Errors)})
		s.emit(ctx, events.Event{
			Type:     events.AppointmentsImported,
			Topic:    events.DoctorTopic(doctorID.String()),
			DoctorID: doctorID.String(),
			Actor:    actor,
			Data:     data,
		})
	}
	return res, nil
}

// -- Schedules, config and exclusions --

func (s *Service) invalidateDoctor(ctx context.Context, doctorID uuid.UUID) {
	s.invalidate(ctx, doctorCachePrefix(doctorID))
}

func (s *Service) invalidate(ctx context.Context, prefix string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeletePrefix(ctx, prefix); err != nil {
		s.logger.Warn().Err(err).Str("prefix", prefix).Msg("slot cache invalidation failed")
	}
}

func (s *Service) CreateSchedule(ctx context.Context, actor string, sch *DoctorSchedule) error {
	if err := sch.Validate(); err != nil {
		return err
	}
	if _, err := s.requireDoctor(ctx, sch.DoctorID); err != nil {
		return err
	}
	if sch.SpecificDate != nil {
		d := DateOnly(*sch.SpecificDate)
		sch.SpecificDate = &d
	}
	sch.CreatedBy = actor
	if err := s.schedules.Create(ctx, sch); err != nil {
		return err
	}
	s.invalidateDoctor(ctx, sch.DoctorID)
	return nil
}

func (s *Service) ListSchedules(ctx context.Context, doctorID uuid.UUID) ([]*DoctorSchedule, error) {
	return s.schedules.ListByDoctor(ctx, doctorID)
}

func (s *Service) DeleteSchedule(ctx context.Context, doctorID, id uuid.UUID) error {
	sch, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sch.DoctorID != doctorID {
		return ErrNotFound
	}
	if err := s.schedules.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateDoctor(ctx, doctorID)
	return nil
}

// GetConfig returns the doctor's config, or an empty one when none is saved.
func (s *Service) GetConfig(ctx context.Context, doctorID uuid.UUID) (*DoctorConfig, error) {
	cfg, err := s.doctorConfig(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &DoctorConfig{DoctorID: doctorID}
	}
	return cfg, nil
}

func (s *Service) UpdateConfig(ctx context.Context, actor string, cfg *DoctorConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := s.requireDoctor(ctx, cfg.DoctorID); err != nil {
		return err
	}
	cfg.UpdatedBy = actor
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return err
	}
	s.invalidateDoctor(ctx, cfg.DoctorID)
	return nil
}

func (s *Service) CreateExcludedDate(ctx context.Context, actor string, e *ExcludedDate) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.DoctorID != nil {
		if _, err := s.requireDoctor(ctx, *e.DoctorID); err != nil {
			return err
		}
	}
	e.StartDate, e.EndDate = DateOnly(e.StartDate), DateOnly(e.EndDate)
	e.CreatedBy = actor
	if err := s.excluded.Create(ctx, e); err != nil {
		return err
	}
	if e.DoctorID != nil {
		s.invalidateDoctor(ctx, *e.DoctorID)
	} else {
		s.invalidate(ctx, slotCachePrefix)
	}
	return nil
}

func (s *Service) ListExcludedDates(ctx context.Context, doctorID *uuid.UUID) ([]*ExcludedDate, error) {
	return s.excluded.List(ctx, doctorID)
}

func (s *Service) DeleteExcludedDate(ctx context.Context, id uuid.UUID) error {
	if err := s.excluded.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, slotCachePrefix)
	return nil
}

// -- Views and events --

// AppointmentView is the appointment shape returned to clients.
type AppointmentView struct {
	ID                 uuid.UUID     `json:"id"`
	PatientFirstName   string        `json:"patient_first_name"`
	PatientLastName    string        `json:"patient_last_name"`
	PatientID          uuid.UUID     `json:"patient_id"`
	PatientDateOfBirth *string       `json:"patient_Date_Of_Birth"`
	Phone              string        `json:"phone"`
	DoctorID           uuid.UUID     `json:"doctor_id"`
	DoctorName         string        `json:"doctor_name"`
	AppointmentDate    string        `json:"appointment_date"`
	AppointmentTime    Clock         `json:"appointment_time"`
	Notes              *string       `json:"notes,omitempty"`
	Status             StatusDisplay `json:"status"`
}

// viewLookup memoises patients and doctors while building a page of views.
type viewLookup struct {
	patients map[uuid.UUID]*identity.Patient
	doctors  map[uuid.UUID]*identity.Doctor
}

func newViewLookup() *viewLookup {
	return &viewLookup{
		patients: make(map[uuid.UUID]*identity.Patient),
		doctors:  make(map[uuid.UUID]*identity.Doctor),
	}
}

func (s *Service) view(ctx context.Context, a *Appointment, lookup *viewLookup) (*AppointmentView, error) {
	p, ok := lookup.patients[a.PatientID]
	if !ok {
		var err error
		if p, err = s.patients.GetPatient(ctx, a.PatientID); err != nil {
			return nil, fmt.Errorf("load patient %s: %w", a.PatientID, err)
		}
		lookup.patients[a.PatientID] = p
	}
	d, ok := lookup.doctors[a.DoctorID]
	if !ok {
		var err error
		if d, err = s.doctors.GetDoctor(ctx, a.DoctorID); err != nil {
			return nil, fmt.Errorf("load doctor %s: %w", a.DoctorID, err)
		}
		lookup.doctors[a.DoctorID] = d
	}

	v := &AppointmentView{
		ID:               a.ID,
		PatientFirstName: p.FirstName,
		PatientLastName:  p.LastName,
		PatientID:        p.ID,
		Phone:            p.Phone,
		DoctorID:         d.ID,
		DoctorName:       d.Name,
		AppointmentDate:  DateOnly(a.Date).Format(dateLayout),
		AppointmentTime:  a.Time,
		Notes:            a.Notes,
		Status:           a.Status.Display(),
	}
	if p.DateOfBirth != nil {
		dob := p.DateOfBirth.Format(dateLayout)
		v.PatientDateOfBirth = &dob
	}
	return v, nil
}

func (s *Service) publish(ctx context.Context, eventType, actor string, a *Appointment, view *AppointmentView) {
	var data json.RawMessage
	if view != nil {
		data, _ = json.Marshal(view)
	}
	s.emit(ctx, events.Event{
		Type:          eventType,
		Topic:         events.DoctorTopic(a.DoctorID.String()),
		DoctorID:      a.DoctorID.String(),
		AppointmentID: a.ID.String(),
		Actor:         actor,
		Data:          data,
	})
}

func (s *Service) emit(ctx context.Context, e events.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Error().Err(err).Str("type", e.Type).Msg("failed to publish appointment event")
	}
}

func trimNotes(n *string) *string {
	if n == nil {
		return nil
	}
	v := strings.TrimSpace(*n)
	if v == "" {
		return nil
	}
	return &v
}
