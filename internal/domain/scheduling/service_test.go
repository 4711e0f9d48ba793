package scheduling

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/platform/events"
)

type serviceFixture struct {
	svc       *Service
	doctor    *identity.Doctor
	patient   *identity.Patient
	doctors   *memDoctors
	patients  *memPatients
	schedules *memSchedules
	configs   *memConfigs
	appts     *memAppointments
	excluded  *memExcluded
	cache     *memCache
	events    *recordedEvents
	now       time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	doc := newDoctor("Dr. Rivera")
	f := &serviceFixture{
		doctor:    doc,
		doctors:   newMemDoctors(doc),
		patients:  newMemPatients(),
		schedules: &memSchedules{},
		configs:   newMemConfigs(),
		appts:     newMemAppointments(),
		excluded:  &memExcluded{},
		cache:     newMemCache(),
		events:    &recordedEvents{},
		now:       testNow,
	}
	dob := date(1990, 4, 2)
	f.patient = f.patients.add(&identity.Patient{FirstName: "Maria", LastName: "Lopez", Phone: "555-0101", DateOfBirth: &dob})

	for _, day := range []time.Weekday{time.Monday, time.Tuesday} {
		f.schedules.items = append(f.schedules.items,
			weekdayShift(doc.ID, day, ShiftMorning, mustClock(t, "09:00"), mustClock(t, "12:00"), 12))
	}
	f.configs.items[doc.ID] = &DoctorConfig{DoctorID: doc.ID, TimeSlotMinutes: intPtr(30)}

	f.svc = NewService(Deps{
		Doctors:       f.doctors,
		Patients:      f.patients,
		Schedules:     f.schedules,
		Configs:       f.configs,
		Appointments:  f.appts,
		ExcludedDates: f.excluded,
		Tx:            &fakeTx{},
		Cache:         f.cache,
		CacheTTL:      time.Minute,
		Events:        f.events,
		Now:           func() time.Time { return f.now },
		Logger:        zerolog.Nop(),
	})
	return f
}

func (f *serviceFixture) booking(day, at string) BookingInput {
	id := f.patient.ID
	return BookingInput{DoctorID: f.doctor.ID, PatientID: &id, Date: day, Time: at}
}

func TestService_GetSlots(t *testing.T) {
	f := newServiceFixture(t)
	f.appts.seed(f.doctor.ID, f.patient.ID, tuesday, mustClock(t, "09:30"), StatusConfirmed)
	f.appts.seed(f.doctor.ID, f.patient.ID, tuesday, mustClock(t, "10:00"), StatusPending)

	res, err := f.svc.GetSlots(context.Background(), f.doctor.ID, "2030-01-08")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SlotDuration != 30 || len(res.Slots) != 6 {
		t.Fatalf("unexpected result: %+v", res)
	}
	want := []string{"09:00", "10:00", "10:30", "11:00", "11:30"}
	if got := availableTimes(res.Slots); !reflect.DeepEqual(got, want) {
		t.Errorf("available = %v, want %v", got, want)
	}
}

func TestService_GetSlots_TodayHidesPastTimes(t *testing.T) {
	f := newServiceFixture(t)
	f.now = time.Date(2030, time.January, 7, 10, 10, 0, 0, time.UTC)

	res, err := f.svc.GetSlots(context.Background(), f.doctor.ID, "2030-01-07")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"10:30", "11:00", "11:30"}
	if got := availableTimes(res.Slots); !reflect.DeepEqual(got, want) {
		t.Errorf("available = %v, want %v", got, want)
	}
}

func TestService_GetSlots_DateErrors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	tests := []struct {
		raw  string
		want error
	}{
		{"", ErrMissingDate},
		{"08/01/2030", ErrInvalidDateFormat},
		{"2030-01-06", ErrPastDate},
	}
	for _, tt := range tests {
		if _, err := f.svc.GetSlots(ctx, f.doctor.ID, tt.raw); !errors.Is(err, tt.want) {
			t.Errorf("GetSlots(%q): expected %v, got %v", tt.raw, tt.want, err)
		}
	}
}

func TestService_GetSlots_UnknownDoctorHasNoSlots(t *testing.T) {
	f := newServiceFixture(t)
	res, err := f.svc.GetSlots(context.Background(), uuid.New(), "2030-01-08")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Slots) != 0 {
		t.Errorf("expected no slots, got %v", res.Slots)
	}
}

func TestService_BookTwiceConflicts(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	view, err := f.svc.Book(ctx, "reception", f.booking("2030-01-08", "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.DoctorName != "Dr. Rivera" || view.AppointmentTime.String() != "10:00" || view.Status.Name != "Scheduled" {
		t.Errorf("unexpected view: %+v", view)
	}
	if view.PatientDateOfBirth == nil || *view.PatientDateOfBirth != "1990-04-02" {
		t.Errorf("expected patient date of birth in view, got %v", view.PatientDateOfBirth)
	}

	_, err = f.svc.Book(ctx, "reception", f.booking("2030-01-08", "10:00"))
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
	if got := f.events.types(); !reflect.DeepEqual(got, []string{events.AppointmentCreated}) {
		t.Errorf("events = %v", got)
	}
}

func TestService_BookRejections(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	past := f.booking("2030-01-01", "10:00")
	if _, err := f.svc.Book(ctx, "reception", past); !errors.Is(err, ErrPastDate) {
		t.Errorf("expected ErrPastDate, got %v", err)
	}

	badTime := f.booking("2030-01-08", "quarter past")
	if _, err := f.svc.Book(ctx, "reception", badTime); !errors.Is(err, ErrInvalidClockFormat) {
		t.Errorf("expected ErrInvalidClockFormat, got %v", err)
	}

	canceled := f.booking("2030-01-08", "10:00")
	canceled.Status = intPtr(2)
	if _, err := f.svc.Book(ctx, "reception", canceled); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}

	noDoctor := f.booking("2030-01-08", "10:00")
	noDoctor.DoctorID = uuid.New()
	if _, err := f.svc.Book(ctx, "reception", noDoctor); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	noPatient := f.booking("2030-01-08", "10:00")
	missing := uuid.New()
	noPatient.PatientID = &missing
	if _, err := f.svc.Book(ctx, "reception", noPatient); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown patient, got %v", err)
	}

	incomplete := BookingInput{DoctorID: f.doctor.ID, FirstName: "Sam", Date: "2030-01-08", Time: "10:00"}
	if _, err := f.svc.Book(ctx, "reception", incomplete); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestService_BookCreatesPatientFromIdentity(t *testing.T) {
	f := newServiceFixture(t)
	in := BookingInput{
		DoctorID: f.doctor.ID, FirstName: " sam ", LastName: "LEE", Phone: "555-0199",
		Date: "2030-01-08", Time: "09:00", Notes: strPtr("  "),
	}
	view, err := f.svc.Book(context.Background(), "reception", in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.PatientFirstName != "Sam" || view.PatientLastName != "Lee" {
		t.Errorf("expected normalized names, got %s %s", view.PatientFirstName, view.PatientLastName)
	}
	if view.Notes != nil {
		t.Errorf("blank notes should be dropped, got %q", *view.Notes)
	}
	if f.patients.created != 1 {
		t.Errorf("expected one patient created, got %d", f.patients.created)
	}
}

func TestService_RescheduleKeepsOwnSlot(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	view, err := f.svc.Book(ctx, "reception", f.booking("2030-01-08", "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := f.svc.Reschedule(ctx, "doctor", view.ID, BookingInput{Time: "10:00", Notes: strPtr("bring x-rays")})
	if err != nil {
		t.Fatalf("rescheduling into its own slot should succeed, got %v", err)
	}
	if updated.Notes == nil || *updated.Notes != "bring x-rays" {
		t.Errorf("notes not updated: %+v", updated)
	}

	other, err := f.svc.Book(ctx, "reception", f.booking("2030-01-08", "11:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Reschedule(ctx, "doctor", other.ID, BookingInput{Time: "10:00"}); !errors.Is(err, ErrSlotConflict) {
		t.Errorf("expected ErrSlotConflict, got %v", err)
	}
}

func TestService_RescheduleStatusRules(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	view, err := f.svc.Book(ctx, "reception", f.booking("2030-01-08", "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.svc.Reschedule(ctx, "doctor", view.ID, BookingInput{Status: intPtr(2)}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for cancel via update, got %v", err)
	}
	confirmed, err := f.svc.Reschedule(ctx, "doctor", view.ID, BookingInput{Status: intPtr(1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if confirmed.Status.Value != 1 {
		t.Errorf("status = %+v, want confirmed", confirmed.Status)
	}
	if _, err := f.svc.Reschedule(ctx, "doctor", view.ID, BookingInput{Status: intPtr(0)}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for confirmed -> scheduled, got %v", err)
	}
	if _, err := f.svc.Reschedule(ctx, "doctor", uuid.New(), BookingInput{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_CancelFreesSlot(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	view, err := f.svc.Book(ctx, "reception", f.booking("2030-01-08", "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := f.svc.Cancel(ctx, "reception", view.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.GetAppointment(ctx, view.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("canceled appointment should be hidden, got %v", err)
	}
	free, err := f.svc.CheckAvailability(ctx, f.doctor.ID, "2030-01-08", "10:00")
	if err != nil || !free {
		t.Errorf("expected slot to be free after cancel, got %v %v", free, err)
	}
	if _, err := f.svc.Book(ctx, "reception", f.booking("2030-01-08", "10:00")); err != nil {
		t.Errorf("expected rebooking to succeed, got %v", err)
	}

	want := []string{events.AppointmentCreated, events.AppointmentCanceled, events.AppointmentCreated}
	if got := f.events.types(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestService_UpdateStatus(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	view, err := f.svc.Book(ctx, "reception", f.booking("2030-01-08", "10:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.svc.UpdateStatus(ctx, "doctor", view.ID, 7); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
	pending, err := f.svc.UpdateStatus(ctx, "doctor", view.ID, 3)
	if err != nil || pending.Status.Name != "Pending" {
		t.Fatalf("expected pending, got %+v %v", pending, err)
	}
	canceled, err := f.svc.UpdateStatus(ctx, "doctor", view.ID, 2)
	if err != nil || canceled.Status.Name != "Canceled" {
		t.Fatalf("expected canceled, got %+v %v", canceled, err)
	}
	taken, _ := f.appts.Exists(ctx, f.doctor.ID, tuesday, mustClock(t, "10:00"), nil)
	if taken {
		t.Error("canceling through the status endpoint should free the slot")
	}
	types := f.events.types()
	if types[len(types)-1] != events.AppointmentCanceled {
		t.Errorf("expected a canceled event last, got %v", types)
	}
}

func TestService_CheckAvailability(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.appts.seed(f.doctor.ID, f.patient.ID, tuesday, mustClock(t, "09:00"), StatusPending)

	free, err := f.svc.CheckAvailability(ctx, f.doctor.ID, "2030-01-08", "09:00")
	if err != nil || free {
		t.Errorf("pending appointment should hold the slot, got %v %v", free, err)
	}
	free, err = f.svc.CheckAvailability(ctx, f.doctor.ID, "2030-01-08", "09:30")
	if err != nil || !free {
		t.Errorf("expected free slot, got %v %v", free, err)
	}
	if _, err := f.svc.CheckAvailability(ctx, f.doctor.ID, "", "09:30"); !errors.Is(err, ErrMissingDate) {
		t.Errorf("expected ErrMissingDate, got %v", err)
	}
	if _, err := f.svc.CheckAvailability(ctx, f.doctor.ID, "2030-01-08", ""); !errors.Is(err, ErrInvalidClockFormat) {
		t.Errorf("expected ErrInvalidClockFormat, got %v", err)
	}
}

func TestService_ListAppointments(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	for _, at := range []string{"09:00", "09:30", "10:00"} {
		if _, err := f.svc.Book(ctx, "reception", f.booking("2030-01-08", at)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	doc := f.doctor.ID
	f.doctors.calls = 0
	views, total, err := f.svc.ListAppointments(ctx, AppointmentFilter{DoctorID: &doc, Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(views) != 2 {
		t.Errorf("total=%d len=%d, want 3 and 2", total, len(views))
	}
	if f.doctors.calls != 1 {
		t.Errorf("expected one doctor lookup per page, got %d", f.doctors.calls)
	}
}

func TestService_Import(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	rows := []ImportRow{importRow(1, "2030-01-08"), importRow(2, "08/01/2030")}
	res, err := f.svc.Import(ctx, "reception", f.doctor.ID, rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Imported != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := f.events.types(); !reflect.DeepEqual(got, []string{events.AppointmentsImported}) {
		t.Errorf("events = %v", got)
	}

	if _, err := f.svc.Import(ctx, "reception", uuid.New(), rows); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown doctor, got %v", err)
	}
}

func TestService_ConfigChangeInvalidatesCache(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GetSlots(ctx, f.doctor.ID, "2030-01-08"); err != nil {
		t.Fatal(err)
	}
	if len(f.cache.items) != 1 {
		t.Fatalf("expected hours to be cached, got %d entries", len(f.cache.items))
	}

	err := f.svc.UpdateConfig(ctx, "admin", &DoctorConfig{DoctorID: f.doctor.ID, TimeSlotMinutes: intPtr(60)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.cache.items) != 0 {
		t.Errorf("expected cache to be cleared, got %d entries", len(f.cache.items))
	}

	res, err := f.svc.GetSlots(ctx, f.doctor.ID, "2030-01-08")
	if err != nil {
		t.Fatal(err)
	}
	if res.SlotDuration != 60 || len(res.Slots) != 3 {
		t.Errorf("expected hourly slots after config change, got %+v", res)
	}
}

func TestService_ExcludedDates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	e := &ExcludedDate{StartDate: tuesday, EndDate: tuesday}
	if err := f.svc.CreateExcludedDate(ctx, "admin", e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.cache.deleted[len(f.cache.deleted)-1] != slotCachePrefix {
		t.Errorf("clinic-wide exclusion should clear every cached date, got %v", f.cache.deleted)
	}
	res, err := f.svc.GetSlots(ctx, f.doctor.ID, "2030-01-08")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Slots) != 0 {
		t.Errorf("expected no slots on an excluded date, got %v", res.Slots)
	}

	if err := f.svc.DeleteExcludedDate(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	res, err = f.svc.GetSlots(ctx, f.doctor.ID, "2030-01-08")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Slots) != 6 {
		t.Errorf("expected slots back after removing the exclusion, got %d", len(res.Slots))
	}

	unknown := uuid.New()
	if err := f.svc.CreateExcludedDate(ctx, "admin", &ExcludedDate{DoctorID: &unknown, StartDate: tuesday, EndDate: tuesday}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_Schedules(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	sch := weekdayShift(f.doctor.ID, time.Wednesday, ShiftAfternoon, mustClock(t, "14:00"), mustClock(t, "16:00"), 4)
	if err := f.svc.CreateSchedule(ctx, "admin", sch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sch.CreatedBy != "admin" {
		t.Errorf("created by = %q", sch.CreatedBy)
	}
	list, err := f.svc.ListSchedules(ctx, f.doctor.ID)
	if err != nil || len(list) != 3 {
		t.Fatalf("expected 3 schedules, got %d %v", len(list), err)
	}

	if err := f.svc.DeleteSchedule(ctx, uuid.New(), sch.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleting through another doctor should be not found, got %v", err)
	}
	if err := f.svc.DeleteSchedule(ctx, f.doctor.ID, sch.ID); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := weekdayShift(f.doctor.ID, time.Wednesday, ShiftAfternoon, mustClock(t, "16:00"), mustClock(t, "14:00"), 4)
	if err := f.svc.CreateSchedule(ctx, "admin", bad); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestService_GetConfigDefaults(t *testing.T) {
	f := newServiceFixture(t)
	other := uuid.New()
	cfg, err := f.svc.GetConfig(context.Background(), other)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DoctorID != other || cfg.TimeSlotMinutes != nil {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}
