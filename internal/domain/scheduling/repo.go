package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ScheduleRepository interface {
	Create(ctx context.Context, s *DoctorSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*DoctorSchedule, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*DoctorSchedule, error)
	// ActiveForDay returns active rows for the exact date when any exist,
	// otherwise the active rows for the weekday.
	ActiveForDay(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday, date time.Time) ([]*DoctorSchedule, error)
}

type ConfigRepository interface {
	// Get returns ErrNotFound when the doctor has no config row.
	Get(ctx context.Context, doctorID uuid.UUID) (*DoctorConfig, error)
	Upsert(ctx context.Context, c *DoctorConfig) error
}

// AppointmentFilter narrows List. Zero values do not filter.
type AppointmentFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Date      *time.Time
	Status    *Status
	Limit     int
	Offset    int
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	CreateBatch(ctx context.Context, as []*Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, actor string) error
	SoftDelete(ctx context.Context, id uuid.UUID, actor string) error
	List(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error)
	// Exists reports whether a non-deleted appointment holds the slot,
	// ignoring excludeID when it is not nil.
	Exists(ctx context.Context, doctorID uuid.UUID, date time.Time, at Clock, excludeID *uuid.UUID) (bool, error)
	// BookedTimes returns the times of non-deleted appointments on date.
	// An empty statuses slice matches every status.
	BookedTimes(ctx context.Context, doctorID uuid.UUID, date time.Time, statuses []Status) ([]Clock, error)
	// CountActive counts non-deleted, non-canceled appointments on date.
	CountActive(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error)
	ListForDate(ctx context.Context, date time.Time, statuses []Status) ([]*Appointment, error)
}

type ExcludedDateRepository interface {
	Create(ctx context.Context, e *ExcludedDate) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, doctorID *uuid.UUID) ([]*ExcludedDate, error)
	// ForDoctor returns the global rows plus the doctor's own rows.
	ForDoctor(ctx context.Context, doctorID uuid.UUID) ([]*ExcludedDate, error)
}
