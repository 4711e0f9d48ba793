package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

// uniqueSlotConstraint is the partial unique index guarding one appointment
// per doctor, date and time.
const uniqueSlotConstraint = "appointment_doctor_slot_uniq"

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func slotConflict(err error) error {
	if db.IsUniqueViolation(err, uniqueSlotConstraint) {
		return fmt.Errorf("%w: %v", ErrSlotConflict, err)
	}
	return err
}

func statusCodes(statuses []Status) []int32 {
	out := make([]int32, len(statuses))
	for i, s := range statuses {
		out[i] = int32(s)
	}
	return out
}

// -- Schedule Repository --

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepo(pool *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepoPG{pool: pool}
}

const scheduleCols = `id, doctor_id, day_of_week, specific_date, shift_period, start_time, end_time,
	number_of_patients_per_day, is_active, created_by, created_at, updated_at`

func scanSchedule(row pgx.Row) (*DoctorSchedule, error) {
	var s DoctorSchedule
	err := row.Scan(&s.ID, &s.DoctorID, &s.DayOfWeek, &s.SpecificDate, &s.ShiftPeriod, &s.StartTime, &s.EndTime,
		&s.PatientsPerDay, &s.IsActive, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func collectSchedules(rows pgx.Rows) ([]*DoctorSchedule, error) {
	defer rows.Close()
	var out []*DoctorSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *DoctorSchedule) error {
	s.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctor_schedule (id, doctor_id, day_of_week, specific_date, shift_period, start_time, end_time,
			number_of_patients_per_day, is_active, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		s.ID, s.DoctorID, s.DayOfWeek, s.SpecificDate, s.ShiftPeriod, s.StartTime, s.EndTime,
		s.PatientsPerDay, s.IsActive, s.CreatedBy,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if db.IsUniqueViolation(err, "doctor_schedule_shift_uniq") {
		return fmt.Errorf("%w: a %s shift already exists for that day", ErrValidation, s.ShiftPeriod)
	}
	return err
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DoctorSchedule, error) {
	return scanSchedule(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+scheduleCols+` FROM doctor_schedule WHERE id = $1`, id))
}

func (r *scheduleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM doctor_schedule WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *scheduleRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*DoctorSchedule, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+scheduleCols+` FROM doctor_schedule
		WHERE doctor_id = $1
		ORDER BY specific_date NULLS FIRST, day_of_week, shift_period DESC`, doctorID)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (r *scheduleRepoPG) ActiveForDay(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday, date time.Time) ([]*DoctorSchedule, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+scheduleCols+` FROM doctor_schedule
		WHERE doctor_id = $1 AND is_active AND specific_date = $2`, doctorID, DateOnly(date))
	if err != nil {
		return nil, err
	}
	specific, err := collectSchedules(rows)
	if err != nil || len(specific) > 0 {
		return specific, err
	}

	rows, err = db.Conn(ctx, r.pool).Query(ctx, `SELECT `+scheduleCols+` FROM doctor_schedule
		WHERE doctor_id = $1 AND is_active AND specific_date IS NULL AND day_of_week = $2`, doctorID, int(weekday))
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

// -- Config Repository --

type configRepoPG struct{ pool *pgxpool.Pool }

func NewConfigRepo(pool *pgxpool.Pool) ConfigRepository {
	return &configRepoPG{pool: pool}
}

func (r *configRepoPG) Get(ctx context.Context, doctorID uuid.UUID) (*DoctorConfig, error) {
	var c DoctorConfig
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT doctor_id, time_slot_minutes, break_start, break_end, daily_appointment_limit, updated_by, updated_at
		FROM doctor_config WHERE doctor_id = $1`, doctorID,
	).Scan(&c.DoctorID, &c.TimeSlotMinutes, &c.BreakStart, &c.BreakEnd, &c.DailyAppointmentLimit,
		&c.UpdatedBy, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *configRepoPG) Upsert(ctx context.Context, c *DoctorConfig) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctor_config (doctor_id, time_slot_minutes, break_start, break_end, daily_appointment_limit, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (doctor_id) DO UPDATE SET
			time_slot_minutes = EXCLUDED.time_slot_minutes,
			break_start = EXCLUDED.break_start,
			break_end = EXCLUDED.break_end,
			daily_appointment_limit = EXCLUDED.daily_appointment_limit,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING updated_at`,
		c.DoctorID, c.TimeSlotMinutes, c.BreakStart, c.BreakEnd, c.DailyAppointmentLimit, c.UpdatedBy,
	).Scan(&c.UpdatedAt)
}

// -- Appointment Repository --

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepo(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const appointmentCols = `id, doctor_id, patient_id, appointment_date, appointment_time, status, notes,
	created_by, updated_by, created_at, updated_at, deleted_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.Date, &a.Time, &a.Status, &a.Notes,
		&a.CreatedBy, &a.UpdatedBy, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const insertAppointment = `
	INSERT INTO appointment (id, doctor_id, patient_id, appointment_date, appointment_time, status, notes,
		created_by, updated_by)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
	RETURNING created_at, updated_at`

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.UpdatedBy = a.CreatedBy
	err := db.Conn(ctx, r.pool).QueryRow(ctx, insertAppointment,
		a.ID, a.DoctorID, a.PatientID, DateOnly(a.Date), a.Time, a.Status, a.Notes, a.CreatedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return slotConflict(err)
}

// CreateBatch queues every insert on one round trip. Callers wrap it in a
// transaction when the batch must land atomically.
func (r *appointmentRepoPG) CreateBatch(ctx context.Context, as []*Appointment) error {
	if len(as) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range as {
		a.ID = uuid.New()
		a.UpdatedBy = a.CreatedBy
		appt := a
		batch.Queue(insertAppointment,
			appt.ID, appt.DoctorID, appt.PatientID, DateOnly(appt.Date), appt.Time, appt.Status, appt.Notes, appt.CreatedBy,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&appt.CreatedAt, &appt.UpdatedAt)
		})
	}

	return slotConflict(db.Conn(ctx, r.pool).SendBatch(ctx, batch).Close())
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointment WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointment SET doctor_id = $2, patient_id = $3, appointment_date = $4, appointment_time = $5,
			status = $6, notes = $7, updated_by = $8, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at`,
		a.ID, a.DoctorID, a.PatientID, DateOnly(a.Date), a.Time, a.Status, a.Notes, a.UpdatedBy,
	).Scan(&a.UpdatedAt)
	if err != nil {
		return slotConflict(notFound(err))
	}
	return nil
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, actor string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointment SET status = $2, updated_by = $3, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id, status, actor)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) SoftDelete(ctx context.Context, id uuid.UUID, actor string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointment SET status = $2, updated_by = $3, updated_at = NOW(), deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id, StatusCanceled, actor)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	where := ` WHERE deleted_at IS NULL`
	args := []interface{}{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where += fmt.Sprintf(" AND "+clause, len(args))
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Date != nil {
		add("appointment_date = $%d", DateOnly(*f.Date))
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+appointmentCols+` FROM appointment`+where+
		` ORDER BY appointment_date, appointment_time LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectAppointments(rows)
	return items, total, err
}

func (r *appointmentRepoPG) Exists(ctx context.Context, doctorID uuid.UUID, date time.Time, at Clock, excludeID *uuid.UUID) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointment
			WHERE doctor_id = $1 AND appointment_date = $2 AND appointment_time = $3
				AND deleted_at IS NULL AND ($4::uuid IS NULL OR id <> $4)
		)`, doctorID, DateOnly(date), at, excludeID,
	).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) BookedTimes(ctx context.Context, doctorID uuid.UUID, date time.Time, statuses []Status) ([]Clock, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT appointment_time FROM appointment
		WHERE doctor_id = $1 AND appointment_date = $2 AND deleted_at IS NULL
			AND (cardinality($3::int[]) = 0 OR status = ANY($3))
		ORDER BY appointment_time`, doctorID, DateOnly(date), statusCodes(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []Clock
	for rows.Next() {
		var c Clock
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		times = append(times, c)
	}
	return times, rows.Err()
}

func (r *appointmentRepoPG) CountActive(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE doctor_id = $1 AND appointment_date = $2 AND deleted_at IS NULL AND status <> $3`,
		doctorID, DateOnly(date), StatusCanceled,
	).Scan(&n)
	return n, err
}

func (r *appointmentRepoPG) ListForDate(ctx context.Context, date time.Time, statuses []Status) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+appointmentCols+` FROM appointment
		WHERE appointment_date = $1 AND deleted_at IS NULL AND status = ANY($2)
		ORDER BY doctor_id, appointment_time`, DateOnly(date), statusCodes(statuses))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// -- Excluded Date Repository --

type excludedDateRepoPG struct{ pool *pgxpool.Pool }

func NewExcludedDateRepo(pool *pgxpool.Pool) ExcludedDateRepository {
	return &excludedDateRepoPG{pool: pool}
}

const excludedDateCols = `id, doctor_id, start_date, end_date, recurring_yearly, reason, created_by, created_at`

func scanExcludedDate(row pgx.Row) (*ExcludedDate, error) {
	var e ExcludedDate
	err := row.Scan(&e.ID, &e.DoctorID, &e.StartDate, &e.EndDate, &e.RecurringYearly, &e.Reason,
		&e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func collectExcludedDates(rows pgx.Rows) ([]*ExcludedDate, error) {
	defer rows.Close()
	var out []*ExcludedDate
	for rows.Next() {
		e, err := scanExcludedDate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *excludedDateRepoPG) Create(ctx context.Context, e *ExcludedDate) error {
	e.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO excluded_date (id, doctor_id, start_date, end_date, recurring_yearly, reason, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		e.ID, e.DoctorID, DateOnly(e.StartDate), DateOnly(e.EndDate), e.RecurringYearly, e.Reason, e.CreatedBy,
	).Scan(&e.CreatedAt)
}

func (r *excludedDateRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM excluded_date WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *excludedDateRepoPG) List(ctx context.Context, doctorID *uuid.UUID) ([]*ExcludedDate, error) {
	query := `SELECT ` + excludedDateCols + ` FROM excluded_date`
	var args []interface{}
	if doctorID != nil {
		query += ` WHERE doctor_id = $1`
		args = append(args, *doctorID)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query+` ORDER BY start_date`, args...)
	if err != nil {
		return nil, err
	}
	return collectExcludedDates(rows)
}

func (r *excludedDateRepoPG) ForDoctor(ctx context.Context, doctorID uuid.UUID) ([]*ExcludedDate, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+excludedDateCols+` FROM excluded_date
		WHERE doctor_id IS NULL OR doctor_id = $1
		ORDER BY start_date`, doctorID)
	if err != nil {
		return nil, err
	}
	return collectExcludedDates(rows)
}
