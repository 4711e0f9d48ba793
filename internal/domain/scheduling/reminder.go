package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/platform/notification"
)

// Notifier sends a rendered template to one recipient.
// *notification.Manager satisfies it.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

// ReminderJob emails patients about their appointments on the next day.
type ReminderJob struct {
	appointments AppointmentRepository
	patients     PatientDirectory
	doctors      DoctorDirectory
	notifier     Notifier
	loc          *time.Location
	now          func() time.Time
	logger       zerolog.Logger
}

func NewReminderJob(appointments AppointmentRepository, patients PatientDirectory, doctors DoctorDirectory,
	notifier Notifier, loc *time.Location, logger zerolog.Logger) *ReminderJob {
	if loc == nil {
		loc = time.UTC
	}
	return &ReminderJob{
		appointments: appointments,
		patients:     patients,
		doctors:      doctors,
		notifier:     notifier,
		loc:          loc,
		now:          time.Now,
		logger:       logger,
	}
}

// ReminderStats summarises one run.
type ReminderStats struct {
	Sent    int
	Skipped int
	Failed  int
}

// Run sends one email per Scheduled, Confirmed or Pending appointment
// tomorrow whose patient has an email address. Delivery failures are
// counted, not returned.
func (j *ReminderJob) Run(ctx context.Context) error {
	_, err := j.run(ctx)
	return err
}

func (j *ReminderJob) run(ctx context.Context) (ReminderStats, error) {
	var stats ReminderStats
	tomorrow := DateOnly(j.now().In(j.loc)).AddDate(0, 0, 1)

	appts, err := j.appointments.ListForDate(ctx, tomorrow,
		[]Status{StatusScheduled, StatusConfirmed, StatusPending})
	if err != nil {
		return stats, fmt.Errorf("list appointments: %w", err)
	}

	doctors := make(map[uuid.UUID]*identity.Doctor)
	for _, a := range appts {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		p, err := j.patients.GetPatient(ctx, a.PatientID)
		if err != nil {
			j.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("reminder: load patient")
			stats.Failed++
			continue
		}
		if p.Email == nil || *p.Email == "" {
			stats.Skipped++
			continue
		}
		d, ok := doctors[a.DoctorID]
		if !ok {
			if d, err = j.doctors.GetDoctor(ctx, a.DoctorID); err != nil {
				j.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("reminder: load doctor")
				stats.Failed++
				continue
			}
			doctors[a.DoctorID] = d
		}

		_, err = j.notifier.SendFromTemplate(ctx, notification.TemplateAppointmentReminder, map[string]string{
			"patient_name": p.FullName(),
			"date":         tomorrow.Format(dateLayout),
			"time":         a.Time.String(),
			"doctor":       d.Name,
		}, *p.Email)
		if err != nil {
			stats.Failed++
			continue
		}
		stats.Sent++
	}

	j.logger.Info().Str("date", tomorrow.Format(dateLayout)).Int("sent", stats.Sent).
		Int("skipped", stats.Skipped).Int("failed", stats.Failed).Msg("appointment reminders sent")
	return stats, nil
}
