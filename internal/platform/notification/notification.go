// Package notification renders templated messages and sends them by email.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	TemplateAppointmentReminder     = "appointment-reminder"
	TemplateAppointmentConfirmation = "appointment-confirmation"
	TemplateAppointmentCanceled     = "appointment-canceled"
)

var ErrNoRecipient = errors.New("notification has no recipient")

// Notification is one outbound message and its delivery outcome.
type Notification struct {
	ID         string     `json:"id"`
	Recipient  string     `json:"recipient"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body"`
	TemplateID string     `json:"template_id,omitempty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// -- Templates --

type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine substitutes {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      TemplateAppointmentReminder,
			Subject: "Appointment reminder for {{patient_name}}",
			Body: "<p>Dear {{patient_name}},</p>" +
				"<p>This is a reminder of your appointment on {{date}} at {{time}} with {{doctor}}.</p>" +
				"<p>If you need to reschedule or cancel, please contact the clinic.</p>",
		},
		{
			ID:      TemplateAppointmentConfirmation,
			Subject: "Your appointment on {{date}}",
			Body:    "<p>Dear {{patient_name}},</p><p>Your appointment with {{doctor}} on {{date}} at {{time}} is booked.</p>",
		},
		{
			ID:      TemplateAppointmentCanceled,
			Subject: "Appointment canceled",
			Body:    "<p>Dear {{patient_name}},</p><p>Your appointment with {{doctor}} on {{date}} at {{time}} was canceled.</p>",
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render leaves placeholders without a matching key untouched.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), r.Replace(t.Body), nil
}

// -- Manager --

// Manager renders and sends notifications and keeps delivery counters.
type Manager struct {
	email     EmailSender
	templates *TemplateEngine
	logger    zerolog.Logger

	mu    sync.Mutex
	stats map[string]int
}

func NewManager(email EmailSender, templates *TemplateEngine, logger zerolog.Logger) *Manager {
	return &Manager{
		email:     email,
		templates: templates,
		logger:    logger,
		stats:     make(map[string]int),
	}
}

func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()
	if strings.TrimSpace(n.Recipient) == "" {
		n.Status = "failed"
		n.Error = ErrNoRecipient.Error()
		m.count(n.Status)
		return ErrNoRecipient
	}

	err := m.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	if err != nil {
		n.Status = "failed"
		n.Error = err.Error()
		m.logger.Error().Err(err).Str("notification_id", n.ID).Str("template", n.TemplateID).
			Msg("email delivery failed")
	} else {
		n.Status = "sent"
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
	}
	m.count(n.Status)
	return err
}

func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	n := &Notification{
		Recipient:  recipient,
		Subject:    subject,
		Body:       body,
		TemplateID: templateID,
	}
	return n, m.Send(ctx, n)
}

func (m *Manager) count(status string) {
	m.mu.Lock()
	m.stats[status]++
	m.mu.Unlock()
}

// Stats returns delivery counts keyed by status.
func (m *Manager) Stats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.stats))
	for k, v := range m.stats {
		out[k] = v
	}
	return out
}

// LogSender writes emails to the log instead of sending them. It is used
// when no SMTP host is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, to, subject, _ string) error {
	s.Logger.Info().Str("to", to).Str("subject", subject).Msg("email not sent, SMTP is not configured")
	return nil
}
