package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/platform/events"
	"github.com/clinic/clinic/internal/platform/notification"
)

// 2030-01-07 is a Monday.
var testNow = time.Date(2030, time.January, 7, 8, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func intPtr(v int) *int { return &v }

func strPtr(s string) *string { return &s }

func clockPtr(c Clock) *Clock { return &c }

// -- doctors --

type memDoctors struct {
	mu    sync.Mutex
	items map[uuid.UUID]*identity.Doctor
	calls int
}

func newMemDoctors(docs ...*identity.Doctor) *memDoctors {
	m := &memDoctors{items: make(map[uuid.UUID]*identity.Doctor)}
	for _, d := range docs {
		m.items[d.ID] = d
	}
	return m
}

func (m *memDoctors) GetDoctor(_ context.Context, id uuid.UUID) (*identity.Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	d, ok := m.items[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return d, nil
}

func newDoctor(name string) *identity.Doctor {
	return &identity.Doctor{ID: uuid.New(), Name: name, Active: true}
}

// -- patients --

type memPatients struct {
	mu      sync.Mutex
	items   map[uuid.UUID]*identity.Patient
	created int
	failOn  string
}

func newMemPatients() *memPatients {
	return &memPatients{items: make(map[uuid.UUID]*identity.Patient)}
}

func (m *memPatients) add(p *identity.Patient) *identity.Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.items[p.ID] = p
	return p
}

func (m *memPatients) GetPatient(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return p, nil
}

func (m *memPatients) FindOrCreatePatient(_ context.Context, actor string, in identity.PatientIdentity) (*identity.Patient, error) {
	pi := in.Normalized()
	if pi.FirstName == "" || pi.LastName == "" || pi.Phone == "" {
		return nil, fmt.Errorf("%w: first name, last name and phone are required", identity.ErrValidation)
	}
	if m.failOn != "" && pi.Phone == m.failOn {
		return nil, errors.New("patient store unavailable")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.items {
		if p.Phone == pi.Phone && p.FirstName == pi.FirstName && p.LastName == pi.LastName {
			return p, nil
		}
	}
	p := &identity.Patient{
		ID: uuid.New(), FirstName: pi.FirstName, LastName: pi.LastName, Phone: pi.Phone,
		DateOfBirth: pi.DateOfBirth, Email: pi.Email, CreatedBy: actor,
	}
	m.items[p.ID] = p
	m.created++
	return p, nil
}

// -- schedules --

type memSchedules struct {
	mu    sync.Mutex
	items []*DoctorSchedule
	calls int
}

func (m *memSchedules) Create(_ context.Context, s *DoctorSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	m.items = append(m.items, s)
	return nil
}

func (m *memSchedules) GetByID(_ context.Context, id uuid.UUID) (*DoctorSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.items {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memSchedules) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.items {
		if s.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memSchedules) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*DoctorSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DoctorSchedule
	for _, s := range m.items {
		if s.DoctorID == doctorID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSchedules) ActiveForDay(_ context.Context, doctorID uuid.UUID, weekday time.Weekday, date time.Time) ([]*DoctorSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var specific, weekly []*DoctorSchedule
	for _, s := range m.items {
		if s.DoctorID != doctorID || !s.IsActive {
			continue
		}
		switch {
		case s.SpecificDate != nil && DateOnly(*s.SpecificDate).Equal(DateOnly(date)):
			specific = append(specific, s)
		case s.SpecificDate == nil && s.DayOfWeek != nil && *s.DayOfWeek == int(weekday):
			weekly = append(weekly, s)
		}
	}
	if len(specific) > 0 {
		return specific, nil
	}
	return weekly, nil
}

func weekdayShift(doctorID uuid.UUID, day time.Weekday, period ShiftPeriod, start, end Clock, patients int) *DoctorSchedule {
	d := int(day)
	return &DoctorSchedule{
		ID: uuid.New(), DoctorID: doctorID, DayOfWeek: &d, ShiftPeriod: period,
		StartTime: start, EndTime: end, PatientsPerDay: patients, IsActive: true,
	}
}

// -- configs --

type memConfigs struct {
	mu    sync.Mutex
	items map[uuid.UUID]*DoctorConfig
}

func newMemConfigs() *memConfigs {
	return &memConfigs{items: make(map[uuid.UUID]*DoctorConfig)}
}

func (m *memConfigs) Get(_ context.Context, doctorID uuid.UUID) (*DoctorConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[doctorID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *memConfigs) Upsert(_ context.Context, c *DoctorConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.UpdatedAt = testNow
	m.items[c.DoctorID] = c
	return nil
}

// -- appointments --

type memAppointments struct {
	mu          sync.Mutex
	items       map[uuid.UUID]*Appointment
	batchCalls  int
	failBatchNo int
	err         error
}

func newMemAppointments() *memAppointments {
	return &memAppointments{items: make(map[uuid.UUID]*Appointment)}
}

func sameSlot(a *Appointment, doctorID uuid.UUID, date time.Time, at Clock) bool {
	return a.DeletedAt == nil && a.DoctorID == doctorID && DateOnly(a.Date).Equal(DateOnly(date)) && a.Time == at
}

func (m *memAppointments) takenLocked(doctorID uuid.UUID, date time.Time, at Clock, exclude uuid.UUID) bool {
	for _, a := range m.items {
		if a.ID != exclude && sameSlot(a, doctorID, date, at) {
			return true
		}
	}
	return false
}

func (m *memAppointments) insertLocked(a *Appointment) error {
	if m.takenLocked(a.DoctorID, a.Date, a.Time, uuid.Nil) {
		return ErrSlotConflict
	}
	a.ID = uuid.New()
	a.CreatedAt, a.UpdatedAt = testNow, testNow
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *memAppointments) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	return m.insertLocked(a)
}

func (m *memAppointments) CreateBatch(_ context.Context, as []*Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if m.failBatchNo == m.batchCalls {
		return errors.New("connection reset")
	}
	for _, a := range as {
		if m.takenLocked(a.DoctorID, a.Date, a.Time, uuid.Nil) {
			return ErrSlotConflict
		}
	}
	for _, a := range as {
		if err := m.insertLocked(a); err != nil {
			return err
		}
	}
	return nil
}

func (m *memAppointments) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAppointments) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[a.ID]
	if !ok || cur.DeletedAt != nil {
		return ErrNotFound
	}
	if m.takenLocked(a.DoctorID, a.Date, a.Time, a.ID) {
		return ErrSlotConflict
	}
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *memAppointments) UpdateStatus(_ context.Context, id uuid.UUID, status Status, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.DeletedAt != nil {
		return ErrNotFound
	}
	a.Status, a.UpdatedBy = status, actor
	return nil
}

func (m *memAppointments) SoftDelete(_ context.Context, id uuid.UUID, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.DeletedAt != nil {
		return ErrNotFound
	}
	now := testNow
	a.Status, a.UpdatedBy, a.DeletedAt = StatusCanceled, actor, &now
	return nil
}

func (m *memAppointments) live() []*Appointment {
	var out []*Appointment
	for _, a := range m.items {
		if a.DeletedAt == nil {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Time < out[j].Time
	})
	return out
}

func (m *memAppointments) List(_ context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	var matched []*Appointment
	for _, a := range m.live() {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.Date != nil && !DateOnly(a.Date).Equal(DateOnly(*f.Date)) {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		matched = append(matched, a)
	}
	total := len(matched)
	if f.Offset > len(matched) {
		f.Offset = len(matched)
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (m *memAppointments) Exists(_ context.Context, doctorID uuid.UUID, date time.Time, at Clock, excludeID *uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	exclude := uuid.Nil
	if excludeID != nil {
		exclude = *excludeID
	}
	return m.takenLocked(doctorID, date, at, exclude), nil
}

func (m *memAppointments) BookedTimes(_ context.Context, doctorID uuid.UUID, date time.Time, statuses []Status) ([]Clock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []Clock
	for _, a := range m.live() {
		if a.DoctorID != doctorID || !DateOnly(a.Date).Equal(DateOnly(date)) {
			continue
		}
		if len(statuses) > 0 && !hasStatus(statuses, a.Status) {
			continue
		}
		out = append(out, a.Time)
	}
	return out, nil
}

func hasStatus(statuses []Status, s Status) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (m *memAppointments) CountActive(_ context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.live() {
		if a.DoctorID == doctorID && DateOnly(a.Date).Equal(DateOnly(date)) && a.Status != StatusCanceled {
			n++
		}
	}
	return n, nil
}

func (m *memAppointments) ListForDate(_ context.Context, date time.Time, statuses []Status) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.live() {
		if DateOnly(a.Date).Equal(DateOnly(date)) && hasStatus(statuses, a.Status) {
			out = append(out, a)
		}
	}
	return out, nil
}

// seed stores an appointment directly, bypassing conflict checks.
func (m *memAppointments) seed(doctorID, patientID uuid.UUID, date time.Time, at Clock, status Status) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &Appointment{ID: uuid.New(), DoctorID: doctorID, PatientID: patientID, Date: DateOnly(date), Time: at, Status: status}
	m.items[a.ID] = a
	return a
}

// -- excluded dates --

type memExcluded struct {
	mu    sync.Mutex
	items []*ExcludedDate
}

func (m *memExcluded) Create(_ context.Context, e *ExcludedDate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	m.items = append(m.items, e)
	return nil
}

func (m *memExcluded) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.items {
		if e.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memExcluded) List(_ context.Context, doctorID *uuid.UUID) ([]*ExcludedDate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ExcludedDate
	for _, e := range m.items {
		if doctorID == nil || (e.DoctorID != nil && *e.DoctorID == *doctorID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memExcluded) ForDoctor(_ context.Context, doctorID uuid.UUID) ([]*ExcludedDate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ExcludedDate
	for _, e := range m.items {
		if e.AppliesTo(doctorID) {
			out = append(out, e)
		}
	}
	return out, nil
}

// -- infrastructure --

type fakeTx struct{ calls int }

func (f *fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

type memCache struct {
	mu      sync.Mutex
	items   map[string][]byte
	deleted []string
}

func newMemCache() *memCache {
	return &memCache{items: make(map[string][]byte)}
}

func (c *memCache) GetJSON(_ context.Context, key string, dst interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.items[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *memCache) SetJSON(_ context.Context, key string, v interface{}, _ time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = b
	return nil
}

func (c *memCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, prefix)
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	return nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type recordingNotifier struct {
	sent []map[string]string
	to   []string
	err  error
}

func (n *recordingNotifier) SendFromTemplate(_ context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error) {
	n.sent = append(n.sent, data)
	n.to = append(n.to, recipient)
	return &notification.Notification{TemplateID: templateID, Recipient: recipient}, n.err
}
