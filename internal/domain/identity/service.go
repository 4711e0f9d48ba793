package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var ErrValidation = errors.New("validation failed")

type Service struct {
	patients PatientRepository
	doctors  DoctorRepository
}

func NewService(patients PatientRepository, doctors DoctorRepository) *Service {
	return &Service{patients: patients, doctors: doctors}
}

// -- Patient --

func validateIdentity(pi PatientIdentity) error {
	if pi.FirstName == "" || pi.LastName == "" {
		return fmt.Errorf("%w: first_name and last_name are required", ErrValidation)
	}
	if pi.Phone == "" {
		return fmt.Errorf("%w: phone is required", ErrValidation)
	}
	return nil
}

func (s *Service) CreatePatient(ctx context.Context, actor string, p *Patient) error {
	pi := PatientIdentity{FirstName: p.FirstName, LastName: p.LastName, Phone: p.Phone, Email: p.Email}.Normalized()
	if err := validateIdentity(pi); err != nil {
		return err
	}
	p.FirstName, p.LastName, p.Phone, p.Email = pi.FirstName, pi.LastName, pi.Phone, pi.Email
	p.CreatedBy = actor
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, search string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, strings.TrimSpace(search), limit, offset)
}

// FindOrCreatePatient returns the patient matching the normalized
// (phone, first name, last name), creating one attributed to actor when no
// match exists.
func (s *Service) FindOrCreatePatient(ctx context.Context, actor string, in PatientIdentity) (*Patient, error) {
	pi := in.Normalized()
	if err := validateIdentity(pi); err != nil {
		return nil, err
	}

	p, err := s.patients.FindByIdentity(ctx, pi.Phone, pi.FirstName, pi.LastName)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find patient: %w", err)
	}

	p = &Patient{
		FirstName:   pi.FirstName,
		LastName:    pi.LastName,
		Phone:       pi.Phone,
		DateOfBirth: pi.DateOfBirth,
		Email:       pi.Email,
		CreatedBy:   actor,
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	return p, nil
}

// -- Doctor --

func (s *Service) CreateDoctor(ctx context.Context, actor string, d *Doctor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	d.Active = true
	d.CreatedBy = actor
	return s.doctors.Create(ctx, d)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, activeOnly bool, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, activeOnly, limit, offset)
}
