package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// FindByIdentity matches phone, first name and last name exactly.
	FindByIdentity(ctx context.Context, phone, firstName, lastName string) (*Patient, error)
	List(ctx context.Context, search string, limit, offset int) ([]*Patient, int, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Doctor, int, error)
}
