package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConflictGuard answers whether a doctor's slot is already held by a
// non-deleted appointment. The unique index on appointment is the final
// word; this check gives callers a readable error before the write.
type ConflictGuard struct {
	appointments AppointmentRepository
}

func NewConflictGuard(appointments AppointmentRepository) *ConflictGuard {
	return &ConflictGuard{appointments: appointments}
}

// SlotTaken ignores excludeID so an appointment never conflicts with itself.
func (g *ConflictGuard) SlotTaken(ctx context.Context, doctorID uuid.UUID, date time.Time, at Clock, excludeID *uuid.UUID) (bool, error) {
	taken, err := g.appointments.Exists(ctx, doctorID, date, at, excludeID)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return taken, nil
}

// Ensure returns ErrSlotConflict when the slot is taken.
func (g *ConflictGuard) Ensure(ctx context.Context, doctorID uuid.UUID, date time.Time, at Clock, excludeID *uuid.UUID) error {
	taken, err := g.SlotTaken(ctx, doctorID, date, at, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return ErrSlotConflict
	}
	return nil
}
