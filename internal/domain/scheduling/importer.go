package scheduling

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/db"
)

const DefaultImportChunkSize = 50

// ImportResult is returned by the import endpoint and command.
type ImportResult struct {
	Success  bool     `json:"success"`
	Imported int      `json:"imported"`
	Errors   []string `json:"errors"`
}

// Importer allocates rows and saves the drafts in chunks. Each chunk commits
// on its own; a failed chunk turns each of its rows into an error and leaves
// earlier chunks in place.
type Importer struct {
	allocator    *Allocator
	appointments AppointmentRepository
	tx           db.TxRunner
	chunkSize    int
	logger       zerolog.Logger
}

func NewImporter(allocator *Allocator, appointments AppointmentRepository, tx db.TxRunner,
	chunkSize int, logger zerolog.Logger) *Importer {
	if chunkSize <= 0 {
		chunkSize = DefaultImportChunkSize
	}
	return &Importer{
		allocator:    allocator,
		appointments: appointments,
		tx:           tx,
		chunkSize:    chunkSize,
		logger:       logger,
	}
}

func (im *Importer) Import(ctx context.Context, doctorID uuid.UUID, actor string, rows []ImportRow) *ImportResult {
	alloc := im.allocator.Allocate(ctx, doctorID, actor, rows)
	rowErrs := alloc.Errors

	imported := 0
	for start := 0; start < len(alloc.Drafts); start += im.chunkSize {
		end := start + im.chunkSize
		if end > len(alloc.Drafts) {
			end = len(alloc.Drafts)
		}
		chunk := alloc.Drafts[start:end]

		appts := make([]*Appointment, len(chunk))
		for i, d := range chunk {
			appts[i] = d.Appointment
		}
		err := im.tx.WithTx(ctx, func(ctx context.Context) error {
			return im.appointments.CreateBatch(ctx, appts)
		})
		if err != nil {
			im.logger.Error().Err(err).Str("doctor_id", doctorID.String()).
				Int("chunk_start", chunk[0].Line).Int("chunk_size", len(chunk)).
				Msg("import chunk failed")
			for _, d := range chunk {
				rowErrs = append(rowErrs, RowError{Line: d.Line, Err: fmt.Errorf("could not save appointment: %w", err)})
			}
			continue
		}
		imported += len(chunk)
	}

	sortRowErrors(rowErrs)
	res := &ImportResult{
		Imported: imported,
		Errors:   make([]string, 0, len(rowErrs)),
	}
	for _, e := range rowErrs {
		res.Errors = append(res.Errors, e.Error())
	}
	res.Success = imported > 0 || len(rowErrs) == 0

	im.logger.Info().Str("doctor_id", doctorID.String()).Str("actor", actor).
		Int("rows", len(rows)).Int("imported", imported).Int("errors", len(rowErrs)).
		Msg("appointment import finished")
	return res
}

func sortRowErrors(errs []RowError) {
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Line < errs[j].Line })
}
