package scheduling

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func manySlots(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = Clock(8*60 + i*5).String()
	}
	return out
}

func TestImporter_ChunksAndCommits(t *testing.T) {
	appts := newMemAppointments()
	tx := &fakeTx{}
	alloc := NewAllocator(hoursOn(t, tuesday, "18:00", manySlots(120)...), appts, newMemPatients(), 15, fixedNow)
	im := NewImporter(alloc, appts, tx, 50, zerolog.Nop())

	rows := make([]ImportRow, 120)
	for i := range rows {
		rows[i] = importRow(i+1, "2030-01-08")
	}
	res := im.Import(context.Background(), uuid.New(), "reception", rows)

	if !res.Success || res.Imported != 120 || len(res.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if tx.calls != 3 || appts.batchCalls != 3 {
		t.Errorf("expected 3 chunk transactions, got tx=%d batches=%d", tx.calls, appts.batchCalls)
	}
	if len(appts.items) != 120 {
		t.Errorf("expected 120 stored appointments, got %d", len(appts.items))
	}
}

func TestImporter_FailedChunkReportsEachRow(t *testing.T) {
	appts := newMemAppointments()
	appts.failBatchNo = 2
	alloc := NewAllocator(hoursOn(t, tuesday, "18:00", manySlots(12)...), appts, newMemPatients(), 15, fixedNow)
	im := NewImporter(alloc, appts, &fakeTx{}, 5, zerolog.Nop())

	rows := make([]ImportRow, 12)
	for i := range rows {
		rows[i] = importRow(i+1, "2030-01-08")
	}
	rows[0].Date = ""

	res := im.Import(context.Background(), uuid.New(), "reception", rows)

	// Row 1 fails allocation; drafts 2-6 commit, 7-11 fail, 12 commits.
	if res.Imported != 6 {
		t.Errorf("imported = %d, want 6", res.Imported)
	}
	if !res.Success {
		t.Error("partial import should still report success")
	}
	if len(res.Errors) != 6 {
		t.Fatalf("expected 6 errors, got %v", res.Errors)
	}
	if res.Errors[0] != "Row 1: date is required" {
		t.Errorf("first error = %q", res.Errors[0])
	}
	for i, line := range []string{"Row 7:", "Row 8:", "Row 9:", "Row 10:", "Row 11:"} {
		if !strings.HasPrefix(res.Errors[i+1], line) || !strings.Contains(res.Errors[i+1], "could not save appointment") {
			t.Errorf("error %d = %q, want prefix %q", i+1, res.Errors[i+1], line)
		}
	}
}

func TestImporter_NothingImported(t *testing.T) {
	appts := newMemAppointments()
	alloc := NewAllocator(&stubHours{}, appts, newMemPatients(), 15, fixedNow)
	im := NewImporter(alloc, appts, &fakeTx{}, 0, zerolog.Nop())

	res := im.Import(context.Background(), uuid.New(), "reception", []ImportRow{importRow(1, "2030-01-08")})
	if res.Success || res.Imported != 0 || len(res.Errors) != 1 {
		t.Errorf("unexpected result: %+v", res)
	}

	empty := im.Import(context.Background(), uuid.New(), "reception", nil)
	if !empty.Success || empty.Errors == nil {
		t.Errorf("empty import should succeed with an empty error list, got %+v", empty)
	}
}
