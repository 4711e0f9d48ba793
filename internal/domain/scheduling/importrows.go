package scheduling

import (
	"fmt"
	"strings"
)

// importColumns maps accepted header spellings to ImportRow fields.
var importColumns = map[string][]string{
	"first_name":       {"first_name", "firstname", "patient_first_name", "first"},
	"last_name":        {"last_name", "lastname", "patient_last_name", "last", "surname"},
	"phone":            {"phone", "phone_number", "mobile", "telephone"},
	"date_of_birth":    {"date_of_birth", "dob", "birth_date", "patient_date_of_birth"},
	"email":            {"email", "email_address"},
	"appointment_date": {"appointment_date", "date"},
	"notes":            {"notes", "note", "comments"},
}

var requiredImportColumns = []string{"first_name", "last_name", "phone", "appointment_date"}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

// RowsFromTable maps a header row and its data records to import rows.
// Blank records are dropped but still count towards row numbers.
func RowsFromTable(header []string, records [][]string) ([]ImportRow, error) {
	index := make(map[string]int)
	for i, h := range header {
		name := normalizeHeader(h)
		for field, aliases := range importColumns {
			if _, done := index[field]; done {
				continue
			}
			for _, alias := range aliases {
				if name == alias {
					index[field] = i
					break
				}
			}
		}
	}

	var missing []string
	for _, field := range requiredImportColumns {
		if _, ok := index[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns: %s", ErrValidation, strings.Join(missing, ", "))
	}

	cell := func(rec []string, field string) string {
		i, ok := index[field]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	rows := make([]ImportRow, 0, len(records))
	for n, rec := range records {
		if blank(rec) {
			continue
		}
		rows = append(rows, ImportRow{
			Line:        n + 1,
			FirstName:   cell(rec, "first_name"),
			LastName:    cell(rec, "last_name"),
			Phone:       cell(rec, "phone"),
			DateOfBirth: cell(rec, "date_of_birth"),
			Email:       cell(rec, "email"),
			Date:        cell(rec, "appointment_date"),
			Notes:       cell(rec, "notes"),
		})
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
