package scheduling

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// excelEpoch is day zero of spreadsheet serial dates.
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// maxExcelSerial is 9999-12-31.
const maxExcelSerial = 2958465

// importDateLayouts are tried in order after the serial form. Day-first wins
// when a value fits both it and month-first.
var importDateLayouts = []string{
	"2/1/2006",
	"2006-1-2",
	"2006/1/2",
	"1/2/2006",
}

// ParseImportDate reads a date cell from an import file.
func ParseImportDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, ErrMissingDate
	}
	// "05/03/2025 00:00:00" exports carry a time part we ignore.
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(serial) || serial < 1 || serial > maxExcelSerial {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, raw)
		}
		return excelEpoch.AddDate(0, 0, int(serial)), nil
	}

	for _, layout := range importDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, raw)
}
