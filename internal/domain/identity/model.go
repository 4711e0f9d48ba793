package identity

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Patient maps to the patient table.
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	Phone       string     `db:"phone" json:"phone"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Email       *string    `db:"email" json:"email,omitempty"`
	CreatedBy   string     `db:"created_by" json:"created_by"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Doctor maps to the doctor table.
type Doctor struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Email          *string   `db:"email" json:"email,omitempty"`
	Specialization *string   `db:"specialization" json:"specialization,omitempty"`
	Active         bool      `db:"active" json:"active"`
	CreatedBy      string    `db:"created_by" json:"created_by"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// PatientIdentity is the key a patient is matched on when appointments are
// booked or imported without a patient id.
type PatientIdentity struct {
	FirstName   string
	LastName    string
	Phone       string
	DateOfBirth *time.Time
	Email       *string
}

// Normalized trims every field and applies NormalizeName to both names.
func (pi PatientIdentity) Normalized() PatientIdentity {
	out := pi
	out.FirstName = NormalizeName(pi.FirstName)
	out.LastName = NormalizeName(pi.LastName)
	out.Phone = strings.TrimSpace(pi.Phone)
	if pi.Email != nil {
		e := strings.ToLower(strings.TrimSpace(*pi.Email))
		if e == "" {
			out.Email = nil
		} else {
			out.Email = &e
		}
	}
	return out
}

// NormalizeName trims, lowercases, then upper-cases the first letter:
// "  mARIA " -> "Maria".
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
