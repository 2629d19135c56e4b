package directory

import (
	"errors"
	"strings"
	"unicode"

	"github.com/antoniostano/nessievoice/internal/session"
)

// ErrNotFound is returned when a spoken name matches no known caller.
var ErrNotFound = errors.New("unknown identity")

// Identity is a known caller with the ledger accounts and security questions
// attached to them.
type Identity struct {
	Name       string                     `json:"name" yaml:"name"`
	CustomerID string                     `json:"customer_id" yaml:"customer_id"`
	AccountID  string                     `json:"account_id" yaml:"account_id"`
	Questions  []session.SecurityQuestion `json:"security_questions" yaml:"security_questions"`
}

// Directory resolves spoken names to identities. It is read-only after
// construction and safe for concurrent use.
type Directory struct {
	byName map[string]Identity
}

// New indexes entries by normalized name. Later duplicates replace earlier ones;
// entries whose name normalizes to nothing are skipped.
func New(entries []Identity) *Directory {
	d := &Directory{byName: make(map[string]Identity, len(entries))}
	for _, id := range entries {
		key := Normalize(id.Name)
		if key == "" {
			continue
		}
		id.Questions = append([]session.SecurityQuestion(nil), id.Questions...)
		d.byName[key] = id
	}
	return d
}

// Resolve finds the identity whose normalized name equals the normalized input.
func (d *Directory) Resolve(name string) (Identity, error) {
	key := Normalize(name)
	if key == "" {
		return Identity{}, ErrNotFound
	}
	id, ok := d.byName[key]
	if !ok {
		return Identity{}, ErrNotFound
	}
	id.Questions = append([]session.SecurityQuestion(nil), id.Questions...)
	return id, nil
}

func (d *Directory) Len() int {
	return len(d.byName)
}

// Normalize reduces s to its lowercase letters, dropping digits, spaces and
// punctuation. "Alice." and " alice " both become "alice".
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Matches reports whether a spoken answer equals the expected one after
// normalization. An answer that normalizes to nothing never matches.
func Matches(spoken, expected string) bool {
	a := Normalize(spoken)
	return a != "" && a == Normalize(expected)
}
