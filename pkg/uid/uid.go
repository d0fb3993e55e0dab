// Package uid provides the identifier type used to address documents.
package uid

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Length is the length of the canonical string form.
const Length = 32

// ErrInvalid reports a string that is not a canonical identifier.
var ErrInvalid = errors.New("invalid identifier")

// UID is an opaque, globally unique document identifier.
//
// The canonical form is 32 lowercase hexadecimal characters. UIDs compare and
// hash by value, so they can be used directly as map keys. The zero value is
// not a valid identifier.
type UID struct {
	s string
}

// New generates a random identifier from a version 4 UUID.
func New() (UID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return UID{}, fmt.Errorf("generate uid: %w", err)
	}

	return UID{s: hex.EncodeToString(id[:])}, nil
}

// MustNew is like [New] but panics on error. Intended for tests.
func MustNew() UID {
	id, err := New()
	if err != nil {
		panic(err)
	}

	return id
}

// Parse validates s and returns it as a UID.
func Parse(s string) (UID, error) {
	if !Valid(s) {
		return UID{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	return UID{s: s}, nil
}

// MustParse is like [Parse] but panics on error. Intended for tests and
// constants.
func MustParse(s string) UID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return id
}

// Valid reports whether s is exactly 32 lowercase hexadecimal characters.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}

	for i := range len(s) {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}

// String returns the canonical form.
func (u UID) String() string {
	return u.s
}

// IsZero reports whether u is the zero value.
func (u UID) IsZero() bool {
	return u.s == ""
}

// MarshalText implements [encoding.TextMarshaler].
func (u UID) MarshalText() ([]byte, error) {
	if u.IsZero() {
		return nil, fmt.Errorf("%w: zero value", ErrInvalid)
	}

	return []byte(u.s), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (u *UID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*u = parsed

	return nil
}
