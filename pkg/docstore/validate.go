package docstore

import (
	"fmt"
	"unicode/utf8"

	"github.com/calvinalkan/docstore/pkg/uid"
)

const (
	// MaxKeyLength is the maximum key length in characters.
	MaxKeyLength = 32

	// MaxDataLength is the largest accepted payload in bytes. Payloads of
	// exactly 64 KiB are rejected.
	MaxDataLength = 64*1024 - 1
)

// ValidateKey checks that key is valid UTF-8 of 1 to [MaxKeyLength]
// characters.
func ValidateKey(key string) error {
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidKey)
	}

	n := utf8.RuneCountInString(key)
	if n == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}

	if n > MaxKeyLength {
		return fmt.Errorf("%w: %d characters, max %d", ErrInvalidKey, n, MaxKeyLength)
	}

	return nil
}

// ValidateID checks that id is a canonical identifier.
func ValidateID(id uid.UID) error {
	if id.IsZero() {
		return fmt.Errorf("%w: zero value", ErrInvalidID)
	}

	if !uid.Valid(id.String()) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id.String())
	}

	return nil
}

// ValidateData checks that data is at most [MaxDataLength] bytes.
func ValidateData(data []byte) error {
	if len(data) > MaxDataLength {
		return fmt.Errorf("%w: %d bytes, max %d", ErrInvalidData, len(data), MaxDataLength)
	}

	return nil
}
