package uid_test

import (
	"errors"
	"testing"

	"github.com/calvinalkan/docstore/pkg/uid"
)

func Test_New_Returns_Canonical_Identifier_When_Called(t *testing.T) {
	t.Parallel()

	seen := make(map[uid.UID]struct{})

	for range 100 {
		id, err := uid.New()
		if err != nil {
			t.Fatalf("New(): %v", err)
		}

		if !uid.Valid(id.String()) {
			t.Fatalf("New() = %q, not canonical", id)
		}

		if _, dup := seen[id]; dup {
			t.Fatalf("New() returned duplicate %q", id)
		}

		seen[id] = struct{}{}
	}
}

func Test_Parse_Rejects_Non_Canonical_Strings(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"01aaaaaaaaaaaaaaaaaaaaaaaaaaaaa",   // 31 chars
		"01aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", // 33 chars
		"01AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		"01aaaaaaaaaaaaaaaaaaaaaaaaaaaaag",
		"01aaaaaa-aaaa-aaaa-aaaa-aaaaaaaa",
	}

	for _, s := range cases {
		_, err := uid.Parse(s)
		if !errors.Is(err, uid.ErrInvalid) {
			t.Fatalf("Parse(%q): err=%v, want %v", s, err, uid.ErrInvalid)
		}
	}
}

func Test_Parse_Accepts_Canonical_String_When_Valid(t *testing.T) {
	t.Parallel()

	const s = "01aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	id, err := uid.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}

	if id.String() != s {
		t.Fatalf("String() = %q, want %q", id.String(), s)
	}

	if id != uid.MustParse(s) {
		t.Fatalf("equal strings produced unequal UIDs")
	}
}

func Test_UID_Text_Roundtrip_Rejects_Zero_Value(t *testing.T) {
	t.Parallel()

	var zero uid.UID

	if !zero.IsZero() {
		t.Fatal("zero value: IsZero() = false")
	}

	if _, err := zero.MarshalText(); !errors.Is(err, uid.ErrInvalid) {
		t.Fatalf("MarshalText(zero): err=%v, want %v", err, uid.ErrInvalid)
	}

	var got uid.UID
	if err := got.UnmarshalText([]byte("not-a-uid")); !errors.Is(err, uid.ErrInvalid) {
		t.Fatalf("UnmarshalText: err=%v, want %v", err, uid.ErrInvalid)
	}
}
