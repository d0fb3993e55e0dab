package doccache_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/docstore/pkg/doccache"
)

func allCodecs(t *testing.T) []doccache.Codec {
	t.Helper()

	codecs := make([]doccache.Codec, 0, len(doccache.CodecNames()))

	for _, name := range doccache.CodecNames() {
		c, err := doccache.CodecByName(name)
		if err != nil {
			t.Fatalf("CodecByName(%q): err=%v, want nil", name, err)
		}

		codecs = append(codecs, c)
	}

	return codecs
}

func Test_Codec_Preserves_Binary_Payloads_When_Encoded_And_Decoded(t *testing.T) {
	t.Parallel()

	want := doccache.Wire{
		"01aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa": {
			"first": []byte("first_entry"),
			"bin":   {0x00, 0xff, 0x10, '\n'},
			"empty": {},
		},
	}

	for _, c := range allCodecs(t) {
		t.Run(c.Name(), func(t *testing.T) {
			t.Parallel()

			data, err := c.Encode(want)
			if err != nil {
				t.Fatalf("Encode: err=%v, want nil", err)
			}

			got, err := c.Decode(data)
			if err != nil {
				t.Fatalf("Decode: err=%v, want nil", err)
			}

			// Decoders may yield nil for empty byte strings.
			opt := cmp.Transformer("str", func(b []byte) string { return string(b) })
			if diff := cmp.Diff(want, got, opt); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func Test_Codec_Encodes_Deterministically_When_Maps_Have_Many_Keys(t *testing.T) {
	t.Parallel()

	w := doccache.Wire{}
	for _, id := range []string{
		"0000000000000000000000000000000f",
		"00000000000000000000000000000001",
		"0000000000000000000000000000000a",
	} {
		w[id] = map[string][]byte{"z": []byte("1"), "a": []byte("2"), "m": []byte("3")}
	}

	for _, c := range allCodecs(t) {
		first, err := c.Encode(w)
		if err != nil {
			t.Fatalf("%s Encode: err=%v", c.Name(), err)
		}

		for range 5 {
			again, err := c.Encode(w)
			if err != nil {
				t.Fatalf("%s Encode: err=%v", c.Name(), err)
			}

			if string(again) != string(first) {
				t.Fatalf("%s: encoding is not deterministic", c.Name())
			}
		}
	}
}

func Test_Msgpack_Writes_Nested_Keys_In_Order_When_Document_Has_Many_Keys(t *testing.T) {
	t.Parallel()

	keys := []string{"zeta", "alpha", "mid", "beta", "omega", "kappa", "delta", "gamma"}

	doc := make(map[string][]byte, len(keys))
	for _, k := range keys {
		doc[k] = []byte(k)
	}

	data, err := doccache.Msgpack{}.Encode(doccache.Wire{"01aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa": doc})
	if err != nil {
		t.Fatalf("Encode: err=%v, want nil", err)
	}

	sorted := slices.Sorted(slices.Values(keys))
	last := -1

	for _, k := range sorted {
		// fixstr header followed by the key bytes.
		needle := string([]byte{byte(0xa0 | len(k))}) + k

		at := strings.Index(string(data), needle)
		if at < 0 {
			t.Fatalf("key %q not found in encoding", k)
		}

		if at < last {
			t.Fatalf("key %q encoded before its predecessor", k)
		}

		last = at
	}

	got, err := doccache.Msgpack{}.Decode(data)
	if err != nil {
		t.Fatalf("Decode: err=%v, want nil", err)
	}

	if len(got["01aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"]) != len(keys) {
		t.Fatalf("decoded %d keys, want %d", len(got["01aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"]), len(keys))
	}
}

func Test_JSON_Stores_Payloads_As_Base64_When_Encoded(t *testing.T) {
	t.Parallel()

	data, err := doccache.JSON{}.Encode(doccache.Wire{
		"01aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa": {"k": []byte("hi")},
	})
	if err != nil {
		t.Fatalf("Encode: err=%v", err)
	}

	want := `{"01aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa":{"k":"aGk="}}`
	if string(data) != want {
		t.Fatalf("Encode=%s, want %s", data, want)
	}
}

func Test_JSON_Accepts_Comments_And_Trailing_Commas_When_Decoding(t *testing.T) {
	t.Parallel()

	input := `{
		// edited by hand
		"01aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa": {"k": "aGk=",},
	}`

	got, err := doccache.JSON{}.Decode([]byte(input))
	if err != nil {
		t.Fatalf("Decode: err=%v, want nil", err)
	}

	if v := string(got["01aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"]["k"]); v != "hi" {
		t.Fatalf("payload=%q, want %q", v, "hi")
	}
}

func Test_JSON_Returns_Error_When_Input_Is_Malformed(t *testing.T) {
	t.Parallel()

	for _, input := range []string{`{`, `[]`, `{"a":{"k":"not base64!"}}`, `{} {}`} {
		if _, err := (doccache.JSON{}).Decode([]byte(input)); err == nil {
			t.Fatalf("Decode(%q): err=nil, want error", input)
		}
	}
}

func Test_CodecByName_Returns_Error_When_Name_Is_Unknown(t *testing.T) {
	t.Parallel()

	_, err := doccache.CodecByName("yaml")
	if err == nil || !strings.Contains(err.Error(), "yaml") {
		t.Fatalf("CodecByName(yaml): err=%v, want unknown codec error", err)
	}

	c, err := doccache.CodecByName("")
	if err != nil || c.Name() != doccache.CodecJSON {
		t.Fatalf("CodecByName(\"\")=%v, %v, want json", c, err)
	}
}
