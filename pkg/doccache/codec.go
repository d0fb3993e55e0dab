package doccache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"github.com/tailscale/hujson"
	"github.com/vmihailenco/msgpack/v5"
)

// Wire is the serialized shape of a snapshot: identifier string to key to
// payload.
type Wire map[string]map[string][]byte

// Codec serializes a whole snapshot.
type Codec interface {
	// Name identifies the codec in configuration.
	Name() string
	Encode(w Wire) ([]byte, error)
	Decode(data []byte) (Wire, error)
}

// Codec names accepted by [CodecByName].
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
	CodecCBOR    = "cbor"
)

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSON{}, nil
	case CodecMsgpack:
		return Msgpack{}, nil
	case CodecCBOR:
		return NewCBOR()
	default:
		return nil, fmt.Errorf("unknown codec %q (want %s, %s or %s)", name, CodecJSON, CodecMsgpack, CodecCBOR)
	}
}

// CodecNames lists the accepted codec names.
func CodecNames() []string {
	return []string{CodecJSON, CodecMsgpack, CodecCBOR}
}

// JSON stores the snapshot as a single JSON object:
//
//	{"<32 hex id>": {"<key>": "<base64 payload>", ...}, ...}
//
// JSON has no byte-string type, so payloads are encoded as standard padded
// base64 (RFC 4648 section 4). Object keys are written sorted. Decoding
// accepts JSON with comments and trailing commas so hand-edited files load.
type JSON struct{}

func (JSON) Name() string { return CodecJSON }

func (JSON) Encode(w Wire) ([]byte, error) {
	return json.Marshal(w)
}

func (JSON) Decode(data []byte) (Wire, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, err
	}

	var w Wire

	dec := json.NewDecoder(bytes.NewReader(std))
	if err := dec.Decode(&w); err != nil {
		return nil, err
	}

	if dec.More() {
		return nil, fmt.Errorf("trailing data after snapshot object")
	}

	return w, nil
}

// Msgpack stores the snapshot as a msgpack map with native binary payloads.
// Map keys are sorted so equal snapshots encode to equal bytes.
type Msgpack struct{}

func (Msgpack) Name() string { return CodecMsgpack }

func (Msgpack) Encode(w Wire) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeMapLen(len(w)); err != nil {
		return nil, err
	}

	for _, id := range slices.Sorted(maps.Keys(w)) {
		if err := enc.EncodeString(id); err != nil {
			return nil, err
		}

		if err := encodeMsgpackDocument(enc, w[id]); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// encodeMsgpackDocument writes doc with its keys in ascending order. The
// generic map encoder iterates in random order for nested maps.
func encodeMsgpackDocument(enc *msgpack.Encoder, doc map[string][]byte) error {
	if doc == nil {
		return enc.EncodeNil()
	}

	if err := enc.EncodeMapLen(len(doc)); err != nil {
		return err
	}

	for _, key := range slices.Sorted(maps.Keys(doc)) {
		if err := enc.EncodeString(key); err != nil {
			return err
		}

		if err := enc.EncodeBytes(doc[key]); err != nil {
			return err
		}
	}

	return nil
}

func (Msgpack) Decode(data []byte) (Wire, error) {
	var w Wire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	return w, nil
}

// CBOR stores the snapshot as RFC 8949 core deterministic CBOR with native
// byte strings. The zero value is not usable; construct with [NewCBOR].
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR constructs the CBOR codec.
func NewCBOR() (CBOR, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return CBOR{}, err
	}

	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return CBOR{}, err
	}

	return CBOR{enc: em, dec: dm}, nil
}

func (CBOR) Name() string { return CodecCBOR }

func (c CBOR) Encode(w Wire) ([]byte, error) {
	return c.enc.Marshal(w)
}

func (c CBOR) Decode(data []byte) (Wire, error) {
	var w Wire
	if err := c.dec.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	return w, nil
}
