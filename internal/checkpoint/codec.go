package checkpoint

import (
	"encoding/json"
	"fmt"

	"backend-bravely/internal/tracking"

	"github.com/fxamacker/cbor/v2"
)

// Codec serialises snapshots for storage.
type Codec interface {
	Name() string
	Marshal(snap tracking.SessionSnapshot) ([]byte, error)
	Unmarshal(data []byte, snap *tracking.SessionSnapshot) error
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(snap tracking.SessionSnapshot) ([]byte, error) {
	return json.Marshal(snap)
}

func (JSONCodec) Unmarshal(data []byte, snap *tracking.SessionSnapshot) error {
	return json.Unmarshal(data, snap)
}

// CBORCodec is a compact binary encoding for long routes. Timestamps are
// written as RFC 3339 strings with nanoseconds so a reload reproduces them
// exactly.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBORCodec() (CBORCodec, error) {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	enc, err := opts.EncMode()
	if err != nil {
		return CBORCodec{}, fmt.Errorf("cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return CBORCodec{}, fmt.Errorf("cbor decoder: %w", err)
	}
	return CBORCodec{enc: enc, dec: dec}, nil
}

func (CBORCodec) Name() string { return "cbor" }

func (c CBORCodec) Marshal(snap tracking.SessionSnapshot) ([]byte, error) {
	return c.enc.Marshal(snap)
}

func (c CBORCodec) Unmarshal(data []byte, snap *tracking.SessionSnapshot) error {
	return c.dec.Unmarshal(data, snap)
}

// CodecByName returns the codec for a CHECKPOINT_CODEC value.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return NewCBORCodec()
	}
	return nil, fmt.Errorf("unknown checkpoint codec %q", name)
}

// decode unmarshals and validates a stored snapshot. Undecodable data is
// reported as a corrupt checkpoint.
func decode(codec Codec, data []byte) (*tracking.SessionSnapshot, error) {
	var snap tracking.SessionSnapshot
	if err := codec.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", tracking.ErrCorruptCheckpoint, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}
