package codec

import (
	"fmt"
	"io"
)

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec is a Marshaler and Unmarshaler pair for one wire format.
type Codec interface {
	Marshaler
	Unmarshaler
	// ContentType is the MIME type sent over HTTP.
	ContentType() string
}

const (
	NameJSON = "json"
	NameCBOR = "cbor"
)

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case NameJSON, "":
		return JSON{}, nil
	case NameCBOR:
		return CBOR{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}
