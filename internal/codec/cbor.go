package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	cborEnc = mustEncMode()
	cborDec = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// CBOR encodes timestamps as RFC 3339 strings with nanoseconds so values
// survive a round trip unchanged.
type CBOR struct{}

func (CBOR) Marshal(v any) ([]byte, error) {
	return cborEnc.Marshal(v)
}

func (CBOR) NewEncoder(w io.Writer) Encoder {
	return cborEnc.NewEncoder(w)
}

func (CBOR) Unmarshal(data []byte, dst any) error {
	return cborDec.Unmarshal(data, dst)
}

func (CBOR) NewDecoder(r io.Reader) Decoder {
	return cborDec.NewDecoder(r)
}

func (CBOR) ContentType() string { return "application/cbor" }
