package heapdump

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode so equal dumps encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("heapdump: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a Dump to CBOR bytes.
func Marshal(d *Dump) ([]byte, error) {
	return cborEncMode.Marshal(d)
}

// Unmarshal deserializes a Dump from CBOR bytes.
func Unmarshal(data []byte) (*Dump, error) {
	var d Dump
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("heapdump: unmarshal dump: %w", err)
	}
	return &d, nil
}

// Encode writes d to w as CBOR.
func Encode(w io.Writer, d *Dump) error {
	return cborEncMode.NewEncoder(w).Encode(d)
}

// Decode reads one CBOR-encoded Dump from r.
func Decode(r io.Reader) (*Dump, error) {
	var d Dump
	if err := cbor.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("heapdump: decode dump: %w", err)
	}
	return &d, nil
}

// MarshalCensus serializes a Census to CBOR bytes.
func MarshalCensus(c *Census) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// UnmarshalCensus deserializes a Census from CBOR bytes.
func UnmarshalCensus(data []byte) (*Census, error) {
	var c Census
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("heapdump: unmarshal census: %w", err)
	}
	return &c, nil
}
