package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// bytesPerFloat is the encoded width of one embedding component.
const bytesPerFloat = 4

// encodeEmbedding packs vec as little-endian IEEE 754 float32 values with
// no length prefix; the length is derived from the BLOB size on decode.
func encodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*bytesPerFloat)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*bytesPerFloat:], math.Float32bits(v))
	}
	return b
}

// decodeEmbedding reverses encodeEmbedding.
func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%bytesPerFloat != 0 {
		return nil, fmt.Errorf("store: invalid embedding blob length %d (not a multiple of 4)", len(b))
	}
	vec := make([]float32, len(b)/bytesPerFloat)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*bytesPerFloat:]))
	}
	return vec, nil
}

// decodeMetadata parses a JSON metadata object. Integral numbers come back
// as int64 and the rest as float64, matching what the Qdrant payload yields.
func decodeMetadata(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var meta map[string]any
	if err := dec.Decode(&meta); err != nil {
		return nil, err
	}
	for k, v := range meta {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			meta[k] = i
		} else if f, err := n.Float64(); err == nil {
			meta[k] = f
		}
	}
	return meta, nil
}
