package codec

import (
	"bytes"

	gojson "github.com/goccy/go-json"
)

// JSONMarshal encodes v into JSON.
func JSONMarshal(v any) ([]byte, error) {
	return gojson.Marshal(v)
}

// JSONUnmarshalFields decodes a JSON object into a field map. Numbers are
// kept as json.Number so 64-bit counters survive the round trip exactly.
func JSONUnmarshalFields(data []byte) (map[string]any, error) {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}
