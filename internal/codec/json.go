package codec

import "encoding/json"

// JSON is a Codec backed by encoding/json.
//
// Numbers round-trip as float64; callers that persisted integer attributes
// are expected to coerce on decode using their schema.
type JSON struct{}

// Marshal implements Codec.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements Codec.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name implements Codec.
func (JSON) Name() string { return "json" }
