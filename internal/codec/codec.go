// Package codec centralizes encoding of persisted metadata: the per-row
// simple-attribute blob and the serialized type definitions. Changing the
// codec is a breaking-change boundary; bytes written by an older codec may
// no longer decode.
package codec

// Codec encodes and decodes values. Implementations must be safe for
// concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Default is the codec used for all persisted blobs.
var Default Codec = JSON{}
