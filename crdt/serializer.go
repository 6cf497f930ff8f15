package crdt

import (
	"bytes"
	"io"
	"time"

	"compress/gzip"
	"encoding/json"

	"github.com/pkg/errors"
)

// Constants

// SchemaVersion is the current version of the serialized envelope.
const SchemaVersion uint32 = 1

// Structs

// Serializer turns replicated state and operation batches into
// envelopes for the outside storage and transport layers. The codec is
// pluggable; the default is JSON, a self-describing format. Compression
// is a hook gated on actually shrinking the payload.
type Serializer struct {
	codec      Codec
	compressor Compressor
	compress   bool
}

// SerializedState is the envelope wrapping serialized replica bytes.
type SerializedState struct {
	CrdtType     string `json:"crdt_type"`
	Version      uint32 `json:"version"`
	Timestamp    string `json:"timestamp"`
	Compressed   bool   `json:"compressed"`
	Data         []byte `json:"data"`
	OriginalSize int    `json:"original_size"`
}

// SerializationStats summarizes the effect of serializing one envelope.
type SerializationStats struct {
	OriginalSize     int
	CompressedSize   int
	CompressionRatio float64
	Format           string
}

// jsonCodec is the default self-describing codec.
type jsonCodec struct{}

// gzipCompressor implements the compression hook with stdlib gzip.
type gzipCompressor struct{}

// Interfaces

// Codec is a pluggable serialization format. Format selection must not
// change observable replica semantics.
type Codec interface {
	Name() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// Compressor is the pluggable compression hook of the serializer.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Functions

// NewSerializer returns a serializer with the JSON codec and compression
// disabled.
func NewSerializer() *Serializer {

	return &Serializer{
		codec:      jsonCodec{},
		compressor: gzipCompressor{},
	}
}

// NewSerializerWith returns a serializer with an explicit codec and
// compression setting. A nil codec falls back to JSON.
func NewSerializerWith(codec Codec, compress bool) *Serializer {

	if codec == nil {
		codec = jsonCodec{}
	}

	return &Serializer{
		codec:      codec,
		compressor: gzipCompressor{},
		compress:   compress,
	}
}

// Serialize wraps a replica into an envelope tagged with the given type.
func (s *Serializer) Serialize(state State, crdtType string) (*SerializedState, error) {

	data, err := s.codec.Marshal(state)
	if err != nil {
		return nil, errors.Wrapf(err, "%s serialization failed", s.codec.Name())
	}

	originalSize := len(data)
	compressed := false

	if s.compress {

		// Use the compressed bytes only if strictly smaller.
		shrunk, err := s.compressor.Compress(data)
		if (err == nil) && (len(shrunk) < len(data)) {
			data = shrunk
			compressed = true
		}
	}

	return &SerializedState{
		CrdtType:     crdtType,
		Version:      SchemaVersion,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Compressed:   compressed,
		Data:         data,
		OriginalSize: originalSize,
	}, nil
}

// Deserialize restores a replica from an envelope into the supplied
// state value. Malformed bytes surface as a descriptive error.
func (s *Serializer) Deserialize(state *SerializedState, into State) error {

	data := state.Data

	if state.Compressed {

		decompressed, err := s.compressor.Decompress(data)
		if err != nil {
			return errors.Wrap(err, "decompressing serialized state failed")
		}

		data = decompressed
	}

	if err := s.codec.Unmarshal(data, into); err != nil {
		return errors.Wrapf(err, "%s deserialization failed", s.codec.Name())
	}

	return nil
}

// SerializeOperations marshals an operation batch for transmission.
func (s *Serializer) SerializeOperations(operations []Operation) ([]byte, error) {

	data, err := s.codec.Marshal(operations)
	if err != nil {
		return nil, errors.Wrapf(err, "%s serialization of operations failed", s.codec.Name())
	}

	return data, nil
}

// DeserializeOperations unmarshals a received operation batch.
func (s *Serializer) DeserializeOperations(data []byte) ([]Operation, error) {

	var operations []Operation
	if err := s.codec.Unmarshal(data, &operations); err != nil {
		return nil, errors.Wrapf(err, "%s deserialization of operations failed", s.codec.Name())
	}

	return operations, nil
}

// Stats derives serialization statistics from an envelope.
func (s *Serializer) Stats(state *SerializedState) SerializationStats {

	ratio := 1.0
	if state.Compressed && (state.OriginalSize > 0) {
		ratio = float64(len(state.Data)) / float64(state.OriginalSize)
	}

	return SerializationStats{
		OriginalSize:     state.OriginalSize,
		CompressedSize:   len(state.Data),
		CompressionRatio: ratio,
		Format:           s.codec.Name(),
	}
}

// Name returns the codec's format tag.
func (jsonCodec) Name() string {

	return "json"
}

// Marshal encodes a value as JSON.
func (jsonCodec) Marshal(v interface{}) ([]byte, error) {

	return json.Marshal(v)
}

// Unmarshal decodes JSON bytes into a value.
func (jsonCodec) Unmarshal(data []byte, v interface{}) error {

	return json.Unmarshal(data, v)
}

// Compress gzips the payload.
func (gzipCompressor) Compress(data []byte) ([]byte, error) {

	var buf bytes.Buffer

	w := gzip.NewWriter(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decompress gunzips the payload.
func (gzipCompressor) Decompress(data []byte) ([]byte, error) {

	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}
