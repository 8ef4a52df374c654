package packet

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/xeipuuv/gojsonschema"
)

// SchemaDescriptor is the payload of a TypeSchema packet: a cached
// description of the shape of subsequent delta/response bodies, so a
// receiver with limited bandwidth can validate structure without
// re-transmitting a full JSON Schema document on every message.
//
// This is an optional capability layered on top of response/delta
// messages; the wire layout is pinned down as CBOR (compact, self
// describing) carrying an embedded JSON Schema document used only for
// validation, not transmitted again once cached.
type SchemaDescriptor struct {
	Name    string `cbor:"name"`
	Version uint32 `cbor:"version"`
	Schema  []byte `cbor:"schema"` // raw JSON Schema document
}

// EncodeSchema serializes a SchemaDescriptor to CBOR for the schema
// packet payload.
func EncodeSchema(d *SchemaDescriptor) ([]byte, error) {
	return cbor.Marshal(d)
}

// DecodeSchema parses a schema packet payload back into a descriptor.
func DecodeSchema(payload []byte) (*SchemaDescriptor, error) {
	var d SchemaDescriptor
	if err := cbor.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("packet: decode schema: %w", err)
	}
	return &d, nil
}

// Validate checks a JSON document against the descriptor's cached
// schema. A receiver calls this once per schema update, then relies on
// the structural guarantee for subsequent delta application.
func (d *SchemaDescriptor) Validate(document []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(d.Schema)
	docLoader := gojsonschema.NewBytesLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("packet: schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("packet: document violates schema %s v%d: %v", d.Name, d.Version, msgs)
	}
	return nil
}
