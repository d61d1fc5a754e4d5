package message

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// envelopeSchema is the JSON schema enforced on ingestion envelopes pulled
// from the queue, before the payload itself is parsed.
const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["messageKind", "sender", "receiver", "payload"],
  "properties": {
    "messageKind": {"type": "string", "pattern": "^MT[0-9]{3}$"},
    "sender": {"type": "string", "minLength": 8, "maxLength": 11},
    "receiver": {"type": "string", "minLength": 8, "maxLength": 11},
    "priority": {"type": "integer", "minimum": 0, "maximum": 9},
    "payload": {"type": "string", "minLength": 1}
  },
  "additionalProperties": false
}`

var envelopeSchemaLoader = gojsonschema.NewStringLoader(envelopeSchema)

// Envelope is the JSON wrapper in which raw payloads arrive from the
// ingestion queue. It is read superficially: the payload text stays opaque
// until the per-kind parser runs.
type Envelope struct {
	MessageKind string `json:"messageKind"`
	Sender      string `json:"sender"`
	Receiver    string `json:"receiver"`
	Priority    int    `json:"priority"`
	Payload     string `json:"payload"`
}

// OpenEnvelope validates a queue body against the envelope schema and decodes
// it, resolving the declared kind.
func OpenEnvelope(stream []byte) (*Envelope, Kind, error) {
	result, err := gojsonschema.Validate(envelopeSchemaLoader, gojsonschema.NewBytesLoader(stream))
	if err != nil {
		return nil, 0, fmt.Errorf("error validating envelope: %v", err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, desc.String())
		}
		return nil, 0, fmt.Errorf("invalid envelope: %v", issues)
	}

	e := &Envelope{}
	if err := json.Unmarshal(stream, e); err != nil {
		return nil, 0, fmt.Errorf("error decoding envelope: %v", err)
	}
	kind, err := KindFromCode(e.MessageKind)
	if err != nil {
		return nil, 0, err
	}
	return e, kind, nil
}
