package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// versionKey is the control-plane metadata key carrying the desired document version.
const versionKey = "$version"

// DesiredDocument is the desired-properties section of the device twin.
// Metadata keys ("$version", "$metadata", ...) are kept out of Fields.
type DesiredDocument struct {
	Version    int64
	HasVersion bool
	Fields     map[string]json.RawMessage
}

// ParseDesired decodes a desired-properties JSON object.
func ParseDesired(data []byte) (DesiredDocument, error) {
	var doc DesiredDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return DesiredDocument{}, err
	}
	return doc, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DesiredDocument) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode desired document: %w", err)
	}
	doc := DesiredDocument{Fields: make(map[string]json.RawMessage, len(raw))}
	for k, v := range raw {
		if k == versionKey {
			if err := json.Unmarshal(v, &doc.Version); err != nil {
				return fmt.Errorf("decode %s: %w", versionKey, err)
			}
			doc.HasVersion = true
			continue
		}
		if strings.HasPrefix(k, "$") {
			continue
		}
		doc.Fields[k] = v
	}
	*d = doc
	return nil
}

// MarshalJSON renders the document back into its wire form.
func (d DesiredDocument) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.Fields)+1)
	for k, v := range d.Fields {
		out[k] = v
	}
	if d.HasVersion {
		b, err := json.Marshal(d.Version)
		if err != nil {
			return nil, err
		}
		out[versionKey] = b
	}
	return json.Marshal(out)
}

// Lookup returns the raw JSON stored under name.
func (d DesiredDocument) Lookup(name string) (json.RawMessage, bool) {
	v, ok := d.Fields[name]
	return v, ok
}
