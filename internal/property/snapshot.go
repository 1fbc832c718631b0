package property

import (
	"bytes"
	"encoding/json"
	"fmt"

	"factory_device/internal/models"
)

// Snapshot is an immutable copy of the property set.
type Snapshot struct {
	Entries  []Entry
	Revision uint64 // incremented on every applied change
	Version  int64  // mirrored desired version
	Changed  []string
}

// Lookup returns the property stored under name in the snapshot.
func (s Snapshot) Lookup(name string) (models.Property, bool) {
	for _, e := range s.Entries {
		if e.Name == name {
			return e.Property, true
		}
	}
	return models.Property{}, false
}

// MarshalJSON renders the reported-properties document, keeping store order:
// {"UnitPerMinute":{"value":60},...}.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Property)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", e.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
