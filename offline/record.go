// ABOUTME: Record and identifier types shared by the store, journal and gateway.
// ABOUTME: Local ids are minted offline with a reserved prefix and a ULID.
package offline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// LocalIDPrefix marks ids minted on this device before the server confirmed them.
const LocalIDPrefix = "offline_"

// ID identifies a record. Server ids may be strings or integers on the wire;
// both decode into the same string form.
type ID string

// NewLocalID mints a fresh local id.
func NewLocalID() ID {
	return ID(LocalIDPrefix + ulid.Make().String())
}

// IsLocal reports whether the id was minted offline and is still unconfirmed.
func (id ID) IsLocal() bool {
	return strings.HasPrefix(string(id), LocalIDPrefix)
}

func (id ID) String() string { return string(id) }

// UnmarshalJSON accepts both JSON strings and JSON numbers.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("record id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Fields is the domain payload of a record.
type Fields map[string]any

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Record is a task (or any other synced entity) as seen by the application.
type Record struct {
	ID        ID        `json:"id"`
	Fields    Fields    `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of r that shares no mutable state with it.
func (r Record) Clone() Record {
	r.Fields = r.Fields.Clone()
	return r
}

func cloneRecords(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
