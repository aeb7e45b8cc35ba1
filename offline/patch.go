package offline

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Patch is an explicit partial update. A field is part of the patch once Set
// was called for it, even when the value is nil, false or zero.
type Patch struct {
	fields map[string]any
}

// NewPatch builds a patch that sets every key of f.
func NewPatch(f Fields) Patch {
	var p Patch
	for k, v := range f {
		p = p.Set(k, v)
	}
	return p
}

// Set returns a copy of p with name set to v.
func (p Patch) Set(name string, v any) Patch {
	out := p.clone()
	if out.fields == nil {
		out.fields = make(map[string]any, 1)
	}
	out.fields[name] = v
	return out
}

// Get returns the value set for name and whether it is part of the patch.
func (p Patch) Get(name string) (any, bool) {
	v, ok := p.fields[name]
	return v, ok
}

// Has reports whether name is part of the patch.
func (p Patch) Has(name string) bool {
	_, ok := p.fields[name]
	return ok
}

// Len returns the number of fields in the patch.
func (p Patch) Len() int { return len(p.fields) }

// IsEmpty reports whether the patch sets nothing.
func (p Patch) IsEmpty() bool { return len(p.fields) == 0 }

// Names returns the patched field names in sorted order.
func (p Patch) Names() []string {
	names := make([]string, 0, len(p.fields))
	for k := range p.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Merge overlays other onto p field by field; other wins per field.
func (p Patch) Merge(other Patch) Patch {
	out := p.clone()
	if len(other.fields) > 0 && out.fields == nil {
		out.fields = make(map[string]any, len(other.fields))
	}
	for k, v := range other.fields {
		out.fields[k] = v
	}
	return out
}

// Without drops every field of p whose value still equals the one in sent.
func (p Patch) Without(sent Patch) Patch {
	out := p.clone()
	for k, v := range sent.fields {
		cur, ok := out.fields[k]
		if ok && sameValue(cur, v) {
			delete(out.fields, k)
		}
	}
	return out
}

// Apply returns a copy of f with every patched field overwritten.
func (p Patch) Apply(f Fields) Fields {
	out := f.Clone()
	if out == nil && len(p.fields) > 0 {
		out = make(Fields, len(p.fields))
	}
	for k, v := range p.fields {
		out[k] = v
	}
	return out
}

// Fields returns the patch as a plain field map.
func (p Patch) Fields() Fields {
	return Fields(p.fields).Clone()
}

func (p Patch) clone() Patch {
	if p.fields == nil {
		return Patch{}
	}
	out := make(map[string]any, len(p.fields))
	for k, v := range p.fields {
		out[k] = v
	}
	return Patch{fields: out}
}

// MarshalJSON encodes the patch as an object; explicit nulls are kept.
func (p Patch) MarshalJSON() ([]byte, error) {
	if p.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.fields)
}

// UnmarshalJSON decodes an object; every key present, null included, is set.
func (p *Patch) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	p.fields = m
	return nil
}

// sameValue compares values by their JSON encoding so that a value that went
// through the store (int -> float64) still matches what was sent.
func sameValue(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
