package model

import (
	"encoding/json"
	"strings"
)

const (
	fieldID        = "_id"
	fieldRev       = "_rev"
	fieldDeleted   = "_deleted"
	fieldRevisions = "_revisions"
)

// Document is a schemaless JSON document as stored in the local and remote
// document databases. Reserved fields (_id, _rev, _deleted, _revisions) are
// lifted out of Fields; everything else is kept as decoded JSON.
type Document struct {
	ID      string
	Rev     string
	Deleted bool
	// Revisions is the ancestry of Rev, nil when unknown.
	Revisions *Revisions
	Fields    map[string]any
}

// NewDocument encodes v into a document with the given id.
// Reserved fields present in v are taken over unless id is non-empty.
func NewDocument(id string, v any) (*Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}

	if id != "" {
		doc.ID = id
	}

	return doc, nil
}

// Type returns the document type discriminator, empty for untyped documents.
func (d *Document) Type() string {
	return d.String("type")
}

// StoryID returns the storyId field used by story-scoped typed documents.
func (d *Document) StoryID() string {
	return d.String("storyId")
}

// Title returns a best-effort human readable name.
func (d *Document) Title() string {
	if title := d.String("title"); title != "" {
		return title
	}
	return d.String("name")
}

func (d *Document) String(key string) string {
	if d == nil || d.Fields == nil {
		return ""
	}
	s, _ := d.Fields[key].(string)
	return s
}

// Has reports whether the document carries the field.
func (d *Document) Has(key string) bool {
	if d == nil || d.Fields == nil {
		return false
	}
	_, ok := d.Fields[key]
	return ok
}

// Decode decodes the whole document, reserved fields included, into v.
func (d *Document) Decode(v any) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Body encodes the document fields without the reserved fields.
func (d *Document) Body() ([]byte, error) {
	if d.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.Fields)
}

// Clone returns a shallow copy with its own field map.
func (d *Document) Clone() *Document {
	clone := &Document{
		ID:        d.ID,
		Rev:       d.Rev,
		Deleted:   d.Deleted,
		Revisions: d.Revisions.Clone(),
		Fields:    make(map[string]any, len(d.Fields)),
	}
	for k, v := range d.Fields {
		clone.Fields[k] = v
	}
	return clone
}

func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+4)
	for k, v := range d.Fields {
		out[k] = v
	}
	out[fieldID] = d.ID
	if d.Rev != "" {
		out[fieldRev] = d.Rev
	}
	if d.Deleted {
		out[fieldDeleted] = true
	}
	if d.Revisions != nil {
		out[fieldRevisions] = d.Revisions
	}
	return json.Marshal(out)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	d.ID, _ = fields[fieldID].(string)
	d.Rev, _ = fields[fieldRev].(string)
	d.Deleted, _ = fields[fieldDeleted].(bool)
	d.Revisions = nil

	if _, ok := fields[fieldRevisions]; ok {
		var meta struct {
			Revisions *Revisions `json:"_revisions"`
		}
		if err := json.Unmarshal(data, &meta); err != nil {
			return err
		}
		if meta.Revisions != nil && len(meta.Revisions.IDs) > 0 {
			d.Revisions = meta.Revisions
		}
	}

	// the remaining underscore fields (_conflicts, _attachments) are transport
	// metadata and never part of the document body
	for k := range fields {
		if strings.HasPrefix(k, "_") {
			delete(fields, k)
		}
	}
	d.Fields = fields

	return nil
}
