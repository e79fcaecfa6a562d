package cache

import (
	"encoding/json"
	"errors"
	"math"

	"github.com/bassista/go_courses/internal/docstore"
)

const (
	FieldID     = "id"
	FieldCodigo = "codigo"
	FieldEstado = "estado"
)

// Fields is an opaque course payload as submitted by callers.
type Fields map[string]any

// Course is a flattened course document: {id, ...fields}.
type Course map[string]any

func (c Course) ID() string {
	id, _ := c[FieldID].(string)
	return id
}

func (c Course) Codigo() string {
	codigo, _ := c[FieldCodigo].(string)
	return codigo
}

// Estado reports whether the course is active, using JavaScript truthiness since
// documents written by other clients may not store a strict boolean.
func (c Course) Estado() bool {
	return Truthy(c[FieldEstado])
}

// Truthy applies JavaScript truthiness to a decoded JSON value.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}

// fromDocument flattens a stored document. The store id is authoritative even if
// the payload carries its own "id" key. Clients that spread the payload after the
// id let the payload key win instead; keeping the store id here is intended.
func fromDocument(d docstore.Document) Course {
	c := make(Course, len(d.Fields)+1)
	for k, v := range d.Fields {
		c[k] = v
	}
	c[FieldID] = d.ID
	return c
}

func fromDocuments(docs []docstore.Document) []Course {
	courses := make([]Course, 0, len(docs))
	for _, d := range docs {
		courses = append(courses, fromDocument(d))
	}
	return courses
}

// normalize deep-copies a payload and checks that it is a storable JSON object.
// Values keep their Go types, so integers are not widened to float64.
func normalize(f Fields) (Fields, error) {
	if f == nil {
		return nil, errors.New("payload is nil")
	}
	out, err := docstore.CopyFields(f)
	if err != nil {
		return nil, err
	}
	return Fields(out), nil
}

// clone deep-copies a course to avoid sharing nested maps and slices with callers.
func (c Course) clone() Course {
	if c == nil {
		return nil
	}
	out, _ := docstore.CopyValue(map[string]any(c)).(map[string]any)
	return Course(out)
}

// merged returns a copy of c with patch applied on top.
func (c Course) merged(patch Fields) Course {
	out := c.clone()
	if out == nil {
		out = Course{}
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func cloneCourses(courses []Course) []Course {
	out := make([]Course, len(courses))
	for i, c := range courses {
		out[i] = c.clone()
	}
	return out
}
