// Package docstore provides document store clients exposing the primitives the
// course cache is built on: live subscription, full query, create, partial update
// and delete over a named collection.
//
// Backends:
//   - memory: in-process, for tests and local development
//   - file: a JSON file watched with fsnotify
//   - redis: hashes + sorted sets, pub/sub change feed
//   - postgres: a JSONB table, LISTEN/NOTIFY change feed
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/containerd/errdefs"
)

// Document is a stored record: the store-assigned id plus its fields.
type Document struct {
	ID     string         `json:"id" validate:"required"`
	Fields map[string]any `json:"fields"`
}

// Snapshot is one event on a subscription: either a full listing of the
// collection or the error that interrupted the feed.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Subscription delivers snapshot events until closed.
// Events is closed once the subscription has stopped producing.
type Subscription interface {
	Events() <-chan Snapshot
	Close() error
}

// Client is the document store contract.
type Client interface {
	Subscribe(ctx context.Context, collection string) (Subscription, error)
	QueryAll(ctx context.Context, collection string) ([]Document, error)
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)
	// Update merges fields into the top level of an existing document.
	// It fails with errdefs.ErrNotFound when the document does not exist.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	// Delete removes a document; deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

func checkCollection(collection string) error {
	if collection == "" {
		return fmt.Errorf("collection name is required: %w", errdefs.ErrInvalidArgument)
	}
	return nil
}

func checkRef(collection, id string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("document id is required: %w", errdefs.ErrInvalidArgument)
	}
	return nil
}

func notFound(collection, id string) error {
	return fmt.Errorf("document %s/%s: %w", collection, id, errdefs.ErrNotFound)
}

// cloneFields deep-copies a field map so stored values never alias caller maps.
// Rejects payloads that are not JSON-encodable.
func cloneFields(fields map[string]any) (map[string]any, error) {
	if fields == nil {
		return map[string]any{}, nil
	}
	out, err := CopyFields(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %v: %w", err, errdefs.ErrInvalidArgument)
	}
	return out, nil
}

// CopyFields deep-copies a JSON-encodable field map. Scalars keep their Go type,
// so an int64 above 2^53 survives unchanged.
func CopyFields(fields map[string]any) (map[string]any, error) {
	if _, err := json.Marshal(fields); err != nil {
		return nil, err
	}
	out, _ := CopyValue(fields).(map[string]any)
	return out, nil
}

// CopyValue deep-copies generic JSON containers and returns scalars as they are.
// Other composite values are copied through JSON with numbers kept as json.Number.
func CopyValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = CopyValue(e)
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CopyValue(e)
		}
		return out
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return t
		}
		var out any
		if err := decodeJSON(b, &out); err != nil {
			return t
		}
		return out
	}
}

// decodeJSON decodes with UseNumber so stored integers are not widened to float64.
func decodeJSON(b []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(dst)
}

func mergeFields(dst, patch map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		dst[k] = v
	}
	return dst
}
