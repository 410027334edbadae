// Package document encodes and decodes the per-collection JSON documents:
//
//	{ "metadata": { "lastSynced": ..., "version": ... }, "<collection>": [ ... ] }
package document

import (
	"encoding/json"
	"fmt"
)

const metadataKey = "metadata"

// Metadata is the header stored alongside a collection. LastSynced is kept as
// the raw string so a malformed timestamp never blocks decoding.
type Metadata struct {
	LastSynced string `json:"lastSynced"`
	Version    string `json:"version"`
}

// Document is one collection's full content.
type Document[T any] struct {
	Collection string
	Metadata   Metadata
	Items      []T
}

// New returns an empty document for collection.
func New[T any](collection string) *Document[T] {
	return &Document[T]{Collection: collection, Items: []T{}}
}

// Decode parses data as the document for collection. A missing metadata block
// or a missing or null array decodes as empty.
func Decode[T any](collection string, data []byte) (*Document[T], error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decoding %s document: %w", collection, err)
	}

	doc := New[T](collection)
	if raw, ok := fields[metadataKey]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decoding %s metadata: %w", collection, err)
		}
	}
	if raw, ok := fields[collection]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &doc.Items); err != nil {
			return nil, fmt.Errorf("decoding %s items: %w", collection, err)
		}
	}
	if doc.Items == nil {
		doc.Items = []T{}
	}
	return doc, nil
}

// Encode renders the document as two-space indented JSON.
func (d *Document[T]) Encode() ([]byte, error) {
	items := d.Items
	if items == nil {
		items = []T{}
	}
	out, err := json.MarshalIndent(map[string]any{
		metadataKey:  d.Metadata,
		d.Collection: items,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding %s document: %w", d.Collection, err)
	}
	return append(out, '\n'), nil
}
