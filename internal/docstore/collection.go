package docstore

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// DefaultItemsKey is the array field holding the records of a
	// collection document.
	DefaultItemsKey = "items"
	// DefaultVersion is written into collections created from scratch.
	DefaultVersion = "1.0.0"

	fieldVersion     = "version"
	fieldLastUpdated = "lastUpdated"
	fieldChunkIndex  = "chunkIndex"
	fieldTotalChunks = "totalChunks"
)

// Entry is a single record of a collection.
type Entry map[string]any

// ID returns the value of field rendered as a string.
func (e Entry) ID(field string) (string, bool) {
	value, ok := e[field]
	if !ok || value == nil {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// Collection is a JSON object whose records live in one array field. All
// other top-level fields are kept verbatim in Meta.
type Collection struct {
	Key   string
	Items []Entry
	Meta  map[string]json.RawMessage
}

// NewCollection returns an empty collection stamped with DefaultVersion.
func NewCollection(key string) *Collection {
	if key == "" {
		key = DefaultItemsKey
	}
	version, _ := json.Marshal(DefaultVersion)
	return &Collection{
		Key:   key,
		Items: []Entry{},
		Meta:  map[string]json.RawMessage{fieldVersion: version},
	}
}

// DecodeCollection parses a collection document whose records live under
// key. It fails with ErrNotCollection if key is not an array.
func DecodeCollection(data []byte, key string) (*Collection, error) {
	if key == "" {
		key = DefaultItemsKey
	}
	var fields map[string]json.RawMessage
	if err := Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrNotCollection)
	}
	raw, ok := fields[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q array", ErrNotCollection, key)
	}
	var items []Entry
	if err := Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %q is not an array of objects", ErrNotCollection, key)
	}
	if items == nil {
		items = []Entry{}
	}
	delete(fields, key)
	return &Collection{Key: key, Items: items, Meta: fields}, nil
}

// IsCollection reports whether data is an object with an array under key.
func IsCollection(data []byte, key string) bool {
	_, err := DecodeCollection(data, key)
	return err == nil
}

func (c *Collection) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Meta)+1)
	for name, value := range c.Meta {
		out[name] = value
	}
	items := c.Items
	if items == nil {
		items = []Entry{}
	}
	out[c.Key] = items
	return json.Marshal(out)
}

// Touch refreshes lastUpdated.
func (c *Collection) Touch(now time.Time) {
	if c.Meta == nil {
		c.Meta = map[string]json.RawMessage{}
	}
	stamp, _ := json.Marshal(now.UTC().Format(time.RFC3339Nano))
	c.Meta[fieldLastUpdated] = stamp
}

// LastUpdated returns the parsed lastUpdated field, if any.
func (c *Collection) LastUpdated() (time.Time, bool) {
	raw, ok := c.Meta[fieldLastUpdated]
	if !ok {
		return time.Time{}, false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// Find returns the index of the first record whose idField equals id.
func (c *Collection) Find(idField, id string) int {
	for i, item := range c.Items {
		if value, ok := item.ID(idField); ok && value == id {
			return i
		}
	}
	return -1
}

// metaInt reads an integer metadata field.
func (c *Collection) metaInt(name string) (int, bool) {
	raw, ok := c.Meta[name]
	if !ok {
		return 0, false
	}
	var value int
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, false
	}
	return value, true
}

// withoutChunkMeta returns a shallow copy of c with the chunk bookkeeping
// fields removed.
func (c *Collection) withoutChunkMeta() *Collection {
	meta := make(map[string]json.RawMessage, len(c.Meta))
	for name, value := range c.Meta {
		if name == fieldChunkIndex || name == fieldTotalChunks {
			continue
		}
		meta[name] = value
	}
	items := c.Items
	if items == nil {
		items = []Entry{}
	}
	return &Collection{Key: c.Key, Items: items, Meta: meta}
}
