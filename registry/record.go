package registry

import (
	"sync"
	"time"

	"github.com/vinayprograms/objecthub/store"
)

// Reserved metadata fields maintained by the registry.
const (
	FieldUpdated  = "updated"
	FieldPath     = "path"
	FieldHasData  = "has_data"
	FieldLastData = "last_data"
)

type record struct {
	mu sync.Mutex

	id  int64
	key string

	metadata map[string]any
	data     []byte
	lastData float64
	dirty    bool

	// removed is set once the record has left the key map; holders of a
	// stale pointer must look the key up again.
	removed bool
}

// Object is a point-in-time copy of a record.
type Object struct {
	ID       int64
	Key      string
	Metadata map[string]any
	HasData  bool
	Size     int
	LastData float64
}

// epochSeconds renders t the way derived fields store time.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// derive refreshes the reserved metadata fields. Records without metadata
// are left alone.
func (r *record) derive(now time.Time) {
	if r.metadata == nil {
		return
	}
	r.metadata[FieldUpdated] = epochSeconds(now)
	if _, ok := r.metadata[FieldPath]; !ok {
		r.metadata[FieldPath] = ""
	}
	r.metadata[FieldHasData] = r.data != nil
	r.metadata[FieldLastData] = r.lastData
}

func (r *record) toStore() store.Record {
	return store.Record{
		ID:       r.id,
		Key:      r.key,
		Metadata: r.metadata,
		LastData: r.lastData,
		Data:     r.data,
		Dirty:    r.dirty,
	}
}

func (r *record) snapshot() *Object {
	return &Object{
		ID:       r.id,
		Key:      r.key,
		Metadata: cloneDocument(r.metadata),
		HasData:  r.data != nil,
		Size:     len(r.data),
		LastData: r.lastData,
	}
}

// cloneDocument deep-copies a decoded JSON object.
func cloneDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneDocument(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
