package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/objecthub/bus"
	"github.com/vinayprograms/objecthub/errors"
	"github.com/vinayprograms/objecthub/logging"
	"github.com/vinayprograms/objecthub/store"
)

// Notifier receives change notifications.
type Notifier interface {
	Broadcast(n bus.Notification) int
}

// Config configures a Registry.
type Config struct {
	// Store persists records. Default: store.Transient.
	Store store.Store

	// Notifier receives update and delete notifications. Required.
	Notifier Notifier

	// ReadOnly rejects every mutation.
	ReadOnly bool

	// Logger for registry events. Default: discard.
	Logger *logging.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Registry maps object keys to records.
type Registry struct {
	store    store.Store
	notifier Notifier
	readOnly bool
	log      *logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	records map[string]*record
	nextID  int64
}

// New creates an empty registry. Call Load to recover persisted records.
func New(cfg Config) *Registry {
	if cfg.Store == nil {
		cfg.Store = store.NewTransient()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		readOnly: cfg.ReadOnly,
		log:      cfg.Logger,
		now:      cfg.Now,
		records:  make(map[string]*record),
		nextID:   1,
	}
}

// ReadOnly reports whether mutations are rejected.
func (r *Registry) ReadOnly() bool {
	return r.readOnly
}

// Load inserts every record the store recovers and moves the id counter past
// the highest id seen. Records loaded later override earlier ones with the
// same key; the files of the overridden record are purged.
func (r *Registry) Load(ctx context.Context) (int, error) {
	result, err := r.store.Load(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "loading objects")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	maxID := result.MaxID
	for _, rec := range result.Records {
		if prev, ok := r.records[rec.Key]; ok {
			r.log.Warn("duplicate key on load, keeping higher id", map[string]interface{}{
				"key":     rec.Key,
				"dropped": prev.id,
				"kept":    rec.ID,
			})
			if err := r.store.Purge(ctx, prev.id); err != nil {
				r.log.Error("purge failed", map[string]interface{}{
					"key":   rec.Key,
					"id":    prev.id,
					"error": err.Error(),
				})
			}
		}
		r.records[rec.Key] = &record{
			id:       rec.ID,
			key:      rec.Key,
			metadata: rec.Metadata,
			data:     rec.Data,
			lastData: rec.LastData,
		}
		if rec.ID > maxID {
			maxID = rec.ID
		}
	}
	if maxID+1 > r.nextID {
		r.nextID = maxID + 1
	}

	return len(r.records), nil
}

// lookup returns the record for key, creating it when create is set.
func (r *Registry) lookup(key string, create bool) *record {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[key]
	if !ok && create {
		rec = &record{id: r.nextID, key: key}
		r.nextID++
		r.records[key] = rec
	}
	return rec
}

// Update applies a create-or-update, or a delete when meta and data are both
// nil. A nil argument leaves that field unchanged; an empty, non-nil one
// replaces it. The returned error, if any, reports a persistence failure; the
// in-memory change and its notification have still happened.
func (r *Registry) Update(ctx context.Context, key string, meta map[string]any, data []byte) error {
	if r.readOnly {
		return errors.ReadOnly("update", errors.WithKey(key))
	}
	if key == "" {
		return errors.InvalidInput("object key is required")
	}
	if meta == nil && data == nil {
		return r.Delete(ctx, key)
	}

	meta = cloneDocument(meta)
	if data != nil {
		data = append(make([]byte, 0, len(data)), data...)
	}

	for {
		rec := r.lookup(key, true)
		rec.mu.Lock()
		if rec.removed {
			rec.mu.Unlock()
			continue
		}
		err := r.apply(ctx, rec, meta, data)
		rec.mu.Unlock()
		return err
	}
}

// apply mutates, persists and announces rec. Callers hold rec.mu.
func (r *Registry) apply(ctx context.Context, rec *record, meta map[string]any, data []byte) error {
	now := r.now()
	if meta != nil {
		rec.metadata = meta
	}
	if data != nil {
		rec.data = data
		rec.lastData = epochSeconds(now)
		rec.dirty = true
	}
	rec.derive(now)

	var persistErr error
	if err := r.store.Persist(ctx, rec.toStore()); err != nil {
		r.log.Error("persist failed", map[string]interface{}{
			"key":   rec.key,
			"id":    rec.id,
			"error": err.Error(),
		})
		persistErr = errors.Wrap(err, "persisting object", errors.WithKey(rec.key))
	} else {
		rec.dirty = false
	}

	hasMeta := rec.metadata != nil
	r.log.ObjectUpdated(rec.key, rec.id, hasMeta, rec.data != nil)
	if hasMeta {
		r.notify(bus.Notification{Key: rec.key, Operation: bus.OpUpdate})
	}

	if persistErr != nil {
		return persistErr
	}
	return nil
}

// Delete removes key and purges its files. A delete notification is
// broadcast whether or not the key existed.
func (r *Registry) Delete(ctx context.Context, key string) error {
	if r.readOnly {
		return errors.ReadOnly("delete", errors.WithKey(key))
	}
	if key == "" {
		return errors.InvalidInput("object key is required")
	}

	r.mu.Lock()
	rec, existed := r.records[key]
	delete(r.records, key)
	r.mu.Unlock()

	var purgeErr error
	if existed {
		rec.mu.Lock()
		rec.removed = true
		if err := r.store.Purge(ctx, rec.id); err != nil {
			r.log.Error("purge failed", map[string]interface{}{
				"key":   key,
				"id":    rec.id,
				"error": err.Error(),
			})
			purgeErr = errors.Wrap(err, "purging object", errors.WithKey(key))
		}
		rec.mu.Unlock()
	}

	r.log.ObjectDeleted(key, existed)
	r.notify(bus.Notification{Key: key, Operation: bus.OpDelete})

	if purgeErr != nil {
		return purgeErr
	}
	return nil
}

func (r *Registry) notify(n bus.Notification) {
	if r.notifier != nil {
		r.notifier.Broadcast(n)
	}
}

// Get returns a snapshot of the object at key.
func (r *Registry) Get(key string) (*Object, error) {
	rec := r.lookup(key, false)
	if rec == nil {
		return nil, errors.NotFound(key)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return nil, errors.NotFound(key)
	}
	return rec.snapshot(), nil
}

// Metadata returns a copy of the object's metadata, nil when the object
// exists without metadata.
func (r *Registry) Metadata(key string) (map[string]any, error) {
	obj, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	return obj.Metadata, nil
}

// Data returns a copy of the object's payload.
func (r *Registry) Data(key string) ([]byte, error) {
	rec := r.lookup(key, false)
	if rec == nil {
		return nil, errors.NotFound(key)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed || rec.data == nil {
		return nil, errors.NotFound(key, errors.WithMetadata("field", "data"))
	}
	return append(make([]byte, 0, len(rec.data)), rec.data...), nil
}

// List returns the sorted keys of objects that have metadata.
func (r *Registry) List() []string {
	r.mu.Lock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.Unlock()

	keys := make([]string, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if !rec.removed && rec.metadata != nil {
			keys = append(keys, rec.key)
		}
		rec.mu.Unlock()
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of records, advertised or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
