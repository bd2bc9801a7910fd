package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/objecthub/bus"
	hubErrors "github.com/vinayprograms/objecthub/errors"
	"github.com/vinayprograms/objecthub/logging"
	"github.com/vinayprograms/objecthub/store"
)

type recorder struct {
	mu    sync.Mutex
	notes []bus.Notification
}

func (r *recorder) Broadcast(n bus.Notification) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return 1
}

func (r *recorder) all() []bus.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Notification(nil), r.notes...)
}

// failingStore fails every write.
type failingStore struct {
	store.Transient
}

func (failingStore) Persist(context.Context, store.Record) error {
	return errors.New("disk full")
}

func (failingStore) Purge(context.Context, int64) error {
	return errors.New("permission denied")
}

var fixedNow = time.Unix(1700000000, 0)

func newRegistry(t *testing.T, st store.Store) (*Registry, *recorder) {
	t.Helper()
	rec := &recorder{}
	return New(Config{
		Store:    st,
		Notifier: rec,
		Now:      func() time.Time { return fixedNow },
	}), rec
}

func TestUpdate_CreateAssignsIDAndDerivesFields(t *testing.T) {
	r, notes := newRegistry(t, nil)
	ctx := context.Background()

	if err := r.Update(ctx, "doc", map[string]any{"title": "x"}, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	obj, err := r.Get("doc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if obj.ID != 1 {
		t.Errorf("ID = %d, want 1", obj.ID)
	}

	want := map[string]any{
		"title":     "x",
		"updated":   float64(1700000000),
		"path":      "",
		"has_data":  false,
		"last_data": float64(0),
	}
	for k, v := range want {
		if obj.Metadata[k] != v {
			t.Errorf("metadata[%s] = %v (%T), want %v", k, obj.Metadata[k], obj.Metadata[k], v)
		}
	}

	got := notes.all()
	if len(got) != 1 || got[0].Key != "doc" || got[0].Operation != bus.OpUpdate {
		t.Errorf("notifications = %+v", got)
	}
}

func TestUpdate_KeepsSuppliedPath(t *testing.T) {
	r, _ := newRegistry(t, nil)
	r.Update(context.Background(), "doc", map[string]any{"path": "/a/b"}, nil)
	meta, _ := r.Metadata("doc")
	if meta["path"] != "/a/b" {
		t.Errorf("path = %v", meta["path"])
	}
}

func TestUpdate_PartialMerge(t *testing.T) {
	r, _ := newRegistry(t, nil)
	ctx := context.Background()

	r.Update(ctx, "k", map[string]any{"v": 1.0}, []byte("data"))
	r.Update(ctx, "k", map[string]any{"v": 2.0}, nil)

	meta, _ := r.Metadata("k")
	if meta["v"] != 2.0 {
		t.Errorf("metadata v = %v, want 2", meta["v"])
	}
	if meta["has_data"] != true {
		t.Errorf("has_data = %v, want true", meta["has_data"])
	}
	data, err := r.Data("k")
	if err != nil || string(data) != "data" {
		t.Errorf("Data = %q, %v", data, err)
	}

	// Payload-only update keeps the metadata.
	r.Update(ctx, "k", nil, []byte("new"))
	meta, _ = r.Metadata("k")
	if meta["v"] != 2.0 {
		t.Errorf("metadata lost on payload update: %v", meta)
	}
	if meta["last_data"] != float64(1700000000) {
		t.Errorf("last_data = %v", meta["last_data"])
	}
}

func TestUpdate_PayloadWithoutMetadataNotAdvertised(t *testing.T) {
	r, notes := newRegistry(t, nil)
	ctx := context.Background()

	if err := r.Update(ctx, "blob", nil, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if len(notes.all()) != 0 {
		t.Errorf("payload-only object broadcast: %+v", notes.all())
	}
	if keys := r.List(); len(keys) != 0 {
		t.Errorf("List = %v, want empty", keys)
	}
	if meta, err := r.Metadata("blob"); err != nil || meta != nil {
		t.Errorf("Metadata = %v, %v; want nil, nil", meta, err)
	}

	r.Update(ctx, "blob", map[string]any{}, nil)
	if keys := r.List(); len(keys) != 1 || keys[0] != "blob" {
		t.Errorf("List = %v, want [blob]", keys)
	}
	if got := notes.all(); len(got) != 1 || got[0].Operation != bus.OpUpdate {
		t.Errorf("notifications = %+v", got)
	}
	meta, _ := r.Metadata("blob")
	if meta["has_data"] != true {
		t.Errorf("has_data = %v", meta["has_data"])
	}
}

func TestUpdate_EmptyPayloadIsPresent(t *testing.T) {
	r, _ := newRegistry(t, nil)
	r.Update(context.Background(), "k", map[string]any{}, []byte{})

	data, err := r.Data("k")
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Data = %q", data)
	}
}

func TestDelete(t *testing.T) {
	r, notes := newRegistry(t, nil)
	ctx := context.Background()

	r.Update(ctx, "k", map[string]any{"a": 1.0}, []byte("x"))
	if err := r.Update(ctx, "k", nil, nil); err != nil {
		t.Fatalf("delete via Update: %v", err)
	}

	if _, err := r.Get("k"); !hubErrors.IsNotFound(err) {
		t.Errorf("Get after delete = %v, want not found", err)
	}
	if len(r.List()) != 0 {
		t.Errorf("List after delete = %v", r.List())
	}

	// Deleting again is a no-op that still notifies.
	if err := r.Delete(ctx, "k"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	got := notes.all()
	if len(got) != 3 {
		t.Fatalf("notifications = %+v", got)
	}
	for _, n := range got[1:] {
		if n.Operation != bus.OpDelete || n.Key != "k" {
			t.Errorf("notification = %+v, want delete k", n)
		}
	}
}

func TestIDsNeverReused(t *testing.T) {
	r, _ := newRegistry(t, nil)
	ctx := context.Background()

	r.Update(ctx, "a", map[string]any{}, nil)
	r.Delete(ctx, "a")
	r.Update(ctx, "a", map[string]any{}, nil)

	obj, _ := r.Get("a")
	if obj.ID != 2 {
		t.Errorf("ID after re-create = %d, want 2", obj.ID)
	}
}

func TestReads_UnknownKey(t *testing.T) {
	r, _ := newRegistry(t, nil)

	tests := []struct {
		name string
		read func() error
	}{
		{"Get", func() error { _, err := r.Get("nope"); return err }},
		{"Metadata", func() error { _, err := r.Metadata("nope"); return err }},
		{"Data", func() error { _, err := r.Data("nope"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read()
			if !hubErrors.IsNotFound(err) {
				t.Errorf("err = %v, want not found", err)
			}
		})
	}
}

func TestReads_ReturnCopies(t *testing.T) {
	r, _ := newRegistry(t, nil)
	input := map[string]any{"nested": map[string]any{"x": 1.0}}
	r.Update(context.Background(), "k", input, []byte("abc"))

	// Mutating the caller's map does not reach the record.
	input["nested"].(map[string]any)["x"] = 99.0

	meta, _ := r.Metadata("k")
	meta["nested"].(map[string]any)["x"] = 42.0
	data, _ := r.Data("k")
	data[0] = 'z'

	meta2, _ := r.Metadata("k")
	if meta2["nested"].(map[string]any)["x"] != 1.0 {
		t.Errorf("record metadata aliased: %v", meta2)
	}
	data2, _ := r.Data("k")
	if string(data2) != "abc" {
		t.Errorf("record payload aliased: %q", data2)
	}
}

func TestReadOnly(t *testing.T) {
	notes := &recorder{}
	r := New(Config{Notifier: notes, ReadOnly: true})
	ctx := context.Background()

	tests := []struct {
		name string
		op   func() error
	}{
		{"publish", func() error { return r.Update(ctx, "k", map[string]any{}, nil) }},
		{"put", func() error { return r.Update(ctx, "k", nil, []byte("x")) }},
		{"delete", func() error { return r.Update(ctx, "k", nil, nil) }},
		{"Delete", func() error { return r.Delete(ctx, "k") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			if !hubErrors.IsReadOnly(err) {
				t.Errorf("err = %v, want read-only", err)
			}
			if hubErrors.IsNotFound(err) {
				t.Error("read-only rejection reported as not found")
			}
		})
	}
	if r.Len() != 0 || len(notes.all()) != 0 {
		t.Error("read-only registry changed state")
	}
}

func TestUpdate_EmptyKey(t *testing.T) {
	r, _ := newRegistry(t, nil)
	err := r.Update(context.Background(), "", map[string]any{}, nil)
	if !hubErrors.Is(err, hubErrors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestUpdate_PersistFailure(t *testing.T) {
	var logBuf bytes.Buffer
	log := logging.New()
	log.SetOutput(&logBuf)

	notes := &recorder{}
	r := New(Config{Store: failingStore{}, Notifier: notes, Logger: log})
	ctx := context.Background()

	err := r.Update(ctx, "k", map[string]any{}, []byte("x"))
	if err == nil {
		t.Fatal("expected persist error")
	}
	var hubErr *hubErrors.Error
	if !errors.As(err, &hubErr) || hubErr.Key() != "k" {
		t.Errorf("err = %v, want error carrying key", err)
	}
	if _, getErr := r.Get("k"); getErr != nil {
		t.Errorf("in-memory state lost: %v", getErr)
	}
	if len(notes.all()) != 1 {
		t.Errorf("notifications = %d, want 1", len(notes.all()))
	}

	if err := r.Delete(ctx, "k"); err == nil {
		t.Error("expected purge error")
	}
	if _, getErr := r.Get("k"); !hubErrors.IsNotFound(getErr) {
		t.Error("record should be removed even when purge fails")
	}
}

func TestPersistence_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	fs, err := store.NewFileStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	r1, _ := newRegistry(t, fs)
	r1.Update(ctx, "meta-only", map[string]any{"n": 1.0, "tags": []any{"a", "b"}}, nil)
	r1.Update(ctx, "both", map[string]any{"n": 2.0}, []byte{0, 1, 2, 255})
	r1.Update(ctx, "gone", map[string]any{}, nil)
	r1.Delete(ctx, "gone")

	want := map[string]*Object{}
	for _, k := range []string{"meta-only", "both"} {
		obj, _ := r1.Get(k)
		want[k] = obj
	}

	r2, _ := newRegistry(t, fs)
	n, err := r2.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 2 {
		t.Errorf("loaded %d records, want 2", n)
	}

	for k, w := range want {
		got, err := r2.Get(k)
		if err != nil {
			t.Fatalf("Get(%s): %v", k, err)
		}
		if got.ID != w.ID || got.HasData != w.HasData || got.LastData != w.LastData {
			t.Errorf("%s: got %+v, want %+v", k, got, w)
		}
		if fmt.Sprint(got.Metadata) != fmt.Sprint(w.Metadata) {
			t.Errorf("%s metadata: got %v, want %v", k, got.Metadata, w.Metadata)
		}
	}

	data, err := r2.Data("both")
	if err != nil || !bytes.Equal(data, []byte{0, 1, 2, 255}) {
		t.Errorf("payload = %v, %v", data, err)
	}
	if _, err := r2.Data("meta-only"); !hubErrors.IsNotFound(err) {
		t.Errorf("absent payload should stay absent, got %v", err)
	}
	if _, err := r2.Get("gone"); !hubErrors.IsNotFound(err) {
		t.Error("deleted object came back")
	}

	// The id counter continues above every recovered id.
	r2.Update(ctx, "fresh", map[string]any{}, nil)
	fresh, _ := r2.Get("fresh")
	if fresh.ID <= want["both"].ID {
		t.Errorf("fresh ID = %d, want above %d", fresh.ID, want["both"].ID)
	}
}

func TestLoad_DuplicateKeyStaysDeleted(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	fs, err := store.NewFileStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	fs.Persist(ctx, store.Record{ID: 3, Key: "k", Metadata: map[string]any{"v": "old"}})
	fs.Persist(ctx, store.Record{ID: 7, Key: "k", Metadata: map[string]any{"v": "new"}})

	r1, _ := newRegistry(t, fs)
	if _, err := r1.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	obj, err := r1.Get("k")
	if err != nil || obj.ID != 7 || obj.Metadata["v"] != "new" {
		t.Fatalf("Get(k) = %+v, %v; want id 7 with v=new", obj, err)
	}
	if err := r1.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	r2, _ := newRegistry(t, fs)
	if _, err := r2.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if obj, err := r2.Get("k"); !hubErrors.IsNotFound(err) {
		t.Errorf("deleted key came back after restart: %+v", obj)
	}
	if keys := r2.List(); len(keys) != 0 {
		t.Errorf("List = %v, want empty", keys)
	}
}

func TestConcurrentUpdates_DistinctKeys(t *testing.T) {
	r, _ := newRegistry(t, store.NewTransient())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			for j := 0; j < 50; j++ {
				r.Update(ctx, key, map[string]any{"j": float64(j)}, []byte(key))
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent updates deadlocked")
	}

	if got := len(r.List()); got != 20 {
		t.Errorf("List = %d keys, want 20", got)
	}
	ids := make(map[int64]bool)
	for i := 0; i < 20; i++ {
		obj, _ := r.Get(fmt.Sprintf("k%d", i))
		if ids[obj.ID] {
			t.Errorf("duplicate id %d", obj.ID)
		}
		ids[obj.ID] = true
		if obj.Metadata["j"] != 49.0 {
			t.Errorf("k%d final j = %v", i, obj.Metadata["j"])
		}
	}
}

// serialStore fails the test if two writes for one id overlap.
type serialStore struct {
	store.Transient
	mu     sync.Mutex
	active map[int64]bool
	t      *testing.T
}

func (s *serialStore) Persist(_ context.Context, rec store.Record) error {
	s.mu.Lock()
	if s.active[rec.ID] {
		s.t.Errorf("overlapping writes for id %d", rec.ID)
	}
	s.active[rec.ID] = true
	s.mu.Unlock()

	time.Sleep(time.Millisecond)

	s.mu.Lock()
	s.active[rec.ID] = false
	s.mu.Unlock()
	return nil
}

func TestConcurrentUpdates_SameKeySerialized(t *testing.T) {
	st := &serialStore{active: make(map[int64]bool), t: t}
	r, notes := newRegistry(t, st)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Update(ctx, "shared", map[string]any{"writer": float64(i)}, []byte{byte(i)})
		}(i)
	}
	wg.Wait()

	obj, _ := r.Get("shared")
	data, _ := r.Data("shared")
	// Metadata and payload come from the same writer.
	if obj.Metadata["writer"] != float64(data[0]) {
		t.Errorf("interleaved write: writer=%v data=%v", obj.Metadata["writer"], data)
	}
	if len(notes.all()) != 10 {
		t.Errorf("notifications = %d, want 10", len(notes.all()))
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestConcurrentUpdateAndDelete(t *testing.T) {
	r, _ := newRegistry(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Update(ctx, "k", map[string]any{}, nil)
		}()
		go func() {
			defer wg.Done()
			r.Delete(ctx, "k")
		}()
	}
	wg.Wait()

	// Whatever the interleaving, the map and the record agree.
	if obj, err := r.Get("k"); err == nil {
		if obj.Key != "k" {
			t.Errorf("Key = %q", obj.Key)
		}
		if len(r.List()) != 1 {
			t.Errorf("List = %v", r.List())
		}
	} else if len(r.List()) != 0 {
		t.Errorf("List = %v after delete won", r.List())
	}
}
