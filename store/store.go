// Package store persists object records as per-id file pairs.
//
// Each object with id N owns two files under the root directory:
//
//	N.meta  JSON {metadata, last_data, key, id}
//	N.data  raw payload bytes, present only once a payload was written
//
// Both files are replaced atomically (temp file + rename) and the payload is
// written before the metadata, so a crash can leave a stale payload but never
// metadata that refers to a payload that was never written.
package store

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Record is the durable form of an object.
type Record struct {
	// ID is the immutable object id; it names the files.
	ID int64

	// Key is the caller-chosen object key.
	Key string

	// Metadata is the object's metadata document; nil means absent.
	Metadata map[string]any

	// LastData is the time of the most recent payload write in seconds
	// since the Unix epoch; zero when no payload was ever written.
	LastData float64

	// Data is the payload; nil means absent.
	Data []byte

	// Dirty marks a payload that must be written by Persist.
	Dirty bool
}

// LoadResult is what a store recovers at startup.
type LoadResult struct {
	// Records are the recovered objects, ordered by id.
	Records []Record

	// MaxID is the highest numeric id seen among the stored files,
	// including ones that failed to load. Fresh ids must exceed it.
	MaxID int64
}

// Store is the persistence boundary of the object registry.
type Store interface {
	// Load enumerates the stored records. Unreadable records are skipped.
	Load(ctx context.Context) (*LoadResult, error)

	// Persist writes the record's metadata file, and its payload file when
	// the record is dirty.
	Persist(ctx context.Context, rec Record) error

	// Purge removes both files of an object. Missing files are not an error.
	Purge(ctx context.Context, id int64) error

	// Persistent reports whether records survive a restart.
	Persistent() bool
}

// Transient is a Store that keeps nothing; all state lives in memory only.
type Transient struct{}

// NewTransient creates a transient store.
func NewTransient() Transient {
	return Transient{}
}

// Load returns no records.
func (Transient) Load(context.Context) (*LoadResult, error) {
	return &LoadResult{}, nil
}

// Persist does nothing.
func (Transient) Persist(context.Context, Record) error { return nil }

// Purge does nothing.
func (Transient) Purge(context.Context, int64) error { return nil }

// Persistent reports false.
func (Transient) Persistent() bool { return false }
