package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vinayprograms/objecthub/errors"
	"github.com/vinayprograms/objecthub/logging"
)

const (
	metaExt = "meta"
	dataExt = "data"
)

// FileStore persists records under a root directory.
type FileStore struct {
	root string
	log  *logging.Logger
}

// metaFile is the on-disk layout of N.meta.
type metaFile struct {
	Metadata map[string]any `json:"metadata"`
	LastData float64        `json:"last_data"`
	Key      string         `json:"key"`
	ID       int64          `json:"id"`
}

// NewFileStore creates the root directory if needed and returns a store
// rooted there.
func NewFileStore(root string, log *logging.Logger) (*FileStore, error) {
	if root == "" {
		return nil, errors.InvalidInput("persistence root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating persistence root %s", root)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &FileStore{root: root, log: log}, nil
}

// Root returns the persistence directory.
func (s *FileStore) Root() string {
	return s.root
}

// Persistent reports true.
func (s *FileStore) Persistent() bool { return true }

func (s *FileStore) path(id int64, ext string) string {
	return filepath.Join(s.root, fmt.Sprintf("%d.%s", id, ext))
}

// parseName splits "N.meta" / "N.data" into id and extension.
func parseName(name string) (int64, string, bool) {
	base, ext, found := strings.Cut(name, ".")
	if !found || strings.Contains(ext, ".") {
		return 0, "", false
	}
	if ext != metaExt && ext != dataExt {
		return 0, "", false
	}
	id, err := strconv.ParseInt(base, 10, 64)
	if err != nil || id < 0 {
		return 0, "", false
	}
	return id, ext, true
}

// Load reads every N.meta under the root together with its optional N.data.
func (s *FileStore) Load(ctx context.Context) (*LoadResult, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", s.root)
	}

	result := &LoadResult{}
	metas := make(map[int64]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ext, ok := parseName(entry.Name())
		if !ok {
			continue
		}
		if id > result.MaxID {
			result.MaxID = id
		}
		if ext == metaExt {
			metas[id] = true
		} else if _, seen := metas[id]; !seen {
			metas[id] = false
		}
	}

	ids := make([]int64, 0, len(metas))
	for id := range metas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "loading records")
		}
		if !metas[id] {
			s.log.RecordSkipped(filepath.Base(s.path(id, dataExt)), fmt.Errorf("payload without metadata"))
			continue
		}
		rec, err := s.loadOne(id)
		if err != nil {
			s.log.RecordSkipped(filepath.Base(s.path(id, metaExt)), err)
			continue
		}
		result.Records = append(result.Records, *rec)
	}

	return result, nil
}

func (s *FileStore) loadOne(id int64) (*Record, error) {
	raw, err := os.ReadFile(s.path(id, metaExt))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCorruption, "reading metadata")
	}

	var mf metaFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCorruption, "decoding metadata")
	}
	if mf.Key == "" {
		return nil, errors.Corruption("metadata has no key")
	}

	rec := &Record{
		ID:       id,
		Key:      mf.Key,
		Metadata: mf.Metadata,
		LastData: mf.LastData,
	}

	data, err := os.ReadFile(s.path(id, dataExt))
	switch {
	case err == nil:
		rec.Data = data
	case !os.IsNotExist(err):
		s.log.Warn("payload unreadable, treating as absent", map[string]interface{}{
			"id":    id,
			"error": err.Error(),
		})
	}

	return rec, nil
}

// Persist writes the payload (when dirty) and then the metadata.
func (s *FileStore) Persist(_ context.Context, rec Record) error {
	if rec.Dirty && rec.Data != nil {
		if err := writeAtomic(s.path(rec.ID, dataExt), rec.Data); err != nil {
			return errors.Wrap(err, "writing payload", errors.WithKey(rec.Key))
		}
	}

	raw, err := json.Marshal(metaFile{
		Metadata: rec.Metadata,
		LastData: rec.LastData,
		Key:      rec.Key,
		ID:       rec.ID,
	})
	if err != nil {
		return errors.Wrap(err, "encoding metadata", errors.WithKey(rec.Key))
	}
	if err := writeAtomic(s.path(rec.ID, metaExt), raw); err != nil {
		return errors.Wrap(err, "writing metadata", errors.WithKey(rec.Key))
	}
	return nil
}

// Purge removes N.meta and N.data.
func (s *FileStore) Purge(_ context.Context, id int64) error {
	var errs []error
	for _, ext := range []string{metaExt, dataExt} {
		if err := os.Remove(s.path(id, ext)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrapf(errors.Join(errs...), "purging object %d", id)
	}
	return nil
}

// writeAtomic replaces path with data via a synced temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
