package bus

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/vinayprograms/objecthub/errors"
)

// JournalEntry is one line of a journal file.
type JournalEntry struct {
	Subject   string          `json:"subject"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// JournalMirror appends every broadcast to a file as JSON lines.
type JournalMirror struct {
	file *os.File
	now  func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewJournalMirror opens path for appending, creating it if needed.
func NewJournalMirror(path string) (*JournalMirror, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening journal %s", path)
	}
	return &JournalMirror{file: file, now: time.Now}, nil
}

// Publish appends one entry.
func (j *JournalMirror) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}

	line, err := json.Marshal(JournalEntry{
		Subject:   subject,
		Timestamp: j.now(),
		Data:      data,
	})
	if err != nil {
		return errors.Wrap(err, "encoding journal entry")
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if _, err := j.file.Write(line); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "writing journal")
	}
	return nil
}

// Close syncs and closes the file.
func (j *JournalMirror) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return errors.Join(j.file.Sync(), j.file.Close())
}

// Tee fans every publish out to several mirrors.
type Tee []Mirror

// Publish sends to every mirror and joins their errors.
func (t Tee) Publish(subject string, data []byte) error {
	var errs []error
	for _, m := range t {
		if err := m.Publish(subject, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every mirror.
func (t Tee) Close() error {
	var errs []error
	for _, m := range t {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
