// Package progress journals decided answers. Outcomes are stored as
// append-only JSON lines in a local file, one line per decision, so content
// authors can review which expected words learners struggle with.
package progress

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/voxtutor/internal/evaluation"
	"github.com/MrWong99/voxtutor/pkg/types"
)

// Record is a single outcome entry written to the file store.
type Record struct {
	Timestamp  time.Time           `json:"timestamp"`
	Expected   string              `json:"expected"`
	Word       string              `json:"word,omitempty"`
	Accepted   bool                `json:"accepted"`
	Decision   evaluation.Decision `json:"decision"`
	MatchType  types.MatchType     `json:"match_type,omitempty"`
	Confidence float64             `json:"confidence"`
	Transcript string              `json:"transcript,omitempty"`
}

// FileStore persists outcomes as JSON lines in a local file.
// Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore creates a FileStore that writes to the given path.
// The file is created on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Save appends o to the file.
func (fs *FileStore) Save(o evaluation.Outcome) error {
	record := Record{
		Timestamp:  fs.now().UTC(),
		Expected:   o.Expected,
		Word:       o.Word,
		Accepted:   o.Accepted,
		Decision:   o.Decision,
		MatchType:  o.MatchType,
		Confidence: o.Confidence,
		Transcript: o.Transcript,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("progress: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("progress: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("progress: write: %w", err)
	}
	return nil
}

// Records reads every record back in write order. A missing file yields no
// records. Lines that fail to parse are skipped.
func (fs *FileStore) Records() ([]Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.Open(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("progress: open file: %w", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("progress: read: %w", err)
	}
	return out, nil
}

// Hook returns an outcome hook that saves every outcome and logs failures.
func (fs *FileStore) Hook(log *slog.Logger) func(evaluation.Outcome) {
	return func(o evaluation.Outcome) {
		if err := fs.Save(o); err != nil {
			log.Warn("progress: failed to record outcome", "expected", o.Expected, "err", err)
		}
	}
}
