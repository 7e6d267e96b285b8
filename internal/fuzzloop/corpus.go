// Package fuzzloop implements C7: corpus seeding, the scheduler, the
// mutation stages, and the evaluation loop that composes every other
// component into the feedback-directed campaign. Construction order and
// the corpus/scheduler split follow the shwoo03 smart-web-fuzzer
// FeedbackLoop/Corpus/InputScheduler shape; engine-chosen corpus and
// crash filenames use github.com/google/uuid the way that module's
// hashed filenames serve the same "one file per test case" contract.
package fuzzloop

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Entry is one corpus-resident test case: its on-disk path (empty for an
// in-memory-only seed that hasn't been persisted) and its raw bytes.
type Entry struct {
	Path string
	Data []byte
}

// Corpus holds the live working set of interesting inputs, persisting new
// entries under its input directory and any objective hits under its
// crashes directory (spec.md §6).
type Corpus struct {
	inputDir   string
	crashesDir string

	mu      sync.Mutex
	entries []*Entry
}

// NewCorpus builds a Corpus backed by the given directories. Both are
// created if missing.
func NewCorpus(inputDir, crashesDir string) (*Corpus, error) {
	if inputDir != "" {
		if err := os.MkdirAll(inputDir, 0o755); err != nil {
			return nil, err
		}
	}
	if crashesDir != "" {
		if err := os.MkdirAll(crashesDir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Corpus{inputDir: inputDir, crashesDir: crashesDir}, nil
}

// Seed loads every file in dir as a raw-bytes test case and adds it to
// the corpus without persisting a duplicate copy (spec.md §4.7's seed
// phase: "for each file in the configured seed directory, read its
// contents and feed to the fuzzer's evaluate-input hook").
func (c *Corpus) Seed(dir string) ([]*Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var seeded []*Entry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, err
		}
		e := &Entry{Path: filepath.Join(dir, f.Name()), Data: data}
		c.mu.Lock()
		c.entries = append(c.entries, e)
		c.mu.Unlock()
		seeded = append(seeded, e)
	}
	return seeded, nil
}

// Add persists data under the input directory with an engine-chosen
// filename and appends it to the live working set.
func (c *Corpus) Add(data []byte) (*Entry, error) {
	e := &Entry{Data: data}
	if c.inputDir != "" {
		name := uuid.NewString()
		path := filepath.Join(c.inputDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, err
		}
		e.Path = path
	}
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
	return e, nil
}

// AddCrash persists data under the crashes directory with an engine-
// chosen filename; crash-directory entries are not added to the live
// scheduling set.
func (c *Corpus) AddCrash(data []byte) (string, error) {
	if c.crashesDir == "" {
		return "", nil
	}
	name := uuid.NewString()
	path := filepath.Join(c.crashesDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Entries returns a snapshot of the live working set.
func (c *Corpus) Entries() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len reports the number of entries in the live working set.
func (c *Corpus) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
