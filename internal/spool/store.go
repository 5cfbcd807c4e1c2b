// Package spool is the durable on-disk queue between test runs and the
// delivery worker. Every event is one JSON file in the spool directory;
// producers enqueue, the delivery worker drains, claims and deletes.
package spool

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/e2elog/internal/event"
)

// ErrAlreadyClaimed is returned by Claim when the file is gone, usually
// because another delivery pass claimed it first.
var ErrAlreadyClaimed = errors.New("spool file already claimed")

// maxNameCollisions bounds the suffix search when several events are
// enqueued within the same microsecond.
const maxNameCollisions = 1000

// timestampLayout is ISO-8601 local time with microseconds.
const timestampLayout = "2006-01-02T15:04:05.000000"

// Store is a spool directory.
type Store struct {
	dir string
	now func() time.Time
}

// Open creates the spool directory layout if missing and returns a Store.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("spool directory is required")
	}
	if err := ensureDirs(dir); err != nil {
		return nil, err
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the spool directory.
func (s *Store) Dir() string { return s.dir }

// ProcessingDir returns the directory claimed files are moved into.
func (s *Store) ProcessingDir() string {
	return filepath.Join(s.dir, processingDirName)
}

// SafeTimestamp formats t as ISO-8601 with ':' and '.' replaced by '_',
// usable in file names on every platform.
func SafeTimestamp(t time.Time) string {
	return strings.NewReplacer(":", "_", ".", "_").Replace(t.Format(timestampLayout))
}

// FileName returns the spool file name for t. seq > 0 disambiguates
// events enqueued within the same microsecond.
func FileName(t time.Time, seq int) string {
	name := SafeTimestamp(t)
	if seq > 0 {
		name += "_" + strconv.Itoa(seq)
	}
	return name + ".json"
}

// Enqueue writes a new record and returns the path of its spool file.
// Every failure is returned; nothing is dropped silently.
func (s *Store) Enqueue(level event.Level, msg string, extra map[string]any) (string, error) {
	rec, err := event.New(level, msg, extra)
	if err != nil {
		return "", err
	}
	return s.Put(rec)
}

// Put writes rec to the spool. The content is written and synced to a
// temporary file first, then linked to its final name, so a reader never
// observes a partial file.
func (s *Store) Put(rec *event.Record) (string, error) {
	if err := event.Validate(rec); err != nil {
		return "", err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".enqueue-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp: %w", err)
	}

	created := rec.Created
	if created.IsZero() {
		created = s.now()
	}
	for seq := 0; seq < maxNameCollisions; seq++ {
		final := filepath.Join(s.dir, FileName(created, seq))
		placed, err := place(tmpPath, final)
		if err != nil {
			return "", fmt.Errorf("place spool file: %w", err)
		}
		if placed {
			return final, nil
		}
	}
	return "", fmt.Errorf("place spool file: %d name collisions at %s", maxNameCollisions, SafeTimestamp(created))
}

// place moves tmp to dst unless dst already exists. It hard-links so an
// existing file is never replaced, and falls back to rename on filesystems
// without hard links.
func place(tmp, dst string) (bool, error) {
	err := os.Link(tmp, dst)
	if err == nil {
		return true, nil
	}
	if os.IsExist(err) {
		return false, nil
	}
	if _, statErr := os.Lstat(dst); statErr == nil {
		return false, nil
	}
	if err := os.Rename(tmp, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Item is one drained spool file.
type Item struct {
	Path   string
	Name   string
	Record *event.Record
}

// Drain lists the spool once when iteration starts and then reads the files
// lazily, in name order. A file that cannot be read or parsed is yielded with
// its error and left in place. Files removed after the listing was taken are
// skipped.
func (s *Store) Drain() iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		names, err := s.list()
		if err != nil {
			yield(Item{}, fmt.Errorf("list spool: %w", err))
			return
		}
		for _, name := range names {
			item := Item{Path: filepath.Join(s.dir, name), Name: name}
			rec, err := readRecord(item.Path)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			item.Record = rec
			if !yield(item, err) {
				return
			}
		}
	}
}

// Len returns the number of spool files currently present.
func (s *Store) Len() (int, error) {
	names, err := s.list()
	return len(names), err
}

func (s *Store) list() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !isSpoolFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func readRecord(path string) (*event.Record, error) {
	// Reject symlinks so a link into the spool cannot inject arbitrary files.
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("rejected symlink: %s", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec event.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if err := event.Validate(&rec); err != nil {
		return nil, fmt.Errorf("validate %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

// Claimed is a spool file moved into the processing directory.
type Claimed struct {
	store *Store
	Name  string
	Path  string
}

// Claim moves the item's file into the processing directory. Rename is
// atomic, so of two concurrent passes only one can claim a given file.
func (s *Store) Claim(item Item) (*Claimed, error) {
	dst := filepath.Join(s.ProcessingDir(), item.Name)
	if err := os.Rename(item.Path, dst); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("claim %s: %w", item.Name, err)
	}
	return &Claimed{store: s, Name: item.Name, Path: dst}, nil
}

// Release moves the claimed file back into the spool for a later pass.
func (c *Claimed) Release() error {
	if err := os.Rename(c.Path, filepath.Join(c.store.dir, c.Name)); err != nil {
		return fmt.Errorf("release %s: %w", c.Name, err)
	}
	return nil
}

// Done removes the claimed file after a successful hand-off.
func (c *Claimed) Done() error {
	if err := os.Remove(c.Path); err != nil {
		return fmt.Errorf("remove %s: %w", c.Name, err)
	}
	return nil
}

// RecoverOrphans moves files left in the processing directory back into
// the spool. These were claimed by a pass that crashed before finishing.
// Callers must hold the spool lock.
func (s *Store) RecoverOrphans() (int, error) {
	entries, err := os.ReadDir(s.ProcessingDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	recovered := 0
	for _, e := range entries {
		if e.IsDir() || !isSpoolFile(e.Name()) {
			continue
		}
		src := filepath.Join(s.ProcessingDir(), e.Name())
		if err := MoveFile(src, filepath.Join(s.dir, e.Name())); err != nil {
			return recovered, fmt.Errorf("recover %s: %w", e.Name(), err)
		}
		recovered++
	}
	return recovered, nil
}
