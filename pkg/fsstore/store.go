// Package fsstore implements a kv.Store that keeps one file per key under a
// root directory.
//
// Writes go to a temporary file in the root and are renamed over the entry
// file, so readers and crashes only ever see a complete old or new value.
// Nothing is cached and no file handles are held between calls.
package fsstore

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-hclog"
	"go.uber.org/multierr"

	"github.com/heysubinoy/kvlite/pkg/kv"
)

// Store is a directory-backed key-value store. It is safe for concurrent use,
// including by several processes sharing the same root.
type Store struct {
	root        string
	logger      hclog.Logger
	clock       clock.Clock
	sync        bool
	compressMin int
	orphanAge   time.Duration
	fileMode    os.FileMode

	// rename is swapped out by tests to simulate a crash before the commit.
	rename func(oldpath, newpath string) error
}

// Compile-time check to ensure Store implements kv.Store.
var _ kv.Store = (*Store)(nil)

// Open opens the store rooted at root, creating the directory if needed.
// Temporary files left behind by crashed writers are removed once they are
// older than the orphan age.
func Open(root string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &kv.IOError{Op: "open", Err: err}
	}

	s := &Store{
		root:      abs,
		logger:    hclog.NewNullLogger(),
		clock:     clock.New(),
		sync:      true,
		orphanAge: DefaultOrphanAge,
		fileMode:  0o644,
		rename:    os.Rename,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, &kv.IOError{Op: "open", Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, &kv.IOError{Op: "open", Err: err}
	}
	if !info.IsDir() {
		return nil, &kv.IOError{Op: "open", Err: fmt.Errorf("%s is not a directory", abs)}
	}

	if s.orphanAge >= 0 {
		n, err := s.Sweep(s.orphanAge)
		if err != nil {
			s.logger.Warn("failed to remove orphaned temp files", "root", abs, "error", err)
		} else if n > 0 {
			s.logger.Info("removed orphaned temp files", "root", abs, "count", n)
		}
	}
	return s, nil
}

// Root returns the absolute path of the store's directory.
func (s *Store) Root() string {
	return s.root
}

// Set stores value under key, atomically replacing any previous value.
func (s *Store) Set(key, value []byte) error {
	name, err := fileName(key)
	if err != nil {
		return err
	}
	target := filepath.Join(s.root, name)

	if isHashedName(name) {
		if err := s.checkOwner(target, key); err != nil {
			return ioErr("set", key, err)
		}
	}

	if err := s.writeAtomic(target, encodeRecord(key, value, s.compressMin)); err != nil {
		return ioErr("set", key, err)
	}
	s.logger.Debug("set", "key", quote(key), "file", name, "size", len(value))
	return nil
}

// Get returns the value stored under key. A missing key reports found=false
// with a nil error.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	name, err := fileName(key)
	if err != nil {
		return nil, false, err
	}

	rec, found, err := readRecord(filepath.Join(s.root, name))
	if err != nil {
		return nil, false, ioErr("get", key, err)
	}
	if !found {
		return nil, false, nil
	}
	if !bytes.Equal(rec.key, key) {
		return nil, false, ioErr("get", key, kv.ErrKeyCollision)
	}
	return rec.value, true, nil
}

// Delete removes key. Deleting a missing key succeeds.
func (s *Store) Delete(key []byte) error {
	name, err := fileName(key)
	if err != nil {
		return err
	}
	target := filepath.Join(s.root, name)

	if isHashedName(name) {
		if err := s.checkOwner(target, key); err != nil {
			return ioErr("del", key, err)
		}
	}

	if err := os.Remove(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return ioErr("del", key, err)
	}
	if s.sync {
		if err := syncDir(s.root); err != nil {
			return ioErr("del", key, err)
		}
	}
	s.logger.Debug("del", "key", quote(key), "file", name)
	return nil
}

// Has reports whether key is present.
func (s *Store) Has(key []byte) (bool, error) {
	name, err := fileName(key)
	if err != nil {
		return false, err
	}
	target := filepath.Join(s.root, name)

	if isHashedName(name) {
		rec, found, err := readRecord(target)
		if err != nil {
			return false, ioErr("has", key, err)
		}
		return found && bytes.Equal(rec.key, key), nil
	}

	info, err := os.Lstat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, ioErr("has", key, err)
	}
	if !info.Mode().IsRegular() {
		return false, ioErr("has", key, fmt.Errorf("%s: not a regular file", target))
	}
	return true, nil
}

// Keys lists every key in the store in byte order. Entries removed while the
// directory is being read are skipped.
func (s *Store) Keys() ([][]byte, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, &kv.IOError{Op: "keys", Err: err}
	}

	var keys [][]byte
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, tempPrefix) {
			continue
		}

		if key, ok := keyFromName(name); ok {
			keys = append(keys, key)
			continue
		}
		if !isHashedName(name) {
			continue
		}

		rec, found, err := readRecord(filepath.Join(s.root, name))
		if err != nil {
			return nil, &kv.IOError{Op: "keys", Err: err}
		}
		if !found {
			continue
		}
		if want, err := fileName(rec.key); err != nil || want != name {
			return nil, &kv.IOError{Op: "keys", Err: fmt.Errorf("%s: %w", name, kv.ErrKeyCollision)}
		}
		keys = append(keys, bytes.Clone(rec.key))
	}

	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	return keys, nil
}

// Sweep removes temporary files at least olderThan old and returns how many
// were removed. Pass an age longer than any write can take when other
// processes may be writing to the same root.
func (s *Store) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, &kv.IOError{Op: "sweep", Err: err}
	}

	cutoff := s.clock.Now().Add(-olderThan)
	removed := 0
	var errs error
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, tempPrefix) || !e.Type().IsRegular() {
			continue
		}

		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(s.root, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
		s.logger.Debug("removed orphaned temp file", "file", name, "modified", info.ModTime())
	}

	if errs != nil {
		return removed, &kv.IOError{Op: "sweep", Err: errs}
	}
	return removed, nil
}

// writeAtomic writes data to a temporary file in the root and renames it onto
// target. On failure the temporary file is removed and target is untouched.
func (s *Store) writeAtomic(target string, data []byte) (err error) {
	f, err := os.CreateTemp(s.root, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				err = multierr.Append(err, rmErr)
			}
		}
	}()

	if _, err = f.Write(data); err != nil {
		return multierr.Append(err, f.Close())
	}
	if err = f.Chmod(s.fileMode); err != nil {
		return multierr.Append(err, f.Close())
	}
	if s.sync {
		if err = f.Sync(); err != nil {
			return multierr.Append(err, f.Close())
		}
	}
	if err = f.Close(); err != nil {
		return err
	}

	if err = s.rename(tmp, target); err != nil {
		return err
	}
	if s.sync {
		return syncDir(s.root)
	}
	return nil
}

// checkOwner fails when target holds a readable record for a different key.
// Unreadable records are left for the caller to overwrite.
func (s *Store) checkOwner(target string, key []byte) error {
	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		s.logger.Warn("overwriting unreadable record", "file", filepath.Base(target), "error", err)
		return nil
	}
	if !bytes.Equal(rec.key, key) {
		return kv.ErrKeyCollision
	}
	return nil
}

// readRecord loads the record at path. A missing file is found=false.
func readRecord(path string) (record, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return record{}, false, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return rec, true, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	return multierr.Append(d.Sync(), d.Close())
}

func ioErr(op string, key []byte, err error) error {
	return &kv.IOError{Op: op, Key: bytes.Clone(key), Err: err}
}

func quote(key []byte) string {
	return strconv.Quote(string(key))
}
