package fsstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/heysubinoy/kvlite/pkg/kv"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), opts...)
	require.NoError(t, err)
	return s
}

func mustGet(t *testing.T, s *Store, key string) ([]byte, bool) {
	t.Helper()
	v, found, err := s.Get([]byte(key))
	require.NoError(t, err)
	return v, found
}

func tempFiles(t *testing.T, root string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(root, tempPrefix+"*"))
	require.NoError(t, err)
	return matches
}

func TestOpenCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "db")

	s, err := Open(root)
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(s.Root()))
}

func TestOpenRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := Open(path)
	var ioErr *kv.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "open", ioErr.Op)
}

func TestScenario(t *testing.T) {
	s := openTestStore(t)

	_, found := mustGet(t, s, "missing")
	assert.False(t, found)

	require.NoError(t, s.Set([]byte("a"), []byte("1")))
	v, found := mustGet(t, s, "a")
	require.True(t, found)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, s.Set([]byte("a"), []byte("2")))
	v, found = mustGet(t, s, "a")
	require.True(t, found)
	assert.Equal(t, []byte("2"), v)

	require.NoError(t, s.Delete([]byte("a")))
	_, found = mustGet(t, s, "a")
	assert.False(t, found)

	require.NoError(t, s.Delete([]byte("a")))

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRoundTrip(t *testing.T) {
	s := openTestStore(t, WithCompression(32))

	tests := []struct {
		name  string
		key   []byte
		value []byte
	}{
		{name: "text", key: []byte("hello"), value: []byte("world")},
		{name: "empty value", key: []byte("empty"), value: []byte{}},
		{name: "binary key", key: []byte{0, '/', 0xff}, value: []byte{0, 0, 0}},
		{name: "path-like key", key: []byte("../../etc/passwd"), value: []byte("nope")},
		{name: "long key", key: bytes.Repeat([]byte("long"), 100), value: []byte("hashed")},
		{name: "compressible value", key: []byte("big"), value: bytes.Repeat([]byte("0123"), 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, s.Set(tt.key, tt.value))

			v, found, err := s.Get(tt.key)
			require.NoError(t, err)
			require.True(t, found)
			assert.True(t, bytes.Equal(tt.value, v), "got %q", v)

			has, err := s.Has(tt.key)
			require.NoError(t, err)
			assert.True(t, has)
		})
	}

	// Nothing escaped the root.
	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Len(t, entries, len(tests))
}

func TestKeyIsolation(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set([]byte("k1"), []byte("v1")))
	require.NoError(t, s.Set([]byte("k2"), []byte("v2")))
	require.NoError(t, s.Set([]byte("K1"), []byte("upper")))

	v, _ := mustGet(t, s, "k1")
	assert.Equal(t, []byte("v1"), v)
	v, _ = mustGet(t, s, "k2")
	assert.Equal(t, []byte("v2"), v)
	v, _ = mustGet(t, s, "K1")
	assert.Equal(t, []byte("upper"), v)

	require.NoError(t, s.Delete([]byte("k1")))
	_, found := mustGet(t, s, "k1")
	assert.False(t, found)
	v, found = mustGet(t, s, "k2")
	assert.True(t, found)
	assert.Equal(t, []byte("v2"), v)
}

func TestCallerBuffersAreNotRetained(t *testing.T) {
	s := openTestStore(t)

	key := []byte("key")
	value := []byte("value")
	require.NoError(t, s.Set(key, value))
	value[0] = 'X'

	v, _ := mustGet(t, s, "key")
	assert.Equal(t, []byte("value"), v)

	v[0] = 'Y'
	again, _ := mustGet(t, s, "key")
	assert.Equal(t, []byte("value"), again)
}

func TestInvalidKey(t *testing.T) {
	s := openTestStore(t)

	require.ErrorIs(t, s.Set(nil, []byte("v")), kv.ErrInvalidKey)
	_, _, err := s.Get([]byte{})
	require.ErrorIs(t, err, kv.ErrInvalidKey)
	require.ErrorIs(t, s.Delete(nil), kv.ErrInvalidKey)
	_, err = s.Has(nil)
	require.ErrorIs(t, err, kv.ErrInvalidKey)
}

func TestInterruptedSetKeepsPreviousValue(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set([]byte("a"), []byte("old")))

	crash := errors.New("power loss")
	s.rename = func(string, string) error { return crash }

	err := s.Set([]byte("a"), []byte("new value that never lands"))
	var ioErr *kv.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "set", ioErr.Op)
	assert.ErrorIs(t, err, crash)

	err = s.Set([]byte("b"), []byte("first"))
	require.ErrorIs(t, err, crash)

	v, found := mustGet(t, s, "a")
	require.True(t, found)
	assert.Equal(t, []byte("old"), v)
	_, found = mustGet(t, s, "b")
	assert.False(t, found)

	assert.Empty(t, tempFiles(t, s.Root()))
}

func TestOrphanedTempFileIsInvisible(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, s.Set([]byte("a"), []byte("old")))

	// A writer that died mid-write leaves a partial record behind.
	partial := encodeRecord([]byte("a"), []byte("new"), 0)
	orphan := filepath.Join(root, tempPrefix+"12345")
	require.NoError(t, os.WriteFile(orphan, partial[:len(partial)/2], 0o600))

	v, found := mustGet(t, s, "a")
	require.True(t, found)
	assert.Equal(t, []byte("old"), v)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a")}, keys)

	// Too young to be swept on reopen.
	_, err = Open(root)
	require.NoError(t, err)
	assert.Len(t, tempFiles(t, root), 1)

	mock := clock.NewMock()
	mock.Set(time.Now().Add(DefaultOrphanAge + time.Minute))
	_, err = Open(root, WithClock(mock))
	require.NoError(t, err)
	assert.Empty(t, tempFiles(t, root))
}

func TestSweep(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Now())
	s := openTestStore(t, WithClock(mock), WithOrphanAge(-1))

	require.NoError(t, s.Set([]byte("live"), []byte("v")))
	for i := 0; i < 3; i++ {
		path := filepath.Join(s.Root(), fmt.Sprintf("%s%d", tempPrefix, i))
		require.NoError(t, os.WriteFile(path, []byte("junk"), 0o600))
	}

	n, err := s.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	mock.Add(2 * time.Hour)
	n, err = s.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, tempFiles(t, s.Root()))

	v, found := mustGet(t, s, "live")
	require.True(t, found)
	assert.Equal(t, []byte("v"), v)
}

func TestKeys(t *testing.T) {
	s := openTestStore(t)

	long := bytes.Repeat([]byte("z"), 300)
	for _, k := range [][]byte{[]byte("b"), long, []byte("a"), {0}, []byte("c")} {
		require.NoError(t, s.Set(k, []byte("v")))
	}
	require.NoError(t, s.Delete([]byte("c")))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "README"), []byte("not ours"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "kdir"), 0o755))

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0}, []byte("a"), []byte("b"), long}, keys)
}

func TestLongKeyCollisionIsDetected(t *testing.T) {
	s := openTestStore(t)

	key := bytes.Repeat([]byte("a"), 200)
	other := bytes.Repeat([]byte("b"), 200)
	name, err := fileName(key)
	require.NoError(t, err)

	// Plant a record for another key under key's file name.
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), name), encodeRecord(other, []byte("theirs"), 0), 0o644))

	_, _, err = s.Get(key)
	require.ErrorIs(t, err, kv.ErrKeyCollision)

	require.ErrorIs(t, s.Set(key, []byte("mine")), kv.ErrKeyCollision)
	require.ErrorIs(t, s.Delete(key), kv.ErrKeyCollision)

	has, err := s.Has(key)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = s.Keys()
	require.ErrorIs(t, err, kv.ErrKeyCollision)
}

func TestCorruptRecordIsAnIOError(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Set([]byte("a"), []byte("value")))

	name, err := fileName([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), name), []byte("garbage"), 0o644))

	_, _, err = s.Get([]byte("a"))
	var ioErr *kv.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "get", ioErr.Op)
	assert.ErrorIs(t, err, kv.ErrCorrupt)

	// A fresh set repairs the entry.
	require.NoError(t, s.Set([]byte("a"), []byte("fixed")))
	v, _ := mustGet(t, s, "a")
	assert.Equal(t, []byte("fixed"), v)
}

func TestPathIsDirectory(t *testing.T) {
	s := openTestStore(t)

	name, err := fileName([]byte("dir"))
	require.NoError(t, err)
	dir := filepath.Join(s.Root(), name)
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "child"), nil, 0o644))

	var ioErr *kv.IOError

	_, _, err = s.Get([]byte("dir"))
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "get", ioErr.Op)

	err = s.Set([]byte("dir"), []byte("v"))
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "set", ioErr.Op)
	assert.Empty(t, tempFiles(t, s.Root()))

	err = s.Delete([]byte("dir"))
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "del", ioErr.Op)

	found, err := s.Has([]byte("dir"))
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "has", ioErr.Op)
	assert.False(t, found)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestReadOnlyRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	s := openTestStore(t)
	require.NoError(t, s.Set([]byte("a"), []byte("v")))

	require.NoError(t, os.Chmod(s.Root(), 0o555))
	t.Cleanup(func() { _ = os.Chmod(s.Root(), 0o755) })

	err := s.Set([]byte("b"), []byte("v"))
	require.ErrorIs(t, err, os.ErrPermission)
	err = s.Delete([]byte("a"))
	require.ErrorIs(t, err, os.ErrPermission)

	v, found := mustGet(t, s, "a")
	require.True(t, found)
	assert.Equal(t, []byte("v"), v)
}

func TestFileMode(t *testing.T) {
	s := openTestStore(t, WithFileMode(0o600))
	require.NoError(t, s.Set([]byte("a"), []byte("v")))

	name, err := fileName([]byte("a"))
	require.NoError(t, err)
	info, err := os.Stat(filepath.Join(s.Root(), name))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestConcurrentWritersNeverExposePartialValues(t *testing.T) {
	s := openTestStore(t, WithSync(false))
	key := []byte("contended")
	const size = 64 << 10

	require.NoError(t, s.Set(key, bytes.Repeat([]byte{'0'}, size)))

	var g errgroup.Group
	for w := 0; w < 4; w++ {
		fill := byte('a' + w)
		g.Go(func() error {
			for i := 0; i < 25; i++ {
				if err := s.Set(key, bytes.Repeat([]byte{fill}, size)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	for r := 0; r < 4; r++ {
		g.Go(func() error {
			for i := 0; i < 100; i++ {
				v, found, err := s.Get(key)
				if err != nil {
					return err
				}
				if !found {
					return errors.New("key vanished")
				}
				if len(v) != size || strings.Trim(string(v), string(v[:1])) != "" {
					return fmt.Errorf("torn read: %d bytes", len(v))
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Empty(t, tempFiles(t, s.Root()))
}
