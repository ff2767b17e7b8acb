package fsstore

import (
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-hclog"
)

// DefaultOrphanAge is how old a temporary file must be before Open removes
// it. Younger files may belong to a writer in another process.
const DefaultOrphanAge = 15 * time.Minute

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger hclog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSync controls whether writes and deletes are fsynced, including the
// root directory after a rename or unlink. On by default.
func WithSync(sync bool) Option {
	return func(s *Store) { s.sync = sync }
}

// WithCompression zstd-compresses values of at least minSize bytes.
// minSize <= 0 disables compression, which is the default.
func WithCompression(minSize int) Option {
	return func(s *Store) { s.compressMin = minSize }
}

// WithOrphanAge sets the minimum age of temporary files removed by Open.
// A negative age disables the sweep on open.
func WithOrphanAge(age time.Duration) Option {
	return func(s *Store) { s.orphanAge = age }
}

// WithClock replaces the clock used to age temporary files.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithFileMode sets the permission bits of entry files. Default 0644.
func WithFileMode(mode os.FileMode) Option {
	return func(s *Store) { s.fileMode = mode.Perm() }
}
