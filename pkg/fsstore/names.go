package fsstore

import (
	"encoding/base32"
	"encoding/hex"
	"strings"

	sha256 "github.com/minio/sha256-simd"

	"github.com/heysubinoy/kvlite/pkg/kv"
)

const (
	plainPrefix = "k"
	hashPrefix  = "h"
	tempPrefix  = ".tmp-"

	// maxPlainKey keeps encoded names well under the common 255 byte limit.
	maxPlainKey = 128
)

// Lower-cased on disk so names survive case-insensitive file systems.
var nameEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// fileName maps a key to the name of the file holding its record.
// Short keys are encoded reversibly; long keys are hashed and the record
// carries the full key.
func fileName(key []byte) (string, error) {
	if err := kv.ValidateKey(key); err != nil {
		return "", err
	}
	if len(key) <= maxPlainKey {
		return plainPrefix + strings.ToLower(nameEncoding.EncodeToString(key)), nil
	}
	sum := sha256.Sum256(key)
	return hashPrefix + hex.EncodeToString(sum[:]), nil
}

// keyFromName decodes a plain name back into its key. Names this package
// would not have produced are rejected.
func keyFromName(name string) ([]byte, bool) {
	if !strings.HasPrefix(name, plainPrefix) || len(name) < 2 {
		return nil, false
	}
	enc := name[len(plainPrefix):]
	key, err := nameEncoding.DecodeString(strings.ToUpper(enc))
	if err != nil || len(key) == 0 || len(key) > maxPlainKey {
		return nil, false
	}
	if strings.ToLower(nameEncoding.EncodeToString(key)) != enc {
		return nil, false
	}
	return key, true
}

func isHashedName(name string) bool {
	if !strings.HasPrefix(name, hashPrefix) || len(name) != len(hashPrefix)+2*sha256.Size {
		return false
	}
	digest := name[len(hashPrefix):]
	if strings.ToLower(digest) != digest {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}
