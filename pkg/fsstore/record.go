package fsstore

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/heysubinoy/kvlite/pkg/kv"
)

const recordVersion = 1

// Record field numbers. Never renumber; files written by older builds must
// keep decoding.
const (
	fieldVersion  protowire.Number = 1
	fieldKey      protowire.Number = 2
	fieldEncoding protowire.Number = 3
	fieldPayload  protowire.Number = 4
	fieldChecksum protowire.Number = 5
)

// Payload encodings.
const (
	encodingRaw  = 0
	encodingZstd = 1
)

// EncodeAll and DecodeAll are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	if zstdEncoder, err = zstd.NewWriter(nil); err != nil {
		panic(fmt.Sprintf("fsstore: zstd encoder: %v", err))
	}
	if zstdDecoder, err = zstd.NewReader(nil); err != nil {
		panic(fmt.Sprintf("fsstore: zstd decoder: %v", err))
	}
}

// record is one decoded entry file.
type record struct {
	key   []byte
	value []byte
}

// encodeRecord serializes key and value. Values of at least compressMin bytes
// are zstd-compressed when that makes them smaller; compressMin <= 0 disables
// compression.
func encodeRecord(key, value []byte, compressMin int) []byte {
	encoding := uint64(encodingRaw)
	payload := value
	if compressMin > 0 && len(value) >= compressMin {
		if c := zstdEncoder.EncodeAll(value, make([]byte, 0, len(value))); len(c) < len(value) {
			encoding = encodingZstd
			payload = c
		}
	}

	b := make([]byte, 0, len(key)+len(payload)+32)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, recordVersion)
	b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
	b = protowire.AppendBytes(b, key)
	b = protowire.AppendTag(b, fieldEncoding, protowire.VarintType)
	b = protowire.AppendVarint(b, encoding)
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	b = protowire.AppendTag(b, fieldChecksum, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, xxhash.Sum64(value))
	return b
}

// decodeRecord parses and verifies a record. The returned slices may alias b.
func decodeRecord(b []byte) (record, error) {
	var (
		rec                                        record
		version, encoding, checksum                uint64
		haveVersion, haveKey, havePayload, haveSum bool
		payload                                    []byte
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return record{}, corrupt(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			version, n = protowire.ConsumeVarint(b)
			haveVersion = true
		case num == fieldKey && typ == protowire.BytesType:
			rec.key, n = protowire.ConsumeBytes(b)
			haveKey = true
		case num == fieldEncoding && typ == protowire.VarintType:
			encoding, n = protowire.ConsumeVarint(b)
		case num == fieldPayload && typ == protowire.BytesType:
			payload, n = protowire.ConsumeBytes(b)
			havePayload = true
		case num == fieldChecksum && typ == protowire.Fixed64Type:
			checksum, n = protowire.ConsumeFixed64(b)
			haveSum = true
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return record{}, corrupt(protowire.ParseError(n))
		}
		b = b[n:]
	}

	switch {
	case !haveVersion:
		return record{}, corrupt(fmt.Errorf("missing version"))
	case version != recordVersion:
		return record{}, corrupt(fmt.Errorf("unsupported version %d", version))
	case !haveKey || !havePayload || !haveSum:
		return record{}, corrupt(fmt.Errorf("truncated record"))
	}

	switch encoding {
	case encodingRaw:
		rec.value = payload
	case encodingZstd:
		v, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return record{}, corrupt(err)
		}
		rec.value = v
	default:
		return record{}, corrupt(fmt.Errorf("unknown payload encoding %d", encoding))
	}
	if rec.value == nil {
		rec.value = []byte{}
	}

	if xxhash.Sum64(rec.value) != checksum {
		return record{}, corrupt(fmt.Errorf("checksum mismatch"))
	}
	return rec, nil
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", kv.ErrCorrupt, err)
}
