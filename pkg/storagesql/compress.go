package storagesql

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
)

var zstdEncoder *zstd.Encoder

func init() {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		// zstd.NewWriter(nil) only fails on invalid encoder options, which
		// this package never sets; a failure here means the zstd library
		// itself is broken, not a runtime condition to recover from.
		panic("storagesql: building zstd encoder: " + err.Error())
	}
	zstdEncoder = enc
}

// compressBytes zstd-compresses raw log/span metadata before it hits the
// metadata BYTEA column; the corpus's services keep metadata payloads small
// but numerous, and zstd's fixed dictionary-free mode is cheap per call.
func compressBytes(raw []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw))), nil
}

func decompressBytes(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
