package cachestore

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/sha256-simd"
)

// Bodies smaller than this are stored as-is; zstd framing would only add bytes.
const minCompressSize = 512

var (
	allocEnc sync.Once
	allocDec sync.Once
	enc      *zstd.Encoder
	dec      *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	allocEnc.Do(func() {
		var err error
		enc, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderCRC(false),
			zstd.WithWindowSize(512*1024),
		)
		if err != nil {
			panic(err)
		}
	})
	return enc
}

func getDecoder() *zstd.Decoder {
	allocDec.Do(func() {
		var err error
		dec, err = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(256*1024*1024),
		)
		if err != nil {
			panic(err)
		}
	})
	return dec
}

// compressBody returns the stored form of body and whether it is compressed.
func compressBody(body []byte) ([]byte, bool) {
	if len(body) < minCompressSize {
		return body, false
	}
	out := getEncoder().EncodeAll(body, nil)
	if len(out) >= len(body) {
		return body, false
	}
	return out, true
}

func decompressBody(stored []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return stored, nil
	}
	out, err := getDecoder().DecodeAll(stored, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing body: %w", err)
	}
	return out, nil
}

// digest is the hex sha256 of a response body.
func digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
