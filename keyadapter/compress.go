// Copyright (C) 2026 pixlru Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package keyadapter

import (
	"fmt"
	"runtime"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Compressor is the interface SaveBitmap uses to shrink a slot's
// bytes before they are committed through the disk cache's editor.
type Compressor interface {
	Name() string
	Compress(src, dst []byte) []byte
}

// Decompressor is the interface GetBitmap uses to recover the
// original bytes. dst must already be sized to the original length.
type Decompressor interface {
	Name() string
	Decompress(src, dst []byte) error
}

type s2Compressor struct{}

func (s2Compressor) Name() string { return "s2" }

func (s2Compressor) Compress(src, dst []byte) []byte {
	return append(dst, s2.Encode(nil, src)...)
}

func (s2Compressor) Decompress(src, dst []byte) error {
	into := dst[:0:len(dst)]
	ret, err := s2.Decode(into, src)
	if err != nil {
		return err
	}
	if len(ret) != len(dst) {
		return fmt.Errorf("s2: expected %d bytes decompressed, got %d", len(dst), len(ret))
	}
	return nil
}

type zstdCompressor struct{ enc *zstd.Encoder }

func (z zstdCompressor) Name() string { return "zstd" }

func (z zstdCompressor) Compress(src, dst []byte) []byte {
	return z.enc.EncodeAll(src, dst)
}

var zstdDecoder *zstd.Decoder

func init() {
	d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)))
	if err != nil {
		panic(err)
	}
	zstdDecoder = d
}

type zstdDecompressor struct{}

func (zstdDecompressor) Name() string { return "zstd" }

func (zstdDecompressor) Decompress(src, dst []byte) error {
	into := dst[:0:len(dst)]
	ret, err := zstdDecoder.DecodeAll(src, into)
	if err != nil {
		return err
	}
	if len(ret) != len(dst) {
		return fmt.Errorf("zstd: expected %d bytes decompressed, got %d", len(dst), len(ret))
	}
	return nil
}

// Compression selects a Compressor by name ("s2" or "zstd"); an
// unrecognized name returns nil, meaning "store uncompressed."
func Compression(name string) Compressor {
	switch name {
	case "s2":
		return s2Compressor{}
	case "zstd":
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		return zstdCompressor{enc}
	default:
		return nil
	}
}

// Decompression selects the Decompressor matching Compression's name.
func Decompression(name string) Decompressor {
	switch name {
	case "s2":
		return s2Compressor{}
	case "zstd":
		return zstdDecompressor{}
	default:
		return nil
	}
}
