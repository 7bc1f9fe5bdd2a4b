// Package zstdstorage wraps a compressed storage.ReadableStorage and exposes
// a decompressed byte view, either via a single pseudo-seekable stream or via
// an independently-decompressible block table.
package zstdstorage

import (
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/nxfs/hac-go/pkg/storage"
)

// Streaming decompresses a single Zstd blob. It is deliberately inefficient
// on backward seeks: a read before the current decompressed position
// restarts the decoder from the beginning and discards bytes up to the new
// position. Sequential reads cost only the bytes requested.
type Streaming struct {
	mu      sync.Mutex
	src     storage.ReadableStorage
	size    uint64
	pos     uint64
	decoder *zstd.Decoder
	reader  *storage.IOReader
}

// NewStreaming wraps compressed (the full Zstd blob) and declares the
// decompressed size.
func NewStreaming(compressed storage.ReadableStorage, uncompressedSize uint64) (*Streaming, error) {
	s := &Streaming{src: compressed, size: uncompressedSize}
	if err := s.reset(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Streaming) reset() error {
	s.reader = storage.NewIOReader(s.src)
	dec, err := zstd.NewReader(s.reader)
	if err != nil {
		return &storage.IOError{Op: "zstd init", Err: err}
	}
	s.decoder = dec
	s.pos = 0
	return nil
}

func (s *Streaming) Size() uint64 { return s.size }

func (s *Streaming) ReadAt(offset uint64, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := offset + uint64(len(buf))
	if end < offset || end > s.size {
		return storage.ErrOutOfBounds
	}
	if len(buf) == 0 {
		return nil
	}

	if offset < s.pos {
		if err := s.reset(); err != nil {
			return err
		}
	}

	// Fast-forward by discarding bytes up to offset.
	discard := make([]byte, 0)
	for s.pos < offset {
		n := offset - s.pos
		const chunk = 32 * 1024
		if n > chunk {
			n = chunk
		}
		if uint64(len(discard)) < n {
			discard = make([]byte, n)
		}
		read, err := s.decoder.Read(discard[:n])
		s.pos += uint64(read)
		if err != nil && read == 0 {
			return &storage.IOError{Op: "zstd discard", Err: err}
		}
	}

	total := 0
	for total < len(buf) {
		n, err := s.decoder.Read(buf[total:])
		total += n
		s.pos += uint64(n)
		if err != nil {
			if n == 0 {
				return &storage.IOError{Op: "zstd read", Err: err}
			}
		}
	}
	return nil
}

// Close releases the decoder's resources.
func (s *Streaming) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decoder != nil {
		s.decoder.Close()
	}
}
