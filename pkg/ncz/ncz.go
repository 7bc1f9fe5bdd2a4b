// Package ncz parses the NCZ container: an NCA whose body is Zstandard
// compressed, preserving the original 0x4000-byte NCA header verbatim.
package ncz

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nxfs/hac-go/pkg/storage"
	"github.com/nxfs/hac-go/pkg/zstdstorage"
)

// HeaderSize is the size of the verbatim NCA header region preserved at the
// start of every NCZ file.
const HeaderSize = 0x4000

const (
	sectionMagic = "NCZSECTN"
	blockMagic   = "NCZBLOCK"
)

// Section describes one NCA section's original crypto parameters, preserved
// so the body can be re-encrypted if ever required (out of scope here; kept
// only for round-trip fidelity of the header).
type Section struct {
	Offset     uint64
	Size       uint64
	CryptoType uint64
	Key        [16]byte
	Counter    [16]byte
}

const sectionHeaderEntrySize = 8 + 8 + 8 + 8 + 16 + 16 // offset,size,crypto_type,pad,key,counter

// ErrHeaderParsing is returned when the NCZSECTN/NCZBLOCK headers cannot be
// parsed.
type ErrHeaderParsing struct{ Reason string }

func (e *ErrHeaderParsing) Error() string { return fmt.Sprintf("ncz: header parsing: %s", e.Reason) }

func parseSections(buf []byte) ([]Section, int, error) {
	if len(buf) < 8+8 || string(buf[:8]) != sectionMagic {
		return nil, 0, &ErrHeaderParsing{Reason: "missing NCZSECTN magic"}
	}
	count := binary.LittleEndian.Uint64(buf[8:16])
	need := 16 + int(count)*sectionHeaderEntrySize
	if len(buf) < need {
		return nil, 0, &ErrHeaderParsing{Reason: "truncated section table"}
	}

	sections := make([]Section, count)
	off := 16
	for i := range sections {
		s := &sections[i]
		s.Offset = binary.LittleEndian.Uint64(buf[off:])
		s.Size = binary.LittleEndian.Uint64(buf[off+8:])
		s.CryptoType = binary.LittleEndian.Uint64(buf[off+16:])
		copy(s.Key[:], buf[off+32:off+48])
		copy(s.Counter[:], buf[off+48:off+64])
		off += sectionHeaderEntrySize
	}
	return sections, off, nil
}

// Body is the decompressed NCA body storage, logically placed at HeaderSize
// so absolute offsets from the original NCA header line up, with
// [0, HeaderSize) made inaccessible.
type Body struct {
	decompressed storage.ReadableStorage
}

func (b *Body) Size() uint64 { return HeaderSize + b.decompressed.Size() }

func (b *Body) ReadAt(offset uint64, buf []byte) error {
	if offset < HeaderSize {
		return &storage.InaccessibleError{Offset: offset}
	}
	return b.decompressed.ReadAt(offset-HeaderSize, buf)
}

const (
	streamCacheBlockSize = 512 * 1024
	streamCacheBlocks    = 128
	blockCacheBlockSize  = 1024 * 1024
	blockCacheBlocks     = 64
	cacheIdleTTL         = 500 * time.Millisecond
)

func wrapForRandomAccess(decompressed storage.ReadableStorage, blockSize, capacityBlocks uint64) (storage.ReadableStorage, error) {
	adapter := storage.NewBlockAdapter(decompressed, blockSize)
	cache, err := storage.NewBlockCache(adapter, capacityBlocks, cacheIdleTTL)
	if err != nil {
		return nil, err
	}
	return storage.NewLinearAdapter(cache), nil
}

// New parses an NCZ file: full is the whole-file storage (offset 0 = start
// of the verbatim NCA header).
func New(full storage.ReadableStorage) (*Body, []Section, error) {
	if full.Size() < HeaderSize+16 {
		return nil, nil, &ErrHeaderParsing{Reason: "file too short for a verbatim NCA header"}
	}

	probe := make([]byte, 16)
	if err := full.ReadAt(HeaderSize, probe); err != nil {
		return nil, nil, err
	}
	if string(probe[:8]) != sectionMagic {
		return nil, nil, &ErrHeaderParsing{Reason: "missing NCZSECTN magic at 0x4000"}
	}

	// Read the whole remainder to parse the section table (variable length).
	rest := make([]byte, full.Size()-HeaderSize)
	if err := full.ReadAt(HeaderSize, rest); err != nil {
		return nil, nil, err
	}

	sections, consumed, err := parseSections(rest)
	if err != nil {
		return nil, nil, err
	}

	var totalUncompressed uint64
	for _, s := range sections {
		totalUncompressed += s.Size
	}

	payload := rest[consumed:]

	var decompressed storage.ReadableStorage
	if len(payload) >= 8 && string(payload[:8]) == blockMagic {
		decompressed, err = parseBlockPayload(payload, totalUncompressed)
		if err != nil {
			return nil, nil, err
		}
		wrapped, err := wrapForRandomAccess(decompressed, blockCacheBlockSize, blockCacheBlocks)
		if err != nil {
			return nil, nil, err
		}
		decompressed = wrapped
	} else {
		compressedSlice := storage.NewVec(append([]byte(nil), payload...))
		stream, err := zstdstorage.NewStreaming(compressedSlice, totalUncompressed)
		if err != nil {
			return nil, nil, err
		}
		wrapped, err := wrapForRandomAccess(stream, streamCacheBlockSize, streamCacheBlocks)
		if err != nil {
			return nil, nil, err
		}
		decompressed = wrapped
	}

	return &Body{decompressed: decompressed}, sections, nil
}

func parseBlockPayload(payload []byte, totalUncompressed uint64) (storage.ReadableStorage, error) {
	if len(payload) < 8+4+4+8 {
		return nil, &ErrHeaderParsing{Reason: "truncated NCZBLOCK header"}
	}
	version := payload[8]
	_ = version
	blockSizeExponent := payload[10]
	nBlocks := binary.LittleEndian.Uint32(payload[12:16])
	totalDecompressed := binary.LittleEndian.Uint64(payload[16:24])
	if totalDecompressed != totalUncompressed {
		totalUncompressed = totalDecompressed
	}

	tableOffset := 24
	tableEnd := tableOffset + int(nBlocks)*4
	if len(payload) < tableEnd {
		return nil, &ErrHeaderParsing{Reason: "truncated compressed-size table"}
	}

	sizes := make([]uint32, nBlocks)
	for i := range sizes {
		sizes[i] = binary.LittleEndian.Uint32(payload[tableOffset+i*4:])
	}

	compressed := storage.NewVec(append([]byte(nil), payload[tableEnd:]...))
	return zstdstorage.NewBlockTable(compressed, blockSizeExponent, sizes, totalUncompressed)
}
