package zstdstorage

import (
	"fmt"

	"github.com/nxfs/hac-go/pkg/storage"
)

// ErrInvalidBlockSizeExponent is returned when a block-table header declares
// an exponent outside [14, 32].
type ErrInvalidBlockSizeExponent struct{ Exponent uint8 }

func (e *ErrInvalidBlockSizeExponent) Error() string {
	return fmt.Sprintf("zstdstorage: invalid block size exponent %d (must be in [14,32])", e.Exponent)
}

// ErrSizeMismatch is returned when the sum of a block table's declared
// compressed sizes, plus the header's own length, does not equal the total
// length of the underlying file.
var ErrSizeMismatch = fmt.Errorf("zstdstorage: sum of compressed block sizes does not match file size")

// NewBlockTable builds the concatenation of independently-decompressible
// Zstd blocks. compressed is the storage positioned right after the
// NCZBLOCK header (i.e. offset 0 of compressed is the first compressed
// byte); compressedSizes gives each block's compressed length in order; the
// final decompressed block may be shorter than 1<<blockSizeExponent.
func NewBlockTable(compressed storage.ReadableStorage, blockSizeExponent uint8, compressedSizes []uint32, totalDecompressed uint64) (*storage.ConcatStorage, error) {
	if blockSizeExponent < 14 || blockSizeExponent > 32 {
		return nil, &ErrInvalidBlockSizeExponent{Exponent: blockSizeExponent}
	}

	var sum uint64
	for _, s := range compressedSizes {
		sum += uint64(s)
	}
	if sum != compressed.Size() {
		return nil, ErrSizeMismatch
	}

	blockSize := uint64(1) << blockSizeExponent
	parts := make([]storage.ReadableStorage, 0, len(compressedSizes))

	var compressedOffset uint64
	var decompressedRemaining = totalDecompressed
	for _, csize := range compressedSizes {
		thisBlockSize := blockSize
		if thisBlockSize > decompressedRemaining {
			thisBlockSize = decompressedRemaining
		}

		slice, err := storage.NewSlice(compressed, compressedOffset, uint64(csize))
		if err != nil {
			return nil, err
		}
		block, err := NewStreaming(slice, thisBlockSize)
		if err != nil {
			return nil, err
		}
		parts = append(parts, block)

		compressedOffset += uint64(csize)
		decompressedRemaining -= thisBlockSize
	}

	return storage.NewConcat(parts), nil
}
