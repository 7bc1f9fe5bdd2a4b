package integrity

import (
	"github.com/nxfs/hac-go/pkg/storage"
)

// LevelDesc describes one level of the hash tree as declared in an FS
// header's integrity info: a byte range over the shared section storage,
// with hashes stored at blockSize-sized block granularity.
type LevelDesc struct {
	ByteOffset uint64
	ByteSize   uint64
	BlockSize  uint64
}

// BuildChain constructs the full verification stack bottom-up: the top level
// verifies against an in-memory Vec holding masterHash; each subsequent level
// verifies against the linearised view of the level above it. levels must be
// ordered top (smallest) to bottom (the actual data level, last). The
// returned Storage is the bottom (data) level, ready to be wrapped in a
// storage.LinearAdapter for byte-range reads.
func BuildChain(shared storage.ReadableStorage, masterHash []byte, levels []LevelDesc, flavor Flavor, level CheckLevel) (*Storage, error) {
	hashSource := storage.ReadableStorage(storage.NewVec(append([]byte(nil), masterHash...)))

	var current *Storage
	for _, desc := range levels {
		slice, err := storage.NewSlice(shared, desc.ByteOffset, desc.ByteSize)
		if err != nil {
			return nil, err
		}
		blockAdapter := storage.NewBlockAdapter(slice, desc.BlockSize)
		current = New(blockAdapter, hashSource, flavor, level)
		hashSource = storage.NewLinearAdapter(current)
	}
	if current == nil {
		return nil, storage.ErrOutOfBounds
	}
	return current, nil
}
