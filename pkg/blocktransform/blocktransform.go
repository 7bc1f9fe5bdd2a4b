// Package blocktransform applies a pluggable per-block transform (currently
// AES-CTR) to the blocks read from a storage.BlockAdapter.
package blocktransform

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"github.com/nxfs/hac-go/pkg/storage"
)

// Transform is applied to exactly one full block at a time. Buffers whose
// length is not a multiple of the block size are a precondition violation
// (the caller, not the transform, is responsible for alignment).
type Transform interface {
	BlockSize() uint64
	TransformRead(block []byte, blockIndex uint64) error
	TransformWrite(block []byte, blockIndex uint64) error
}

// Storage applies a Transform to every block of an inner block storage.
type Storage struct {
	inner     storage.ReadableBlockStorage
	transform Transform
}

// New wraps inner, applying transform on every read. inner's block size must
// equal transform.BlockSize().
func New(inner storage.ReadableBlockStorage, transform Transform) *Storage {
	return &Storage{inner: inner, transform: transform}
}

func (s *Storage) BlockSize() uint64               { return s.inner.BlockSize() }
func (s *Storage) BlockCount() uint64               { return s.inner.BlockCount() }
func (s *Storage) NthBlockSize(index uint64) uint64 { return s.inner.NthBlockSize(index) }
func (s *Storage) Size() uint64                     { return s.inner.Size() }

func (s *Storage) ReadBlock(index uint64, buf []byte) error {
	if err := s.inner.ReadBlock(index, buf); err != nil {
		return err
	}
	return s.transform.TransformRead(buf, index)
}

// AesCtr is the AES-CTR block transform: the counter for block N is
// baseNonce (as a 128-bit big-endian integer) plus N. Decryption and
// encryption are the same operation since CTR mode is symmetric.
type AesCtr struct {
	block     cipher.Block
	baseNonce [16]byte
}

// NewAesCtr builds the transform from a 16-byte AES key and a 16-byte base
// nonce. By convention (see the NCA pipeline) baseNonce's first 8 bytes are
// the FS header's upper counter and the last 8 bytes are
// sectionStartByteOffset/16, both big-endian.
func NewAesCtr(key []byte, baseNonce [16]byte) (*AesCtr, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &AesCtr{block: block, baseNonce: baseNonce}, nil
}

// BaseNonce builds the 16-byte base nonce for a section: bytes 0-7 are
// upperCounter big-endian, bytes 8-15 are (sectionStartOffset/16) big-endian.
func BaseNonce(upperCounter uint64, sectionStartOffset uint64) [16]byte {
	var nonce [16]byte
	binary.BigEndian.PutUint64(nonce[0:8], upperCounter)
	binary.BigEndian.PutUint64(nonce[8:16], sectionStartOffset/16)
	return nonce
}

const aesCtrBlockSize = 16

func (t *AesCtr) BlockSize() uint64 { return aesCtrBlockSize }

func (t *AesCtr) counterFor(blockIndex uint64) [16]byte {
	var counter [16]byte
	copy(counter[:], t.baseNonce[:])
	addCounter(&counter, blockIndex)
	return counter
}

func addCounter(counter *[16]byte, n uint64) {
	hi := binary.BigEndian.Uint64(counter[0:8])
	lo := binary.BigEndian.Uint64(counter[8:16])
	newLo := lo + n
	if newLo < lo { // carry
		hi++
	}
	binary.BigEndian.PutUint64(counter[0:8], hi)
	binary.BigEndian.PutUint64(counter[8:16], newLo)
}

func (t *AesCtr) transform(block []byte, blockIndex uint64) error {
	if len(block)%aesCtrBlockSize != 0 {
		return storage.ErrUnalignedAccess
	}
	counter := t.counterFor(blockIndex)
	stream := cipher.NewCTR(t.block, counter[:])
	stream.XORKeyStream(block, block)
	return nil
}

func (t *AesCtr) TransformRead(block []byte, blockIndex uint64) error {
	return t.transform(block, blockIndex)
}

func (t *AesCtr) TransformWrite(block []byte, blockIndex uint64) error {
	return t.transform(block, blockIndex)
}
