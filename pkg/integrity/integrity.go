// Package integrity implements the hierarchical SHA-256 verification storage
// used by both PFS0 sections (HierarchicalSha256, exactly two levels, no
// trailing-block padding) and RomFS sections (IVFC, one to six levels,
// trailing-block zero-padding), with per-block verdict caching.
package integrity

import (
	"crypto/sha256"
	"sync"

	"github.com/nxfs/hac-go/pkg/storage"
)

// CheckLevel controls how verification failures are surfaced.
type CheckLevel int

const (
	// CheckLevelNone skips verification entirely; bytes are returned as-is.
	CheckLevelNone CheckLevel = iota
	// CheckLevelIgnoreOnInvalid verifies and caches verdicts but never fails
	// a read because of a mismatch.
	CheckLevelIgnoreOnInvalid
	// CheckLevelFull fails reads of blocks whose hash does not match.
	CheckLevelFull
)

// Verdict is the cached per-block verification outcome.
type Verdict int

const (
	VerdictUnchecked Verdict = iota
	VerdictValid
	VerdictInvalid
)

// Flavor distinguishes the two padding/level-count policies.
type Flavor int

const (
	// FlavorHierarchicalSha256 never pads the trailing block; used by PFS0.
	FlavorHierarchicalSha256 Flavor = iota
	// FlavorIvfc zero-pads the trailing block to the full block size; used
	// by RomFS.
	FlavorIvfc
)

const hashSize = 32

// Level describes one level of the hash tree: a block storage of data bytes
// (or, for intermediate levels, of hash bytes) and its block size. It does
// not hold the level's parent hashes; New takes the hash source separately.
type Level struct {
	Data      storage.ReadableBlockStorage
	BlockSize uint64
}

// Storage is one level of hierarchical hash verification layered over a data
// block storage, with hashes supplied by hashSource (already a byte-linear
// ReadableStorage — typically a LinearAdapter over the level above, or a Vec
// holding the master hash for the top level).
type Storage struct {
	data       storage.ReadableBlockStorage
	hashSource storage.ReadableStorage
	flavor     Flavor
	level      CheckLevel

	mu       sync.Mutex
	verdicts []Verdict
}

// New builds a single verification level. data's block count determines the
// number of cached verdicts.
func New(data storage.ReadableBlockStorage, hashSource storage.ReadableStorage, flavor Flavor, level CheckLevel) *Storage {
	return &Storage{
		data:       data,
		hashSource: hashSource,
		flavor:     flavor,
		level:      level,
		verdicts:   make([]Verdict, data.BlockCount()),
	}
}

func (s *Storage) BlockSize() uint64               { return s.data.BlockSize() }
func (s *Storage) BlockCount() uint64               { return s.data.BlockCount() }
func (s *Storage) NthBlockSize(index uint64) uint64 { return s.data.NthBlockSize(index) }
func (s *Storage) Size() uint64                     { return s.data.Size() }

// Verdict returns the cached verdict for a block without triggering a read.
func (s *Storage) Verdict(index uint64) Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verdicts[index]
}

func (s *Storage) ReadBlock(index uint64, buf []byte) error {
	n := s.NthBlockSize(index)
	if uint64(len(buf)) != n {
		return storage.ErrUnalignedAccess
	}

	if s.level == CheckLevelNone {
		return s.data.ReadBlock(index, buf)
	}

	s.mu.Lock()
	cached := s.verdicts[index]
	s.mu.Unlock()
	if cached == VerdictInvalid && s.level == CheckLevelFull {
		// Once invalid, stays invalid until reconstruction; re-read is still
		// attempted below in case the caller wants IgnoreOnInvalid data, but
		// Full must fail immediately without touching storage again.
		return storage.ErrIntegrityCheckFailed
	}

	if err := s.data.ReadBlock(index, buf); err != nil {
		return err
	}

	hashBuf := buf
	if s.flavor == FlavorIvfc && uint64(len(buf)) < s.BlockSize() {
		hashBuf = make([]byte, s.BlockSize())
		copy(hashBuf, buf)
	}

	expected := make([]byte, hashSize)
	if err := s.hashSource.ReadAt(index*hashSize, expected); err != nil {
		return err
	}

	actual := sha256.Sum256(hashBuf)
	valid := actual == [hashSize]byte(expected)

	s.mu.Lock()
	if valid {
		s.verdicts[index] = VerdictValid
	} else {
		s.verdicts[index] = VerdictInvalid
	}
	s.mu.Unlock()

	if !valid && s.level == CheckLevelFull {
		return storage.ErrIntegrityCheckFailed
	}
	return nil
}
