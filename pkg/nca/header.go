package nca

import (
	"crypto/sha256"
	"fmt"

	"github.com/nxfs/hac-go/pkg/crypto"
	"github.com/nxfs/hac-go/pkg/keys"
	"github.com/nxfs/hac-go/pkg/storage"
)

// FsHeaderHashMismatchError is returned when a decrypted FS header's bytes
// don't match the SHA-256 hash recorded for it in the NCA header.
type FsHeaderHashMismatchError struct{ Index int }

func (e *FsHeaderHashMismatchError) Error() string {
	return fmt.Sprintf("nca: fs header %d hash mismatch", e.Index)
}

// UnimplementedBodyFormatError is returned for NCA generations whose body
// crypto this package does not implement.
type UnimplementedBodyFormatError struct{ Magic NcaMagic }

func (e *UnimplementedBodyFormatError) Error() string {
	return fmt.Sprintf("nca: %s body decryption is not implemented", e.Magic)
}

// allHeaders bundles the parsed NCA header with whichever of its four FS
// headers are enabled.
type allHeaders struct {
	header    *NcaHeader
	fsHeaders [4]*NcaFsHeader
}

// parseHeaders reads the first 0xc00 bytes of src, figures out whether they
// need XTS decryption, decrypts if so (dispatching on NCA2 vs NCA3's
// different FS-header sector numbering), verifies each enabled FS header's
// hash, and parses both the NCA header and its FS headers. It returns
// whether the header was already plaintext (meaning the whole NCA needs no
// key material at all).
func parseHeaders(keySet *keys.KeySet, src storage.ReadableStorage) (*allHeaders, bool, error) {
	buf := make([]byte, AllHeadersSize)
	if err := src.ReadAt(0, buf); err != nil {
		return nil, false, err
	}

	headerBuf := buf[:HeaderSize]
	fsBuf := buf[HeaderSize:]

	isDecrypted := false
	header, err := parseNcaHeaderBytes(headerBuf)
	if err == nil {
		isDecrypted = true
	} else {
		headerKey, kerr := keySet.HeaderKey()
		if kerr != nil {
			return nil, false, kerr
		}

		decryptedHeader, derr := crypto.XTSDecrypt(headerBuf, headerKey, FsHeaderSize, 0)
		if derr != nil {
			return nil, false, derr
		}
		copy(headerBuf, decryptedHeader)

		header, err = parseNcaHeaderBytes(headerBuf)
		if err != nil {
			return nil, false, err
		}

		switch header.Magic {
		case MagicNca0, MagicNca1:
			return nil, false, &UnimplementedBodyFormatError{Magic: header.Magic}
		case MagicNca2:
			// NCA2 encrypts each FS header sector as though it were sector 0.
			for i := 0; i < 4; i++ {
				sector := fsBuf[i*FsHeaderSize : (i+1)*FsHeaderSize]
				dec, derr := crypto.XTSDecrypt(sector, headerKey, FsHeaderSize, 0)
				if derr != nil {
					return nil, false, derr
				}
				copy(sector, dec)
			}
		case MagicNca3:
			// NCA3 continues the header's sector numbering (the header itself
			// occupies sectors 0-1, so the FS headers start at sector 2).
			dec, derr := crypto.XTSDecrypt(fsBuf, headerKey, FsHeaderSize, 2)
			if derr != nil {
				return nil, false, derr
			}
			copy(fsBuf, dec)
		}
	}

	var all allHeaders
	all.header = header

	for i := 0; i < 4; i++ {
		entry := header.SectionTable[i]
		if !entry.Enabled {
			continue
		}

		sector := fsBuf[i*FsHeaderSize : (i+1)*FsHeaderSize]
		if got := sha256.Sum256(sector); got != header.FsHeaderHashes[i] {
			return nil, false, &FsHeaderHashMismatchError{Index: i}
		}

		fsHeader, ferr := parseFsHeaderBytes(sector)
		if ferr != nil {
			return nil, false, fmt.Errorf("nca: parsing fs header %d: %w", i, ferr)
		}
		all.fsHeaders[i] = fsHeader
	}

	return &all, isDecrypted, nil
}
