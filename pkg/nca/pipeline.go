package nca

import (
	"fmt"

	"github.com/nxfs/hac-go/pkg/ids"
	"github.com/nxfs/hac-go/pkg/integrity"
	"github.com/nxfs/hac-go/pkg/keys"
	"github.com/nxfs/hac-go/pkg/ncz"
	"github.com/nxfs/hac-go/pkg/pfs0"
	"github.com/nxfs/hac-go/pkg/romfs"
	"github.com/nxfs/hac-go/pkg/storage"
	"github.com/nxfs/hac-go/pkg/vfs"
)

// contentKeyKind tags how a section's content key was obtained, mirroring
// the three ways an NCA can carry key material: unencrypted, a rights-id
// title key from an imported ticket, or one of the three key-area-key
// families unwrapped from the header's own key area.
type contentKeyKind int

const (
	contentKeyPlaintext contentKeyKind = iota
	contentKeyRightsID
	contentKeyArea
)

// Nca is a parsed, key-ready NCA container. Its section bodies are still
// encrypted on the backing storage; GetSectionStorage et al. layer the
// decrypt/verify storages lazily per call.
type Nca struct {
	storage     *storage.SharedStorage
	headers     *allHeaders
	isDecrypted bool
	isNcz       bool // body is an already-decompressed NCZ body; section decryption is elided

	keyKind  contentKeyKind
	ctrKey   []byte // 16 bytes, valid when keyKind != contentKeyPlaintext
	xtsKey   []byte // 32 bytes, valid when keyKind != contentKeyPlaintext and a section needs Xts
}

// probeNcz reports whether src carries an NCZ body: the NCZSECTN magic
// immediately following the verbatim 0x4000-byte NCA header region.
func probeNcz(src storage.ReadableStorage) bool {
	if src.Size() < ncz.HeaderSize+8 {
		return false
	}
	magic := make([]byte, 8)
	if err := src.ReadAt(ncz.HeaderSize, magic); err != nil {
		return false
	}
	return string(magic) == "NCZSECTN"
}

// MissingSectionError is returned when an operation targets a section index
// the section table does not have enabled.
type MissingSectionError struct{ Index int }

func (e *MissingSectionError) Error() string {
	return fmt.Sprintf("nca: section %d is not present", e.Index)
}

// New parses src's headers, derives its content key (if any is needed) and
// returns a ready-to-query Nca. src is retained (wrapped in a SharedStorage)
// for the lifetime of the returned value.
func New(keySet *keys.KeySet, src storage.ReadableStorage) (*Nca, error) {
	headers, isDecrypted, err := parseHeaders(keySet, src)
	if err != nil {
		return nil, err
	}

	body := src
	isNcz := probeNcz(src)
	if isNcz {
		nczBody, _, err := ncz.New(src)
		if err != nil {
			return nil, fmt.Errorf("nca: ncz body: %w", err)
		}
		body = nczBody
	}

	if headers.header.NcaSize != body.Size() {
		return nil, fmt.Errorf("nca: header declares size %#x but storage is %#x bytes", headers.header.NcaSize, body.Size())
	}

	n := &Nca{
		storage:     storage.NewShared(body),
		headers:     headers,
		isDecrypted: isDecrypted,
		isNcz:       isNcz,
	}

	if isDecrypted {
		n.keyKind = contentKeyPlaintext
		return n, nil
	}

	header := headers.header
	revision := header.MasterKeyRevision()

	if header.HasRightsID() {
		rightsID := ids.RightsID(header.RightsID)
		titleKey, err := keySet.TitleKey(rightsID)
		if err != nil {
			return nil, err
		}
		n.keyKind = contentKeyRightsID
		n.ctrKey = titleKey
		return n, nil
	}

	n.keyKind = contentKeyArea
	ctrKey, err := keySet.DecryptKeyAreaCTR(header.KeyArea.EncryptedCtrKey[:], revision, header.KeyAreaKeyIndex)
	if err != nil {
		return nil, err
	}
	n.ctrKey = ctrKey

	if xtsKey, err := keySet.DecryptKeyAreaXTS(header.KeyArea.EncryptedXtsKey[:], revision, header.KeyAreaKeyIndex); err == nil {
		n.xtsKey = xtsKey
	}

	return n, nil
}

// IsPlaintext reports whether the NCA's header was already unencrypted on
// disk (development/homebrew builds), meaning no key material was needed at
// all.
func (n *Nca) IsPlaintext() bool { return n.isDecrypted }

// IsNcz reports whether this NCA's body is Zstd-compressed (an NCZ file).
func (n *Nca) IsNcz() bool { return n.isNcz }

func (n *Nca) Header() *NcaHeader { return n.headers.header }

// FsHeader returns the parsed FS header for a section index, or
// MissingSectionError if that section is not enabled.
func (n *Nca) FsHeader(index int) (*NcaFsHeader, error) {
	if index < 0 || index >= 4 || !n.headers.header.SectionTable[index].Enabled {
		return nil, &MissingSectionError{Index: index}
	}
	return n.headers.fsHeaders[index], nil
}

// GetRawEncryptedSectionStorage slices out section index's byte range,
// still encrypted.
func (n *Nca) GetRawEncryptedSectionStorage(index int) (storage.ReadableStorage, error) {
	if index < 0 || index >= 4 || !n.headers.header.SectionTable[index].Enabled {
		return nil, &MissingSectionError{Index: index}
	}
	entry := n.headers.header.SectionTable[index]

	fsHeader := n.headers.fsHeaders[index]
	if fsHeader.ExistsSparseLayer() {
		return nil, fmt.Errorf("nca: section %d uses a sparse layer, which is not implemented", index)
	}

	return storage.NewSlice(n.storage.Clone(), entry.StartOffset, entry.Size())
}

// GetRawDecryptedSectionStorage returns section index's body with whichever
// body-level encryption its FS header declares removed, but without any
// hash-tree verification layered on top.
func (n *Nca) GetRawDecryptedSectionStorage(index int) (storage.ReadableStorage, error) {
	raw, err := n.GetRawEncryptedSectionStorage(index)
	if err != nil {
		return nil, err
	}
	fsHeader := n.headers.fsHeaders[index]
	entry := n.headers.header.SectionTable[index]

	if n.isNcz {
		// The NCZ body is already plaintext: whatever encryption the FS
		// header declares described the pre-compression NCA, not this
		// storage, so no decrypt transform is layered here.
		return raw, nil
	}

	if n.isDecrypted {
		if fsHeader.EncryptionType != EncryptionNone && fsHeader.EncryptionType != EncryptionAuto {
			return nil, fmt.Errorf("nca: header is plaintext but section %d declares encryption type %d", index, fsHeader.EncryptionType)
		}
		return raw, nil
	}

	switch fsHeader.EncryptionType {
	case EncryptionNone:
		return raw, nil
	case EncryptionAesCtr:
		return newAesCtrSectionStorage(raw, n.ctrKey, fsHeader.UpperCounter, entry.StartOffset)
	default:
		return nil, &UnimplementedEncryptionError{Type: fsHeader.EncryptionType}
	}
}

// GetSectionStorage returns section index's body with body encryption
// removed and its hash tree (HierarchicalSha256 or Ivfc, per the FS
// header's hash_type) verified at the given check level.
func (n *Nca) GetSectionStorage(index int, level integrity.CheckLevel) (storage.ReadableStorage, error) {
	decrypted, err := n.GetRawDecryptedSectionStorage(index)
	if err != nil {
		return nil, err
	}
	fsHeader := n.headers.fsHeaders[index]
	if fsHeader.ExistsCompressionLayer() {
		return nil, fmt.Errorf("nca: section %d uses a compression layer, which is not implemented", index)
	}

	shared := storage.NewShared(decrypted)

	switch fsHeader.HashType {
	case HashSha256:
		info := fsHeader.Integrity.Sha256
		if info.LevelCount != 2 {
			return nil, fmt.Errorf("nca: section %d HierarchicalSha256 has %d levels, want 2", index, info.LevelCount)
		}
		levels := make([]integrity.LevelDesc, 2)
		for i := 0; i < 2; i++ {
			levels[i] = integrity.LevelDesc{
				ByteOffset: info.Levels[i].Offset,
				ByteSize:   info.Levels[i].Size,
				BlockSize:  uint64(info.BlockSize),
			}
		}
		chain, err := integrity.BuildChain(shared, info.MasterHash[:], levels, integrity.FlavorHierarchicalSha256, level)
		if err != nil {
			return nil, err
		}
		return storage.NewLinearAdapter(chain), nil

	case HashIvfc:
		info := fsHeader.Integrity.Ivfc
		if info.LevelCount == 0 {
			return nil, fmt.Errorf("nca: section %d Ivfc declares 0 levels", index)
		}
		// The last declared level is the master hash itself, not a verified
		// data level; BuildChain wants only the real levels above it.
		realLevels := int(info.LevelCount) - 1
		levels := make([]integrity.LevelDesc, realLevels)
		for i := 0; i < realLevels; i++ {
			levels[i] = integrity.LevelDesc{
				ByteOffset: info.Levels[i].Offset,
				ByteSize:   info.Levels[i].Size,
				BlockSize:  uint64(1) << info.Levels[i].BlockSize,
			}
		}
		chain, err := integrity.BuildChain(shared, info.MasterHash[:32], levels, integrity.FlavorIvfc, level)
		if err != nil {
			return nil, err
		}
		return storage.NewLinearAdapter(chain), nil

	default:
		return nil, fmt.Errorf("nca: section %d hash type %d is not implemented", index, fsHeader.HashType)
	}
}

// GetSectionType classifies section index's role. Only Program-type
// content distinguishes Code/Data/Logo by index; everything else's single
// populated section (conventionally index 0) is Data.
func (n *Nca) GetSectionType(index int) (NcaSectionType, error) {
	if index < 0 || index >= 4 || !n.headers.header.SectionTable[index].Enabled {
		return 0, &MissingSectionError{Index: index}
	}
	if n.headers.header.ContentType != NcaContentTypeProgram {
		return SectionTypeData, nil
	}
	switch index {
	case 0:
		return SectionTypeCode, nil
	case 1:
		return SectionTypeData, nil
	case 2:
		return SectionTypeLogo, nil
	default:
		return SectionTypeData, nil
	}
}

// GetSectionFS opens section index's verified body as a filesystem,
// dispatching on the FS header's format_type.
func (n *Nca) GetSectionFS(index int, level integrity.CheckLevel) (vfs.FileSystem, error) {
	fsHeader, err := n.FsHeader(index)
	if err != nil {
		return nil, err
	}
	body, err := n.GetSectionStorage(index, level)
	if err != nil {
		return nil, err
	}
	switch fsHeader.FormatType {
	case FormatPfs0:
		return pfs0.New(body)
	case FormatRomfs:
		return romfs.New(body)
	default:
		return nil, fmt.Errorf("nca: section %d has unknown format type %d", index, fsHeader.FormatType)
	}
}

// GetFS finds the section playing sectionType's role and opens it as a
// filesystem, dispatching on the FS header's format_type.
func (n *Nca) GetFS(sectionType NcaSectionType, level integrity.CheckLevel) (vfs.FileSystem, error) {
	for i := 0; i < 4; i++ {
		if !n.headers.header.SectionTable[i].Enabled {
			continue
		}
		t, err := n.GetSectionType(i)
		if err != nil {
			return nil, err
		}
		if t != sectionType {
			continue
		}
		return n.GetSectionFS(i, level)
	}
	return nil, fmt.Errorf("nca: no section plays role %d", sectionType)
}
