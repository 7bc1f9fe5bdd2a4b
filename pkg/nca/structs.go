// Package nca parses NCA (Nintendo Content Archive) containers: the
// 0x400-byte header plus up to four 0x200-byte FS headers, and the pipeline
// that turns an enabled section into a decrypted, integrity-checked
// filesystem.
package nca

import (
	"encoding/binary"
	"fmt"

	"github.com/nxfs/hac-go/pkg/ids"
	"github.com/nxfs/hac-go/pkg/keys"
)

const (
	HeaderSize       = 0x400
	FsHeaderSize     = 0x200
	AllHeadersSize   = HeaderSize + 4*FsHeaderSize // 0xc00
	sectionTableUnit = 0x200
)

// NcaMagic is the 4-byte tag identifying an NCA's generation/encryption
// scheme. Only NCA2 and NCA3 bodies are decrypted by this package; NCA0/NCA1
// are recognized but their (different) body crypto is unimplemented.
type NcaMagic [4]byte

var (
	MagicNca0 = NcaMagic{'N', 'C', 'A', '0'}
	MagicNca1 = NcaMagic{'N', 'C', 'A', '1'}
	MagicNca2 = NcaMagic{'N', 'C', 'A', '2'}
	MagicNca3 = NcaMagic{'N', 'C', 'A', '3'}
)

func (m NcaMagic) String() string { return string(m[:]) }

func (m NcaMagic) valid() bool {
	return m == MagicNca0 || m == MagicNca1 || m == MagicNca2 || m == MagicNca3
}

type DistributionType uint8

const (
	DistributionDownload DistributionType = 0
	DistributionGameCard DistributionType = 1
)

// NcaContentType classifies the whole NCA (as opposed to ids.NcmContentType,
// which classifies one content entry inside a CNMT).
type NcaContentType uint8

const (
	NcaContentTypeProgram    NcaContentType = 0
	NcaContentTypeMeta       NcaContentType = 1
	NcaContentTypeControl    NcaContentType = 2
	NcaContentTypeManual     NcaContentType = 3
	NcaContentTypeData       NcaContentType = 4
	NcaContentTypePublicData NcaContentType = 5
)

func (t NcaContentType) String() string {
	switch t {
	case NcaContentTypeProgram:
		return "Program"
	case NcaContentTypeMeta:
		return "Meta"
	case NcaContentTypeControl:
		return "Control"
	case NcaContentTypeManual:
		return "Manual"
	case NcaContentTypeData:
		return "Data"
	case NcaContentTypePublicData:
		return "PublicData"
	default:
		return fmt.Sprintf("NcaContentType(%d)", uint8(t))
	}
}

// NcaSectionType is the role a section plays for Program-type content;
// Nca.GetSectionType derives it from (index, content type).
type NcaSectionType uint8

const (
	SectionTypeCode NcaSectionType = iota
	SectionTypeData
	SectionTypeLogo
)

type NcaFormatType uint8

const (
	FormatRomfs NcaFormatType = 0
	FormatPfs0  NcaFormatType = 1
)

type NcaHashType uint8

const (
	HashAuto   NcaHashType = 0
	HashNone   NcaHashType = 1
	HashSha256 NcaHashType = 2
	HashIvfc   NcaHashType = 3
)

type NcaEncryptionType uint8

const (
	EncryptionAuto     NcaEncryptionType = 0
	EncryptionNone     NcaEncryptionType = 1
	EncryptionXts      NcaEncryptionType = 2
	EncryptionAesCtr   NcaEncryptionType = 3
	EncryptionAesCtrEx NcaEncryptionType = 4
)

// SectionTableEntry records one section's byte range (converted from the
// on-disk 0x200-byte unit) and whether it is populated.
type SectionTableEntry struct {
	StartOffset uint64
	EndOffset   uint64
	Enabled     bool
}

func (s SectionTableEntry) Size() uint64 { return s.EndOffset - s.StartOffset }

type NcaKeyArea struct {
	EncryptedXtsKey   [0x20]byte
	EncryptedCtrKey   [0x10]byte
	EncryptedCtrExKey [0x10]byte
	EncryptedCtrHwKey [0x10]byte
}

// NcaHeader is the 0x400-byte header, decrypted if necessary by parseHeaders.
type NcaHeader struct {
	FixedKeySignature [0x100]byte
	NpdmSignature     [0x100]byte
	Magic             NcaMagic
	DistributionType  DistributionType
	ContentType       NcaContentType
	KeyGeneration1    uint8
	KeyAreaKeyIndex   keys.KeyAreaKeyIndex
	NcaSize           uint64
	TitleID           ids.ProgramID
	ContentIndex      uint32
	SdkVersion        uint32
	KeyGeneration2    uint8
	RightsID          ids.RightsID
	SectionTable      [4]SectionTableEntry
	FsHeaderHashes    [4][32]byte
	KeyArea           NcaKeyArea
}

// HasRightsID reports whether this NCA uses external (ticket-based) title
// key crypto rather than its own embedded key area.
func (h *NcaHeader) HasRightsID() bool { return !ids.RightsID(h.RightsID).IsEmpty() }

// MasterKeyRevision is max(key_generation_1, key_generation_2) - 1,
// saturating at 0.
func (h *NcaHeader) MasterKeyRevision() uint8 {
	gen := h.KeyGeneration1
	if h.KeyGeneration2 > gen {
		gen = h.KeyGeneration2
	}
	if gen == 0 {
		return 0
	}
	return gen - 1
}

type Sha256IntegrityInfoLevel struct {
	Offset uint64
	Size   uint64
}

type Sha256IntegrityInfo struct {
	MasterHash [32]byte
	BlockSize  uint32
	LevelCount uint32
	Levels     [6]Sha256IntegrityInfoLevel
}

type IvfcIntegrityInfoLevel struct {
	Offset    uint64
	Size      uint64
	BlockSize uint32
}

type IvfcIntegrityInfo struct {
	Version        uint32
	MasterHashSize uint32
	LevelCount     uint32
	Levels         [6]IvfcIntegrityInfoLevel
	SaltSource     [0x20]byte
	MasterHash     [0x38]byte
}

// IntegrityInfo is the hash_type-tagged union describing how a section's
// body is verified.
type IntegrityInfo struct {
	HashType NcaHashType
	Sha256   *Sha256IntegrityInfo
	Ivfc     *IvfcIntegrityInfo
}

type PatchInfo struct {
	RelocationTreeOffset uint64
	RelocationTreeSize   uint64
	EncryptionTreeOffset uint64
	EncryptionTreeSize   uint64
}

func (p *PatchInfo) IsPatchSection() bool { return p.RelocationTreeSize != 0 }

type SparseInfo struct {
	MetaOffset     uint64
	MetaSize       uint64
	PhysicalOffset uint64
	Generation     uint16
}

func (s *SparseInfo) Exists() bool { return s.Generation != 0 }

type CompressionInfo struct {
	TableOffset uint64
	TableSize   uint64
}

func (c *CompressionInfo) Exists() bool { return c.TableOffset != 0 && c.TableSize != 0 }

// NcaFsHeader is one of the four 0x200-byte FS headers.
type NcaFsHeader struct {
	Version         uint16
	FormatType      NcaFormatType
	HashType        NcaHashType
	EncryptionType  NcaEncryptionType
	Integrity       IntegrityInfo
	Patch           PatchInfo
	UpperCounter    uint64
	Sparse          SparseInfo
	Compression     CompressionInfo
}

func (h *NcaFsHeader) ExistsSparseLayer() bool      { return h.Sparse.Exists() }
func (h *NcaFsHeader) ExistsCompressionLayer() bool { return h.Compression.Exists() }

// u32off converts a 0x200-byte-unit section table offset to an absolute
// byte offset.
func u32off(raw uint32) uint64 { return uint64(raw) * sectionTableUnit }

// ErrBadMagic is returned by parseNcaHeaderBytes when the 4-byte magic is
// not one of NCA0/NCA1/NCA2/NCA3 — the signal parseHeaders uses to tell a
// plaintext header from one still needing XTS decryption.
type ErrBadMagic struct{ Got [4]byte }

func (e *ErrBadMagic) Error() string { return fmt.Sprintf("nca: bad magic %q", e.Got[:]) }

// parseNcaHeaderBytes decodes a 0x400-byte buffer into an NcaHeader. It
// performs no hash/signature verification; that happens at the FS-header
// level once parseHeaders has decrypted everything.
func parseNcaHeaderBytes(buf []byte) (*NcaHeader, error) {
	if len(buf) != HeaderSize {
		return nil, fmt.Errorf("nca: header buffer must be %#x bytes, got %#x", HeaderSize, len(buf))
	}

	h := &NcaHeader{}
	copy(h.FixedKeySignature[:], buf[0x000:0x100])
	copy(h.NpdmSignature[:], buf[0x100:0x200])
	copy(h.Magic[:], buf[0x200:0x204])
	if !h.Magic.valid() {
		return nil, &ErrBadMagic{Got: [4]byte(h.Magic)}
	}
	h.DistributionType = DistributionType(buf[0x204])
	h.ContentType = NcaContentType(buf[0x205])
	h.KeyGeneration1 = buf[0x206]
	h.KeyAreaKeyIndex = keys.KeyAreaKeyIndex(buf[0x207])
	h.NcaSize = binary.LittleEndian.Uint64(buf[0x208:])
	h.TitleID = ids.ProgramID(binary.LittleEndian.Uint64(buf[0x210:]))
	h.ContentIndex = binary.LittleEndian.Uint32(buf[0x218:])
	h.SdkVersion = binary.LittleEndian.Uint32(buf[0x21c:])
	h.KeyGeneration2 = buf[0x220]
	copy(h.RightsID[:], buf[0x230:0x240])

	for i := 0; i < 4; i++ {
		off := 0x240 + i*16
		h.SectionTable[i] = SectionTableEntry{
			StartOffset: u32off(binary.LittleEndian.Uint32(buf[off:])),
			EndOffset:   u32off(binary.LittleEndian.Uint32(buf[off+4:])),
			Enabled:     buf[off+8] != 0,
		}
	}

	for i := 0; i < 4; i++ {
		copy(h.FsHeaderHashes[i][:], buf[0x280+i*0x20:0x280+(i+1)*0x20])
	}

	ka := buf[0x300:0x400]
	copy(h.KeyArea.EncryptedXtsKey[:], ka[0x00:0x20])
	copy(h.KeyArea.EncryptedCtrKey[:], ka[0x20:0x30])
	copy(h.KeyArea.EncryptedCtrExKey[:], ka[0x30:0x40])
	copy(h.KeyArea.EncryptedCtrHwKey[:], ka[0x40:0x50])

	return h, nil
}

// parseFsHeaderBytes decodes a 0x200-byte FS header.
func parseFsHeaderBytes(buf []byte) (*NcaFsHeader, error) {
	if len(buf) != FsHeaderSize {
		return nil, fmt.Errorf("nca: fs header buffer must be %#x bytes, got %#x", FsHeaderSize, len(buf))
	}

	h := &NcaFsHeader{
		Version:        binary.LittleEndian.Uint16(buf[0x0:]),
		FormatType:     NcaFormatType(buf[0x2]),
		HashType:       NcaHashType(buf[0x3]),
		EncryptionType: NcaEncryptionType(buf[0x4]),
	}

	integrity := buf[0x8:0x100]
	h.Integrity.HashType = h.HashType
	switch h.HashType {
	case HashSha256:
		s := &Sha256IntegrityInfo{}
		copy(s.MasterHash[:], integrity[0:0x20])
		s.BlockSize = binary.LittleEndian.Uint32(integrity[0x20:])
		s.LevelCount = binary.LittleEndian.Uint32(integrity[0x24:])
		for i := 0; i < 6; i++ {
			off := 0x28 + i*16
			s.Levels[i] = Sha256IntegrityInfoLevel{
				Offset: binary.LittleEndian.Uint64(integrity[off:]),
				Size:   binary.LittleEndian.Uint64(integrity[off+8:]),
			}
		}
		h.Integrity.Sha256 = s
	case HashIvfc:
		if string(integrity[0:4]) != "IVFC" {
			return nil, fmt.Errorf("nca: fs header declares Ivfc hash type but integrity_info magic is %q", integrity[0:4])
		}
		v := &IvfcIntegrityInfo{
			Version:        binary.LittleEndian.Uint32(integrity[0x4:]),
			MasterHashSize: binary.LittleEndian.Uint32(integrity[0x8:]),
			LevelCount:     binary.LittleEndian.Uint32(integrity[0xc:]),
		}
		for i := 0; i < 6; i++ {
			off := 0x10 + i*24
			v.Levels[i] = IvfcIntegrityInfoLevel{
				Offset:    binary.LittleEndian.Uint64(integrity[off:]),
				Size:      binary.LittleEndian.Uint64(integrity[off+8:]),
				BlockSize: binary.LittleEndian.Uint32(integrity[off+16:]),
			}
		}
		copy(v.SaltSource[:], integrity[0xa0:0xc0])
		copy(v.MasterHash[:], integrity[0xc0:0xf8])
		h.Integrity.Ivfc = v
	case HashNone, HashAuto:
		// no integrity metadata to parse
	default:
		return nil, fmt.Errorf("nca: unknown hash_type %d", h.HashType)
	}

	patch := buf[0x100:0x140]
	h.Patch = PatchInfo{
		RelocationTreeOffset: binary.LittleEndian.Uint64(patch[0x00:]),
		RelocationTreeSize:   binary.LittleEndian.Uint64(patch[0x08:]),
		EncryptionTreeOffset: binary.LittleEndian.Uint64(patch[0x18:]),
		EncryptionTreeSize:   binary.LittleEndian.Uint64(patch[0x20:]),
	}

	h.UpperCounter = binary.LittleEndian.Uint64(buf[0x140:])

	sparse := buf[0x148:0x178]
	h.Sparse = SparseInfo{
		MetaOffset:     binary.LittleEndian.Uint64(sparse[0x00:]),
		MetaSize:       binary.LittleEndian.Uint64(sparse[0x08:]),
		PhysicalOffset: binary.LittleEndian.Uint64(sparse[0x18:]),
		Generation:     binary.LittleEndian.Uint16(sparse[0x20:]),
	}

	compression := buf[0x178:0x1a0]
	h.Compression = CompressionInfo{
		TableOffset: binary.LittleEndian.Uint64(compression[0x00:]),
		TableSize:   binary.LittleEndian.Uint64(compression[0x08:]),
	}

	return h, nil
}
