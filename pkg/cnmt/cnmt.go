// Package cnmt parses PackagedContentMeta (".cnmt") blobs: the metadata
// record inside a Meta-type NCA describing every content item a title
// installs, keyed by content-meta type into extended header/data variants
// (Application, Patch, AddOnContent, Delta, SystemUpdate).
package cnmt

import (
	"encoding/binary"
	"fmt"

	"github.com/nxfs/hac-go/pkg/ids"
)

const fixedHeaderSize = 0x20

// readU40 decodes a 5-byte little-endian unsigned integer, the size
// encoding PackagedContentInfo and ContentInfo share.
func readU40(buf []byte) uint64 {
	var b [8]byte
	copy(b[:5], buf[:5])
	return binary.LittleEndian.Uint64(b[:])
}

// readU48 decodes a 6-byte little-endian unsigned integer.
func readU48(buf []byte) uint64 {
	var b [8]byte
	copy(b[:6], buf[:6])
	return binary.LittleEndian.Uint64(b[:])
}

// readU48Rev decodes FragmentSet's destination_size: the same 6 bytes as
// readU48, but with their byte order reversed before being read as
// little-endian. The original format comment flags this as unexplained.
func readU48Rev(buf []byte) uint64 {
	var rev [6]byte
	for i := 0; i < 6; i++ {
		rev[i] = buf[5-i]
	}
	return readU48(rev[:])
}

// ContentInfo describes one content item's id, size and role.
type ContentInfo struct {
	ContentID         ids.ContentID
	Size              uint64
	ContentAttributes uint8
	Type              ids.NcmContentType
	IDOffset          uint8
}

const contentInfoSize = 0x18 // 16 + 5 + 1 + 1 + 1

func parseContentInfo(buf []byte) ContentInfo {
	var c ContentInfo
	copy(c.ContentID[:], buf[0:16])
	c.Size = readU40(buf[16:21])
	c.ContentAttributes = buf[21]
	c.Type = ids.NcmContentType(buf[22])
	c.IDOffset = buf[23]
	return c
}

// PackagedContentInfo is a ContentInfo plus the SHA-256 hash of its content.
type PackagedContentInfo struct {
	Hash        [0x20]byte
	ContentInfo ContentInfo
}

const packagedContentInfoSize = 0x20 + contentInfoSize

func parsePackagedContentInfo(buf []byte) PackagedContentInfo {
	var p PackagedContentInfo
	copy(p.Hash[:], buf[0:0x20])
	p.ContentInfo = parseContentInfo(buf[0x20:])
	return p
}

// ContentMetaAttribute is a bitflag set of packaging properties.
type ContentMetaAttribute uint8

const (
	ContentMetaAttributeIncludesExfatDriver ContentMetaAttribute = 0x01
	ContentMetaAttributeRebootless           ContentMetaAttribute = 0x02
	ContentMetaAttributeCompacted             ContentMetaAttribute = 0x04
)

// ContentMetaInstallState is a bitflag set of install-progress markers.
type ContentMetaInstallState uint8

const ContentMetaInstallStateCommitted ContentMetaInstallState = 0x01

// ContentMetaInfo references another title's content meta, used by
// SystemUpdate's content_meta_info table.
type ContentMetaInfo struct {
	TitleID    ids.ProgramID
	Version    ids.Version
	Type       ids.NcmContentType
	Attributes ContentMetaAttribute
}

const contentMetaInfoSize = 16 // title_id8+version4+ty1+attributes1+pad2

func parseContentMetaInfo(buf []byte) ContentMetaInfo {
	return ContentMetaInfo{
		TitleID:    ids.ProgramID(binary.LittleEndian.Uint64(buf[0:])),
		Version:    ids.Version(binary.LittleEndian.Uint32(buf[8:])),
		Type:       ids.NcmContentType(buf[12]),
		Attributes: ContentMetaAttribute(buf[13]),
	}
}

// UpdateType classifies how a FragmentSet's destination replaces its source.
type UpdateType uint8

const (
	UpdateTypeApplyAsDelta UpdateType = 0
	UpdateTypeOverwrite    UpdateType = 1
	UpdateTypeCreate       UpdateType = 2
)

// ExtendedMetaHeader is the content-meta-type-tagged header following the
// fixed 0x20-byte PackagedContentMeta prefix. Exactly one of the typed
// fields is populated, selected by the enclosing PackagedContentMeta's Type;
// content-meta types with no extended header (most system types) populate
// none.
type ExtendedMetaHeader struct {
	SystemUpdate *SystemUpdateExtendedHeader
	Application  *ApplicationExtendedHeader
	Patch        *PatchExtendedHeader
	AddOnContent *AddOnContentExtendedHeader
	Delta        *DeltaExtendedHeader
}

type SystemUpdateExtendedHeader struct {
	ExtendedDataSize uint32
}

type ApplicationExtendedHeader struct {
	PatchID                     ids.PatchID
	RequiredSystemVersion       uint32
	RequiredApplicationVersion uint32
}

type PatchExtendedHeader struct {
	ApplicationID         ids.ApplicationID
	RequiredSystemVersion uint32
	ExtendedDataSize      uint32
}

type AddOnContentExtendedHeader struct {
	ApplicationID              ids.ApplicationID
	RequiredApplicationVersion uint32
	ContentAccessibilities     uint8
	DataPatchID                ids.DataPatchID
}

type DeltaExtendedHeader struct {
	ApplicationID    ids.ApplicationID
	ExtendedDataSize uint32
}

// extendedHeaderSize returns the on-disk size of metaType's extended header,
// used both to parse it and to know where the content_info array starts.
func extendedHeaderSize(metaType ids.ContentMetaType, declaredSize uint16) int {
	switch metaType {
	case ids.ContentMetaTypeSystemUpdate:
		if declaredSize == 0 {
			return 0
		}
		return 4
	case ids.ContentMetaTypeApplication:
		return 16
	case ids.ContentMetaTypePatch:
		return 24
	case ids.ContentMetaTypeAddOnContent:
		return 24
	case ids.ContentMetaTypeDelta:
		return 16
	default:
		return 0
	}
}

func parseExtendedMetaHeader(metaType ids.ContentMetaType, buf []byte) ExtendedMetaHeader {
	var h ExtendedMetaHeader
	switch metaType {
	case ids.ContentMetaTypeSystemUpdate:
		if len(buf) >= 4 {
			h.SystemUpdate = &SystemUpdateExtendedHeader{ExtendedDataSize: binary.LittleEndian.Uint32(buf)}
		}
	case ids.ContentMetaTypeApplication:
		h.Application = &ApplicationExtendedHeader{
			PatchID:                     ids.PatchID(binary.LittleEndian.Uint64(buf[0:])),
			RequiredSystemVersion:       binary.LittleEndian.Uint32(buf[8:]),
			RequiredApplicationVersion: binary.LittleEndian.Uint32(buf[12:]),
		}
	case ids.ContentMetaTypePatch:
		h.Patch = &PatchExtendedHeader{
			ApplicationID:         ids.ApplicationID(binary.LittleEndian.Uint64(buf[0:])),
			RequiredSystemVersion: binary.LittleEndian.Uint32(buf[8:]),
			ExtendedDataSize:      binary.LittleEndian.Uint32(buf[12:]),
		}
	case ids.ContentMetaTypeAddOnContent:
		h.AddOnContent = &AddOnContentExtendedHeader{
			ApplicationID:              ids.ApplicationID(binary.LittleEndian.Uint64(buf[0:])),
			RequiredApplicationVersion: binary.LittleEndian.Uint32(buf[8:]),
			ContentAccessibilities:     buf[12],
			// buf[13:16] is reserved padding.
			DataPatchID: ids.DataPatchID(binary.LittleEndian.Uint64(buf[16:])),
		}
	case ids.ContentMetaTypeDelta:
		h.Delta = &DeltaExtendedHeader{
			ApplicationID:    ids.ApplicationID(binary.LittleEndian.Uint64(buf[0:])),
			ExtendedDataSize: binary.LittleEndian.Uint32(buf[8:]),
		}
	}
	return h
}

// PackagedContentMeta is a fully parsed .cnmt blob.
type PackagedContentMeta struct {
	TitleID                        ids.ProgramID
	Version                        ids.Version
	Type                            ids.ContentMetaType
	ExtendedHeaderSize              uint16
	Attributes                      ContentMetaAttribute
	StorageID                       ids.StorageId
	ContentInstallType              ids.ContentInstallType
	InstallState                    ContentMetaInstallState
	RequiredDownloadSystemVersion  uint32

	ExtendedHeader ExtendedMetaHeader

	ContentInfos     []PackagedContentInfo
	ContentMetaInfos []ContentMetaInfo

	PatchExtendedData *PatchMetaExtendedData

	Hash [0x20]byte
}

// Parse decodes a complete .cnmt blob.
func Parse(buf []byte) (*PackagedContentMeta, error) {
	if len(buf) < fixedHeaderSize {
		return nil, fmt.Errorf("cnmt: buffer too short for fixed header: %d bytes", len(buf))
	}

	m := &PackagedContentMeta{
		TitleID:                       ids.ProgramID(binary.LittleEndian.Uint64(buf[0x00:])),
		Version:                       ids.Version(binary.LittleEndian.Uint32(buf[0x08:])),
		Type:                          ids.ContentMetaType(buf[0x0c]),
		ExtendedHeaderSize:            binary.LittleEndian.Uint16(buf[0x0e:]),
		Attributes:                    ContentMetaAttribute(buf[0x14]),
		StorageID:                     ids.StorageId(buf[0x15]),
		ContentInstallType:            ids.ContentInstallType(buf[0x16]),
		InstallState:                  ContentMetaInstallState(buf[0x17]),
		RequiredDownloadSystemVersion: binary.LittleEndian.Uint32(buf[0x18:]),
	}

	contentCount := binary.LittleEndian.Uint16(buf[0x10:])
	contentMetaCount := binary.LittleEndian.Uint16(buf[0x12:])

	extHdrSize := extendedHeaderSize(m.Type, m.ExtendedHeaderSize)
	extHdrOff := fixedHeaderSize
	if extHdrOff+extHdrSize > len(buf) {
		return nil, fmt.Errorf("cnmt: buffer too short for extended header: need %d, have %d", extHdrOff+extHdrSize, len(buf))
	}
	m.ExtendedHeader = parseExtendedMetaHeader(m.Type, buf[extHdrOff:extHdrOff+extHdrSize])

	// The content_info array starts at a fixed offset from the extended
	// header's declared size, not from however many bytes we just parsed:
	// padding between the two is content-meta-type specific and already
	// folded into ExtendedHeaderSize by the packaging tool.
	cursor := fixedHeaderSize + int(m.ExtendedHeaderSize)

	m.ContentInfos = make([]PackagedContentInfo, contentCount)
	for i := range m.ContentInfos {
		if cursor+packagedContentInfoSize > len(buf) {
			return nil, fmt.Errorf("cnmt: buffer too short for content_info[%d]", i)
		}
		m.ContentInfos[i] = parsePackagedContentInfo(buf[cursor:])
		cursor += packagedContentInfoSize
	}

	m.ContentMetaInfos = make([]ContentMetaInfo, contentMetaCount)
	for i := range m.ContentMetaInfos {
		if cursor+contentMetaInfoSize > len(buf) {
			return nil, fmt.Errorf("cnmt: buffer too short for content_meta_info[%d]", i)
		}
		m.ContentMetaInfos[i] = parseContentMetaInfo(buf[cursor:])
		cursor += contentMetaInfoSize
	}

	if m.Type == ids.ContentMetaTypePatch {
		data, n, err := parsePatchMetaExtendedData(buf[cursor:])
		if err != nil {
			return nil, fmt.Errorf("cnmt: extended data: %w", err)
		}
		m.PatchExtendedData = data
		cursor += n
	}

	if cursor+0x20 > len(buf) {
		return nil, fmt.Errorf("cnmt: buffer too short for trailing hash")
	}
	copy(m.Hash[:], buf[cursor:cursor+0x20])

	return m, nil
}
