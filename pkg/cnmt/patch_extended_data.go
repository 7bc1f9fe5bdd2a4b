package cnmt

import (
	"encoding/binary"
	"fmt"

	"github.com/nxfs/hac-go/pkg/ids"
)

const contentMetaKeySize = 16 // title_id8+version4+ty1+install_ty1+pad2

func parseContentMetaKey(buf []byte) ids.ContentMetaKey {
	return ids.ContentMetaKey{
		TitleID: ids.ProgramID(binary.LittleEndian.Uint64(buf[0:])),
		Version: ids.Version(binary.LittleEndian.Uint32(buf[8:])),
		Type:    ids.ContentMetaType(buf[12]),
		Install: ids.ContentInstallType(buf[13]),
	}
}

// PatchHistoryHeader records one prior version's content meta identity and
// hash, part of a patch's update history.
type PatchHistoryHeader struct {
	Key          ids.ContentMetaKey
	Hash         [0x20]byte
	ContentCount uint16
	Field32      uint16
	Field34      uint32
}

const patchHistoryHeaderSize = contentMetaKeySize + 0x20 + 2 + 2 + 4 // 0x38

func parsePatchHistoryHeader(buf []byte) PatchHistoryHeader {
	var h PatchHistoryHeader
	h.Key = parseContentMetaKey(buf)
	copy(h.Hash[:], buf[contentMetaKeySize:contentMetaKeySize+0x20])
	off := contentMetaKeySize + 0x20
	h.ContentCount = binary.LittleEndian.Uint16(buf[off:])
	h.Field32 = binary.LittleEndian.Uint16(buf[off+2:])
	h.Field34 = binary.LittleEndian.Uint32(buf[off+4:])
	return h
}

// PatchDeltaHistory records the before/after title ids, versions and
// download size of one previously-applied delta.
type PatchDeltaHistory struct {
	TitleIDOld   ids.PatchID
	TitleIDNew   ids.PatchID
	VersionOld   uint32
	VersionNew   uint32
	DownloadSize uint64
}

const patchDeltaHistorySize = 8 + 8 + 4 + 4 + 8 + 8 // 0x28, trailing 8 bytes pad

func parsePatchDeltaHistory(buf []byte) PatchDeltaHistory {
	return PatchDeltaHistory{
		TitleIDOld:   ids.PatchID(binary.LittleEndian.Uint64(buf[0:])),
		TitleIDNew:   ids.PatchID(binary.LittleEndian.Uint64(buf[8:])),
		VersionOld:   binary.LittleEndian.Uint32(buf[16:]),
		VersionNew:   binary.LittleEndian.Uint32(buf[20:]),
		DownloadSize: binary.LittleEndian.Uint64(buf[24:]),
	}
}

// PatchDeltaHeader describes one delta's source/destination titles and how
// many fragment sets and contents it carries.
type PatchDeltaHeader struct {
	SourceID           ids.PatchID
	DestinationID      ids.PatchID
	SourceVersion      uint32
	DestinationVersion uint32
	FragmentSetCount   uint16
	ContentCount       uint16
}

const patchDeltaHeaderSize = 8 + 8 + 4 + 4 + 2 + 6 + 2 + 6 // 0x28

func parsePatchDeltaHeader(buf []byte) PatchDeltaHeader {
	return PatchDeltaHeader{
		SourceID:           ids.PatchID(binary.LittleEndian.Uint64(buf[0:])),
		DestinationID:      ids.PatchID(binary.LittleEndian.Uint64(buf[8:])),
		SourceVersion:      binary.LittleEndian.Uint32(buf[16:]),
		DestinationVersion: binary.LittleEndian.Uint32(buf[20:]),
		FragmentSetCount:   binary.LittleEndian.Uint16(buf[24:]),
		ContentCount:       binary.LittleEndian.Uint16(buf[32:]),
	}
}

// FragmentSet describes one content's fragment-based delta: the content it
// replaces, the content it produces, and how many fragments accomplish it.
// DestinationSize is stored with its 6 bytes byte-order reversed relative to
// every other multi-byte field in this format, for reasons lost to history.
type FragmentSet struct {
	SourceContentID      ids.ContentID
	DestinationContentID ids.ContentID
	SourceSize           uint64
	DestinationSize      uint64
	FragmentCount        uint16
	TargetContentType    ids.NcmContentType
	UpdateType           UpdateType
}

const fragmentSetSize = 16 + 16 + 6 + 6 + 2 + 1 + 1 + 4 // 0x34

func parseFragmentSet(buf []byte) FragmentSet {
	var f FragmentSet
	copy(f.SourceContentID[:], buf[0:16])
	copy(f.DestinationContentID[:], buf[16:32])
	f.SourceSize = readU48(buf[32:38])
	f.DestinationSize = readU48Rev(buf[38:44])
	f.FragmentCount = binary.LittleEndian.Uint16(buf[44:])
	f.TargetContentType = ids.NcmContentType(buf[46])
	f.UpdateType = UpdateType(buf[47])
	return f
}

// FragmentIndicator locates one fragment within its content and fragment set.
type FragmentIndicator struct {
	ContentIndex  uint16
	FragmentIndex uint16
}

const fragmentIndicatorSize = 4

func parseFragmentIndicator(buf []byte) FragmentIndicator {
	return FragmentIndicator{
		ContentIndex:  binary.LittleEndian.Uint16(buf[0:]),
		FragmentIndex: binary.LittleEndian.Uint16(buf[2:]),
	}
}

// PatchMetaExtendedData is the Patch-only extended data block: a patch's
// full update/delta history, the fragment sets of any in-progress delta
// update, and the content tables backing both.
type PatchMetaExtendedData struct {
	PatchHistory      []PatchHistoryHeader
	PatchDeltaHistory []PatchDeltaHistory
	PatchDeltaHeaders []PatchDeltaHeader
	FragmentSets      []FragmentSet
	HistoryContent    []ContentInfo
	DeltaContents     []PackagedContentInfo
	FragmentIndicators []FragmentIndicator
}

const patchMetaExtendedDataCountsSize = 6*4 + 4 // six u32 counts + 4-byte pad

// parsePatchMetaExtendedData decodes a PatchMetaExtendedData from buf and
// returns the number of bytes it consumed.
func parsePatchMetaExtendedData(buf []byte) (*PatchMetaExtendedData, int, error) {
	if len(buf) < patchMetaExtendedDataCountsSize {
		return nil, 0, fmt.Errorf("buffer too short for counts header")
	}

	historyCount := binary.LittleEndian.Uint32(buf[0:])
	deltaHistoryCount := binary.LittleEndian.Uint32(buf[4:])
	deltaCount := binary.LittleEndian.Uint32(buf[8:])
	fragmentSetCount := binary.LittleEndian.Uint32(buf[12:])
	historyContentTotalCount := binary.LittleEndian.Uint32(buf[16:])
	deltaContentTotalCount := binary.LittleEndian.Uint32(buf[20:])

	d := &PatchMetaExtendedData{}
	cursor := patchMetaExtendedDataCountsSize

	readArray := func(count uint32, size int, parse func([]byte)) error {
		for i := uint32(0); i < count; i++ {
			if cursor+size > len(buf) {
				return fmt.Errorf("buffer too short at offset %d", cursor)
			}
			parse(buf[cursor:])
			cursor += size
		}
		return nil
	}

	d.PatchHistory = make([]PatchHistoryHeader, 0, historyCount)
	if err := readArray(historyCount, patchHistoryHeaderSize, func(b []byte) {
		d.PatchHistory = append(d.PatchHistory, parsePatchHistoryHeader(b))
	}); err != nil {
		return nil, 0, err
	}

	d.PatchDeltaHistory = make([]PatchDeltaHistory, 0, deltaHistoryCount)
	if err := readArray(deltaHistoryCount, patchDeltaHistorySize, func(b []byte) {
		d.PatchDeltaHistory = append(d.PatchDeltaHistory, parsePatchDeltaHistory(b))
	}); err != nil {
		return nil, 0, err
	}

	d.PatchDeltaHeaders = make([]PatchDeltaHeader, 0, deltaCount)
	if err := readArray(deltaCount, patchDeltaHeaderSize, func(b []byte) {
		d.PatchDeltaHeaders = append(d.PatchDeltaHeaders, parsePatchDeltaHeader(b))
	}); err != nil {
		return nil, 0, err
	}

	d.FragmentSets = make([]FragmentSet, 0, fragmentSetCount)
	if err := readArray(fragmentSetCount, fragmentSetSize, func(b []byte) {
		d.FragmentSets = append(d.FragmentSets, parseFragmentSet(b))
	}); err != nil {
		return nil, 0, err
	}

	d.HistoryContent = make([]ContentInfo, 0, historyContentTotalCount)
	if err := readArray(historyContentTotalCount, contentInfoSize, func(b []byte) {
		d.HistoryContent = append(d.HistoryContent, parseContentInfo(b))
	}); err != nil {
		return nil, 0, err
	}

	d.DeltaContents = make([]PackagedContentInfo, 0, deltaContentTotalCount)
	if err := readArray(deltaContentTotalCount, packagedContentInfoSize, func(b []byte) {
		d.DeltaContents = append(d.DeltaContents, parsePackagedContentInfo(b))
	}); err != nil {
		return nil, 0, err
	}

	fragmentIndicatorCount := uint32(0)
	for _, fs := range d.FragmentSets {
		fragmentIndicatorCount += uint32(fs.FragmentCount)
	}

	d.FragmentIndicators = make([]FragmentIndicator, 0, fragmentIndicatorCount)
	if err := readArray(fragmentIndicatorCount, fragmentIndicatorSize, func(b []byte) {
		d.FragmentIndicators = append(d.FragmentIndicators, parseFragmentIndicator(b))
	}); err != nil {
		return nil, 0, err
	}

	return d, cursor, nil
}
