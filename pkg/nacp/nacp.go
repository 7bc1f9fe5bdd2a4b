// Package nacp parses ApplicationControlProperty ("control.nacp") blobs:
// the fixed 0x4000-byte record, embedded in a title's Control-type NCA,
// carrying its localized titles, ratings and save-data sizing.
package nacp

import (
	"encoding/binary"
	"fmt"

	"github.com/nxfs/hac-go/pkg/ids"
)

// Size is the fixed on-disk size of an ApplicationControlProperty.
const Size = 0x4000

// Language indexes the 16 localized ProgramTitle slots, in their fixed
// on-disk order.
type Language int

const (
	LanguageAmericanEnglish Language = iota
	LanguageBritishEnglish
	LanguageJapanese
	LanguageFrench
	LanguageGerman
	LanguageLatinAmericanSpanish
	LanguageSpanish
	LanguageItalian
	LanguageDutch
	LanguageCanadianFrench
	LanguagePortuguese
	LanguageRussian
	LanguageKorean
	LanguageTraditionalChinese
	LanguageSimplifiedChinese
	LanguageBrazilianPortuguese
	numLanguages
)

// Organization indexes the 32 rating-age slots, in their fixed on-disk
// order.
type Organization int

const (
	OrganizationCERO Organization = iota
	OrganizationGRACGCRB
	OrganizationGSRMR
	OrganizationESRB
	OrganizationClassInd
	OrganizationUSK
	OrganizationPEGI
	OrganizationPEGIPortugal
	OrganizationPEGIBBFC
	OrganizationRussian
	OrganizationACB
	OrganizationOFLC
	OrganizationIARCGeneric
	numOrganizations = 32
)

const (
	titleNameSize      = 0x200
	titlePublisherSize = 0x100
	programTitleSize   = titleNameSize + titlePublisherSize
	titleTableSize     = int(numLanguages) * programTitleSize // 0x3000
)

// ProgramTitle is one language's localized name and publisher.
type ProgramTitle struct {
	Name      string
	Publisher string
}

func readCString(buf []byte) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

func parseProgramTitle(buf []byte) ProgramTitle {
	return ProgramTitle{
		Name:      readCString(buf[:titleNameSize]),
		Publisher: readCString(buf[titleNameSize : titleNameSize+titlePublisherSize]),
	}
}

// NeighborDetectionGroupConfiguration is one local-play group's id and key.
type NeighborDetectionGroupConfiguration struct {
	GroupID uint64
	Key     [0x10]byte
}

const neighborGroupConfigSize = 8 + 0x10

func parseNeighborGroupConfig(buf []byte) NeighborDetectionGroupConfiguration {
	var c NeighborDetectionGroupConfiguration
	c.GroupID = binary.LittleEndian.Uint64(buf[0:])
	copy(c.Key[:], buf[8:8+0x10])
	return c
}

// NeighborDetectionClientConfiguration is the local-play send/receive group
// configuration.
type NeighborDetectionClientConfiguration struct {
	SendGroup         NeighborDetectionGroupConfiguration
	ReceivableGroups  [0x10]NeighborDetectionGroupConfiguration
}

const neighborDetectionConfigSize = neighborGroupConfigSize + 0x10*neighborGroupConfigSize // 0x198

func parseNeighborDetectionConfig(buf []byte) NeighborDetectionClientConfiguration {
	var c NeighborDetectionClientConfiguration
	c.SendGroup = parseNeighborGroupConfig(buf)
	for i := 0; i < 0x10; i++ {
		off := neighborGroupConfigSize + i*neighborGroupConfigSize
		c.ReceivableGroups[i] = parseNeighborGroupConfig(buf[off:])
	}
	return c
}

// JitConfiguration carries the just-in-time compilation memory budget.
type JitConfiguration struct {
	Flags      uint64
	MemorySize uint64
}

const jitConfigurationSize = 16

func parseJitConfiguration(buf []byte) JitConfiguration {
	return JitConfiguration{
		Flags:      binary.LittleEndian.Uint64(buf[0:]),
		MemorySize: binary.LittleEndian.Uint64(buf[8:]),
	}
}

// ApplicationControlProperty is a fully parsed control.nacp.
type ApplicationControlProperty struct {
	Title [numLanguages]ProgramTitle

	ISBN [37]byte

	StartupUserAccount             uint8
	UserAccountSwitchLock          uint8
	AddOnContentRegistrationType   uint8
	AttributeFlag                  uint32
	SupportedLanguageFlag          uint32
	ParentalControlFlag            uint32
	Screenshot                     uint8
	VideoCapture                   uint8
	DataLossConfirmation           uint8
	PlayLogPolicy                  uint8
	PresenceGroupID                uint64

	RatingAge [numOrganizations]int8

	DisplayVersion [16]byte

	AddOnContentBaseID ids.AnyID
	SaveDataOwnerID    ids.AnyID

	UserAccountSaveDataSize           int64
	UserAccountSaveDataJournalSize    int64
	DeviceSaveDataSize                int64
	DeviceSaveDataJournalSize         int64
	BcatDeliveryCacheStorageSize      int64

	ApplicationErrorCodeCategory [8]byte
	LocalCommunicationID         [8]uint64

	LogoType                     uint8
	LogoHandling                 uint8
	RuntimeAddOnContentInstall   uint8
	RuntimeParameterDelivery     uint8

	CrashReport uint8
	Hdcp        uint8

	SeedForPseudoDeviceID uint64
	BcatPassphrase        [65]byte

	StartupUserAccountOption uint8

	UserAccountSaveDataSizeMax        int64
	UserAccountSaveDataJournalSizeMax int64
	DeviceSaveDataSizeMax             int64
	DeviceSaveDataJournalSizeMax      int64
	TemporaryStorageSize              int64
	CacheStorageSize                  int64
	CacheStorageJournalSize           int64
	CacheStorageDataAndJournalSizeMax int64
	CacheStorageIndexMax              uint16

	RuntimeUpgrade              uint8
	SupportingLimitedLicenses   uint32
	PlayLogQueryableApplicationID [16]uint64
	PlayLogQueryCapability      uint8
	RepairFlag                  uint8
	ProgramIndex                uint8
	RequiredNetworkServiceLicenseOnLaunchFlag uint8

	NeighborDetectionClientConfiguration NeighborDetectionClientConfiguration
	JitConfiguration                      JitConfiguration

	RequiredAddOnContentsSetBinaryDescriptors [0x20]uint16

	PlayReportPermission              uint8
	CrashScreenshotForProd             uint8
	CrashScreenshotForDev              uint8
	ContentsAvailabilityTransitionPolicy uint8

	AccessibleLaunchRequiredVersion [8]uint64
}

// AnyTitle returns the first localized title with a non-empty name, the
// conventional fallback when a specific language isn't available.
func (a *ApplicationControlProperty) AnyTitle() (ProgramTitle, bool) {
	for _, t := range a.Title {
		if t.Name != "" {
			return t, true
		}
	}
	return ProgramTitle{}, false
}

// Parse decodes a complete 0x4000-byte control.nacp blob.
func Parse(buf []byte) (*ApplicationControlProperty, error) {
	if len(buf) != Size {
		return nil, fmt.Errorf("nacp: buffer must be %#x bytes, got %#x", Size, len(buf))
	}

	a := &ApplicationControlProperty{}
	for i := 0; i < int(numLanguages); i++ {
		a.Title[i] = parseProgramTitle(buf[i*programTitleSize:])
	}

	off := titleTableSize
	copy(a.ISBN[:], buf[off:off+37])
	off += 37

	a.StartupUserAccount = buf[off]
	a.UserAccountSwitchLock = buf[off+1]
	a.AddOnContentRegistrationType = buf[off+2]
	a.AttributeFlag = binary.LittleEndian.Uint32(buf[off+3:])
	a.SupportedLanguageFlag = binary.LittleEndian.Uint32(buf[off+7:])
	a.ParentalControlFlag = binary.LittleEndian.Uint32(buf[off+11:])
	a.Screenshot = buf[off+15]
	a.VideoCapture = buf[off+16]
	a.DataLossConfirmation = buf[off+17]
	a.PlayLogPolicy = buf[off+18]
	a.PresenceGroupID = binary.LittleEndian.Uint64(buf[off+19:])
	off += 27 // 3 + 4 + 4 + 4 + 4*1 + 8 = 27

	for i := 0; i < int(numOrganizations); i++ {
		a.RatingAge[i] = int8(buf[off+i])
	}
	off += int(numOrganizations)

	copy(a.DisplayVersion[:], buf[off:off+16])
	off += 16

	a.AddOnContentBaseID = ids.AnyID(binary.LittleEndian.Uint64(buf[off:]))
	a.SaveDataOwnerID = ids.AnyID(binary.LittleEndian.Uint64(buf[off+8:]))
	off += 16

	a.UserAccountSaveDataSize = int64(binary.LittleEndian.Uint64(buf[off:]))
	a.UserAccountSaveDataJournalSize = int64(binary.LittleEndian.Uint64(buf[off+8:]))
	a.DeviceSaveDataSize = int64(binary.LittleEndian.Uint64(buf[off+16:]))
	a.DeviceSaveDataJournalSize = int64(binary.LittleEndian.Uint64(buf[off+24:]))
	a.BcatDeliveryCacheStorageSize = int64(binary.LittleEndian.Uint64(buf[off+32:]))
	off += 40

	copy(a.ApplicationErrorCodeCategory[:], buf[off:off+8])
	off += 8

	for i := 0; i < 8; i++ {
		a.LocalCommunicationID[i] = binary.LittleEndian.Uint64(buf[off+i*8:])
	}
	off += 64

	a.LogoType = buf[off]
	a.LogoHandling = buf[off+1]
	a.RuntimeAddOnContentInstall = buf[off+2]
	a.RuntimeParameterDelivery = buf[off+3]
	off += 4
	off += 2 // reserved30f4

	a.CrashReport = buf[off]
	a.Hdcp = buf[off+1]
	off += 2

	a.SeedForPseudoDeviceID = binary.LittleEndian.Uint64(buf[off:])
	off += 8

	copy(a.BcatPassphrase[:], buf[off:off+65])
	off += 65

	a.StartupUserAccountOption = buf[off]
	off++
	off += 6 // reserved_for_user_account_save_data_operation

	a.UserAccountSaveDataSizeMax = int64(binary.LittleEndian.Uint64(buf[off:]))
	a.UserAccountSaveDataJournalSizeMax = int64(binary.LittleEndian.Uint64(buf[off+8:]))
	a.DeviceSaveDataSizeMax = int64(binary.LittleEndian.Uint64(buf[off+16:]))
	a.DeviceSaveDataJournalSizeMax = int64(binary.LittleEndian.Uint64(buf[off+24:]))
	a.TemporaryStorageSize = int64(binary.LittleEndian.Uint64(buf[off+32:]))
	a.CacheStorageSize = int64(binary.LittleEndian.Uint64(buf[off+40:]))
	a.CacheStorageJournalSize = int64(binary.LittleEndian.Uint64(buf[off+48:]))
	a.CacheStorageDataAndJournalSizeMax = int64(binary.LittleEndian.Uint64(buf[off+56:]))
	a.CacheStorageIndexMax = binary.LittleEndian.Uint16(buf[off+64:])
	off += 66

	off++ // reserved318a
	a.RuntimeUpgrade = buf[off]
	off++
	a.SupportingLimitedLicenses = binary.LittleEndian.Uint32(buf[off:])
	off += 4

	for i := 0; i < 16; i++ {
		a.PlayLogQueryableApplicationID[i] = binary.LittleEndian.Uint64(buf[off+i*8:])
	}
	off += 128

	a.PlayLogQueryCapability = buf[off]
	a.RepairFlag = buf[off+1]
	a.ProgramIndex = buf[off+2]
	a.RequiredNetworkServiceLicenseOnLaunchFlag = buf[off+3]
	off += 4
	off += 4 // reserved3214

	a.NeighborDetectionClientConfiguration = parseNeighborDetectionConfig(buf[off:])
	off += neighborDetectionConfigSize

	a.JitConfiguration = parseJitConfiguration(buf[off:])
	off += jitConfigurationSize

	for i := 0; i < 0x20; i++ {
		a.RequiredAddOnContentsSetBinaryDescriptors[i] = binary.LittleEndian.Uint16(buf[off+i*2:])
	}
	off += 0x40

	a.PlayReportPermission = buf[off]
	a.CrashScreenshotForProd = buf[off+1]
	a.CrashScreenshotForDev = buf[off+2]
	a.ContentsAvailabilityTransitionPolicy = buf[off+3]
	off += 4
	off += 4 // reserved3404

	for i := 0; i < 8; i++ {
		a.AccessibleLaunchRequiredVersion[i] = binary.LittleEndian.Uint64(buf[off+i*8:])
	}
	off += 64

	// Remaining bytes to Size are reserved padding.
	return a, nil
}
