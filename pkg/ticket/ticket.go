// Package ticket parses Ticket (".tik") blobs: the per-title rights grant
// whose title_key_block, once unwrapped with the title-KEK for its declared
// master-key revision, is the content key for all of that title's
// RightsId-keyed NCAs.
package ticket

import (
	"encoding/binary"
	"fmt"

	"github.com/nxfs/hac-go/pkg/ids"
	"github.com/nxfs/hac-go/pkg/keys"
)

// SignatureType tags which signature algorithm (and therefore payload size)
// a ticket's leading Signature block uses.
type SignatureType uint32

const (
	SignatureRsa4096Sha1   SignatureType = 0x10000
	SignatureRsa2048Sha1   SignatureType = 0x10001
	SignatureEcdsaSha1     SignatureType = 0x10002
	SignatureRsa4096Sha256 SignatureType = 0x10003
	SignatureRsa2048Sha256 SignatureType = 0x10004
	SignatureEcdsaSha256   SignatureType = 0x10005
)

// signaturePayloadSize is each signature type's data+padding size,
// immediately following its 4-byte magic.
func signaturePayloadSize(t SignatureType) (int, error) {
	switch t {
	case SignatureRsa4096Sha1, SignatureRsa4096Sha256:
		return 0x200 + 0x3c, nil
	case SignatureRsa2048Sha1, SignatureRsa2048Sha256:
		return 0x100 + 0x3c, nil
	case SignatureEcdsaSha1, SignatureEcdsaSha256:
		return 0x3c + 0x40, nil
	default:
		return 0, fmt.Errorf("ticket: unknown signature type %#x", uint32(t))
	}
}

// TitleKeyType distinguishes a ticket shared across every console
// (Common) from one wrapped specifically for a single console
// (Personalized, not supported by this package).
type TitleKeyType uint8

const (
	TitleKeyTypeCommon       TitleKeyType = 0
	TitleKeyTypePersonalized TitleKeyType = 1
)

// LicenseType classifies the grant (full purchase, demo, rental, ...);
// hac-go does not act on it, only round-trips it.
type LicenseType uint8

const (
	LicenseTypePermanent    LicenseType = 0
	LicenseTypeDemo         LicenseType = 1
	LicenseTypeTrial        LicenseType = 2
	LicenseTypeRental       LicenseType = 3
	LicenseTypeSubscription LicenseType = 4
	LicenseTypeService      LicenseType = 5
)

// PropertyFlags is a bitflag set of ticket properties.
type PropertyFlags uint32

const (
	PropertyFlagPreInstall      PropertyFlags = 1 << 0
	PropertyFlagSharedTitle     PropertyFlags = 1 << 1
	PropertyFlagAllowAllContent PropertyFlags = 1 << 2
)

const issuerSize = 0x40
const titleKeyBlockSize = 0x100

// UnsupportedTitleKeyTypeError is returned by TitleKey for a Personalized
// ticket, whose title key is wrapped per-console and needs a console's
// private key to recover (out of scope here: hac-go only processes tickets
// meant to travel with the content, not per-console license transfers).
type UnsupportedTitleKeyTypeError struct{ Type TitleKeyType }

func (e *UnsupportedTitleKeyTypeError) Error() string {
	return fmt.Sprintf("ticket: title key type %d is not supported", e.Type)
}

// Ticket is a fully parsed .tik blob.
type Ticket struct {
	SignatureType   SignatureType
	Issuer          string
	TitleKeyBlock   [titleKeyBlockSize]byte
	FormatVersion   uint8
	TitleKeyType    TitleKeyType
	TicketVersion   uint16
	LicenseType     LicenseType
	CryptoType      uint8 // master-key revision the title key block is wrapped under
	PropertyFlags   PropertyFlags
	TicketID        uint64
	DeviceID        uint64
	RightsID        ids.RightsID
	AccountID       uint32
	SectTotalSize   uint32
	SectHeaderOffset uint32
	SectNum         uint16
	SectEntrySize   uint16
}

func readCString(buf []byte) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

// Parse decodes a complete .tik blob.
func Parse(buf []byte) (*Ticket, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("ticket: buffer too short for signature magic")
	}
	sigType := SignatureType(binary.LittleEndian.Uint32(buf[0:]))
	payloadSize, err := signaturePayloadSize(sigType)
	if err != nil {
		return nil, err
	}

	cursor := 4 + payloadSize
	if cursor+issuerSize+titleKeyBlockSize+0xa+0x6+0x8+0x8+0x10+0x4+0x4+0x4+0x2+0x2 > len(buf) {
		return nil, fmt.Errorf("ticket: buffer too short for fixed body")
	}

	t := &Ticket{SignatureType: sigType}
	t.Issuer = readCString(buf[cursor : cursor+issuerSize])
	cursor += issuerSize

	copy(t.TitleKeyBlock[:], buf[cursor:cursor+titleKeyBlockSize])
	cursor += titleKeyBlockSize

	t.FormatVersion = buf[cursor]
	t.TitleKeyType = TitleKeyType(buf[cursor+1])
	t.TicketVersion = binary.LittleEndian.Uint16(buf[cursor+2:])
	t.LicenseType = LicenseType(buf[cursor+4])
	t.CryptoType = buf[cursor+5]
	t.PropertyFlags = PropertyFlags(binary.LittleEndian.Uint32(buf[cursor+6:]))
	cursor += 10
	cursor += 6 // pad_before ticket_id

	t.TicketID = binary.LittleEndian.Uint64(buf[cursor:])
	t.DeviceID = binary.LittleEndian.Uint64(buf[cursor+8:])
	copy(t.RightsID[:], buf[cursor+16:cursor+32])
	t.AccountID = binary.LittleEndian.Uint32(buf[cursor+32:])
	t.SectTotalSize = binary.LittleEndian.Uint32(buf[cursor+36:])
	t.SectHeaderOffset = binary.LittleEndian.Uint32(buf[cursor+40:])
	t.SectNum = binary.LittleEndian.Uint16(buf[cursor+44:])
	t.SectEntrySize = binary.LittleEndian.Uint16(buf[cursor+46:])

	return t, nil
}

// TitleKey recovers the raw 16-byte content title key: for a Common ticket,
// the first 16 bytes of title_key_block decrypted with the title-KEK for
// CryptoType (the ticket's declared master-key revision).
func (t *Ticket) TitleKey(keySet *keys.KeySet) ([]byte, error) {
	if t.TitleKeyType != TitleKeyTypeCommon {
		return nil, &UnsupportedTitleKeyTypeError{Type: t.TitleKeyType}
	}
	return keySet.DecryptTitleKeyBlock(t.TitleKeyBlock[:0x10], t.CryptoType)
}

// Import decrypts t's title key and records it in keySet under t's rights id.
func (t *Ticket) Import(keySet *keys.KeySet) error {
	titleKey, err := t.TitleKey(keySet)
	if err != nil {
		return err
	}
	return keySet.ImportTicket(t.RightsID, titleKey)
}
