package ticket

import (
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxfs/hac-go/pkg/crypto"
	"github.com/nxfs/hac-go/pkg/ids"
	"github.com/nxfs/hac-go/pkg/keys"
)

func key16(b byte) []byte {
	k := make([]byte, 16)
	for i := range k {
		k[i] = b
	}
	return k
}

// buildTicket assembles a minimal well-formed ticket blob using the
// ECDSA-SHA256 signature variant (smallest payload), common title key type.
func buildTicket(t *testing.T, titleKeyBlockFirst16 []byte, rightsID ids.RightsID, cryptoType uint8) []byte {
	t.Helper()
	sigPayload, err := signaturePayloadSize(SignatureEcdsaSha256)
	require.NoError(t, err)

	buf := make([]byte, 4+sigPayload+issuerSize+titleKeyBlockSize+10+6+48)
	binary.LittleEndian.PutUint32(buf[0:], uint32(SignatureEcdsaSha256))

	cursor := 4 + sigPayload
	copy(buf[cursor:cursor+issuerSize], "Root-CA00000003-XS00000020")
	cursor += issuerSize

	copy(buf[cursor:cursor+16], titleKeyBlockFirst16)
	cursor += titleKeyBlockSize

	buf[cursor] = 2           // format version
	buf[cursor+1] = byte(TitleKeyTypeCommon)
	binary.LittleEndian.PutUint16(buf[cursor+2:], 1) // ticket version
	buf[cursor+4] = byte(LicenseTypePermanent)
	buf[cursor+5] = cryptoType
	binary.LittleEndian.PutUint32(buf[cursor+6:], uint32(PropertyFlagAllowAllContent))
	cursor += 10
	cursor += 6 // pad before ticket_id

	binary.LittleEndian.PutUint64(buf[cursor:], 0x1122334455667788)   // ticket id
	binary.LittleEndian.PutUint64(buf[cursor+8:], 0xAABBCCDDEEFF0011) // device id
	copy(buf[cursor+16:cursor+32], rightsID[:])
	binary.LittleEndian.PutUint32(buf[cursor+32:], 7) // account id
	binary.LittleEndian.PutUint32(buf[cursor+36:], 0x20)
	binary.LittleEndian.PutUint32(buf[cursor+40:], 0x2C0)
	binary.LittleEndian.PutUint16(buf[cursor+44:], 1)
	binary.LittleEndian.PutUint16(buf[cursor+46:], 0x20)

	return buf
}

func TestParseCommonTicket(t *testing.T) {
	rightsID := ids.RightsID{0x01, 0x02, 0x03, 0x04}
	titleKeyFirst16 := key16(0xAA)

	buf := buildTicket(t, titleKeyFirst16, rightsID, 0)

	tk, err := Parse(buf)
	require.NoError(t, err)

	assert.Equal(t, SignatureEcdsaSha256, tk.SignatureType)
	assert.Equal(t, "Root-CA00000003-XS00000020", tk.Issuer)
	assert.Equal(t, TitleKeyTypeCommon, tk.TitleKeyType)
	assert.Equal(t, titleKeyFirst16, tk.TitleKeyBlock[:16])
	assert.Equal(t, rightsID, tk.RightsID)
	assert.Equal(t, uint64(0x1122334455667788), tk.TicketID)
	assert.Equal(t, PropertyFlagAllowAllContent, tk.PropertyFlags)
}

func TestTitleKeyDecryptsWithTitleKek(t *testing.T) {
	rightsID := ids.RightsID{0xAB, 0xCD}
	masterKey := key16(0x10)
	titlekekSource := key16(0x20)

	titleKek, err := crypto.ECBDecrypt(titlekekSource, masterKey)
	require.NoError(t, err)

	encryptedBlock, err := crypto.ECBEncrypt(key16(0x99), titleKek)
	require.NoError(t, err)

	buf := buildTicket(t, encryptedBlock, rightsID, 0)
	tk, err := Parse(buf)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "prod.keys")
	contents := "master_key_00 = " + hex.EncodeToString(masterKey) + "\n" +
		"titlekek_source = " + hex.EncodeToString(titlekekSource) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	k := keys.New()
	require.NoError(t, k.LoadKeysFile(path))
	require.NoError(t, k.DeriveKeys())

	got, err := tk.TitleKey(k)
	require.NoError(t, err)
	assert.Equal(t, key16(0x99), got)
}

func TestTitleKeyRejectsPersonalized(t *testing.T) {
	rightsID := ids.RightsID{0x01}
	buf := buildTicket(t, key16(0xAA), rightsID, 0)
	buf[4+mustPayloadSize(t)+issuerSize+titleKeyBlockSize+1] = byte(TitleKeyTypePersonalized)

	tk, err := Parse(buf)
	require.NoError(t, err)

	_, err = tk.TitleKey(keys.New())
	var unsupported *UnsupportedTitleKeyTypeError
	assert.ErrorAs(t, err, &unsupported)
}

func mustPayloadSize(t *testing.T) int {
	t.Helper()
	n, err := signaturePayloadSize(SignatureEcdsaSha256)
	require.NoError(t, err)
	return n
}
