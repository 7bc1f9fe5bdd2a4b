package keys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxfs/hac-go/pkg/crypto"
	"github.com/nxfs/hac-go/pkg/ids"
)

// ============================================================================
// Key File Loading
// ============================================================================

func writeKeysFile(t *testing.T, dir string, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "prod.keys")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadKeysFile(t *testing.T) {
	t.Run("ParsesValidLines", func(t *testing.T) {
		dir := t.TempDir()
		path := writeKeysFile(t, dir, "header_key = "+repeatHex("ab", 0x20)+"\n# a comment\n\nmaster_key_00 = "+repeatHex("cd", 0x10)+"\n")

		k := New()
		require.NoError(t, k.LoadKeysFile(path))

		assert.Equal(t, 0x20, len(k.rawKey("header_key")))
		assert.Equal(t, 0x10, len(k.rawIndexedKey("master_key", 0)))
	})

	t.Run("SkipsMalformedLines", func(t *testing.T) {
		dir := t.TempDir()
		path := writeKeysFile(t, dir, "not_a_key_line\nheader_key = zzzz\nmaster_key_01 = "+repeatHex("11", 0x10)+"\n")

		k := New()
		require.NoError(t, k.LoadKeysFile(path))

		assert.Nil(t, k.rawKey("header_key"))
		assert.NotNil(t, k.rawIndexedKey("master_key", 1))
	})
}

// ============================================================================
// Key Derivation
// ============================================================================

func TestDeriveKeys(t *testing.T) {
	t.Run("DerivesTitleKekAndKeyAreaKeys", func(t *testing.T) {
		masterKey := bytesOf(0x42)
		aesKekGen := bytesOf(0x01)
		aesKeyGen := bytesOf(0x02)
		titlekekSource := bytesOf(0x03)
		kakAppSource := bytesOf(0x04)

		k := New()
		k.raw["master_key_00"] = masterKey
		k.raw["aes_kek_generation_source"] = aesKekGen
		k.raw["aes_key_generation_source"] = aesKeyGen
		k.raw["titlekek_source"] = titlekekSource
		k.raw["key_area_key_application_source"] = kakAppSource

		require.NoError(t, k.DeriveKeys())

		tk, err := k.TitleKek(0)
		require.NoError(t, err)
		assert.Len(t, tk, 16)

		expectedTk, err := crypto.ECBDecrypt(titlekekSource, masterKey)
		require.NoError(t, err)
		assert.Equal(t, expectedTk, tk)

		kak, err := k.KeyAreaKey(0, KeyAreaKeyApplication)
		require.NoError(t, err)
		assert.Len(t, kak, 16)

		_, err = k.KeyAreaKey(0, KeyAreaKeyOcean)
		assert.Error(t, err)
	})

	t.Run("MissingRevisionIsAnError", func(t *testing.T) {
		k := New()
		require.NoError(t, k.DeriveKeys())

		_, err := k.TitleKek(5)
		require.Error(t, err)
		var missing *MissingKeyError
		assert.ErrorAs(t, err, &missing)
	})

	// spec.md §4.5 recognises the derived keys directly by name, with no
	// source-key chain required: a prod.keys carrying only "titlekek_00" and
	// "key_area_key_application_00" must resolve TitleKek/KeyAreaKey lookups
	// exactly as if they'd been derived (scenario 4).
	t.Run("DirectlyNamedKeysNeedNoSourceChain", func(t *testing.T) {
		titlekek00 := bytesOf(0x11)
		kakApp00 := bytesOf(0x22)

		k := New()
		k.raw["titlekek_00"] = titlekek00
		k.raw["key_area_key_application_00"] = kakApp00

		require.NoError(t, k.DeriveKeys())

		tk, err := k.TitleKek(0)
		require.NoError(t, err)
		assert.Equal(t, titlekek00, tk)

		kak, err := k.KeyAreaKey(0, KeyAreaKeyApplication)
		require.NoError(t, err)
		assert.Equal(t, kakApp00, kak)

		_, err = k.KeyAreaKey(0, KeyAreaKeyOcean)
		assert.Error(t, err)
	})

	// When both a source-key derivation and a directly-named key are present
	// for the same revision, the already-derived value wins and the direct
	// entry is left unused.
	t.Run("DerivedValueTakesPriorityOverDirectlyNamed", func(t *testing.T) {
		masterKey := bytesOf(0x42)
		titlekekSource := bytesOf(0x03)
		directTitlekek := bytesOf(0x99)

		k := New()
		k.raw["master_key_00"] = masterKey
		k.raw["titlekek_source"] = titlekekSource
		k.raw["titlekek_00"] = directTitlekek

		require.NoError(t, k.DeriveKeys())

		expectedTk, err := crypto.ECBDecrypt(titlekekSource, masterKey)
		require.NoError(t, err)

		tk, err := k.TitleKek(0)
		require.NoError(t, err)
		assert.Equal(t, expectedTk, tk)
		assert.NotEqual(t, directTitlekek, tk)
	})
}

// ============================================================================
// Title Key Import
// ============================================================================

func TestImportTicketAndLookup(t *testing.T) {
	rightsID := ids.RightsID{0x01, 0x02, 0x03}

	k := New()
	_, err := k.TitleKey(rightsID)
	var missing *MissingTitleKeyError
	require.ErrorAs(t, err, &missing)

	require.NoError(t, k.ImportTicket(rightsID, bytesOf(0xAA)))

	got, err := k.TitleKey(rightsID)
	require.NoError(t, err)
	assert.Equal(t, bytesOf(0xAA), got)
}

func bytesOf(b byte) []byte {
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func repeatHex(pair string, n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}
