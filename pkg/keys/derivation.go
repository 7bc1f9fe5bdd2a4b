package keys

import (
	"github.com/nxfs/hac-go/pkg/crypto"
)

// generateKek reproduces the Switch's source->kek derivation chain:
// Decrypt(src, Decrypt(kekSeed, masterKey)), optionally re-wrapped by a
// second Decrypt(keySeed, ...) when keySeed is non-nil (used by the
// key-area-key sources, not by title_kek).
func generateKek(src, masterKey, kekSeed, keySeed []byte) ([]byte, error) {
	kek, err := crypto.ECBDecrypt(kekSeed, masterKey)
	if err != nil {
		return nil, err
	}

	srcKek, err := crypto.ECBDecrypt(src, kek)
	if err != nil {
		return nil, err
	}

	if keySeed != nil {
		return crypto.ECBDecrypt(keySeed, srcKek)
	}
	return srcKek, nil
}

// DeriveKeys populates the header key, the per-revision title-KEKs and the
// three per-revision key-area-key families from the raw generation sources
// loaded by LoadKeysFile. It is safe to call again after loading more keys;
// entries for revisions whose master_key_NN is absent are simply skipped,
// which is normal (most keysets only carry the revisions the owner's
// console has actually seen).
//
// A prod.keys file need not carry the source-key chain at all: per
// spec.md §4.5, the derived keys themselves — "titlekek_NN",
// "key_area_key_application_NN", "key_area_key_ocean_NN",
// "key_area_key_system_NN" — are recognised directly, and fill in any
// revision the source-key derivation above left unpopulated.
func (k *KeySet) DeriveKeys() error {
	k.headerKey = k.rawKey("header_key")

	aesKekGen := k.rawKey("aes_kek_generation_source")
	aesKeyGen := k.rawKey("aes_key_generation_source")
	titleKekSource := k.rawKey("titlekek_source")

	keyAreaSources := [3][]byte{
		k.rawKey("key_area_key_application_source"),
		k.rawKey("key_area_key_ocean_source"),
		k.rawKey("key_area_key_system_source"),
	}

	for rev := 0; rev < numMasterKeys; rev++ {
		masterKey := k.rawIndexedKey("master_key", rev)

		if masterKey != nil && titleKekSource != nil {
			if tk, err := crypto.ECBDecrypt(titleKekSource, masterKey); err == nil {
				k.titleKek[rev] = tk
			}
		}

		if masterKey != nil && aesKekGen != nil && aesKeyGen != nil {
			for family := 0; family < 3; family++ {
				if keyAreaSources[family] == nil {
					continue
				}
				if kak, err := generateKek(keyAreaSources[family], masterKey, aesKekGen, aesKeyGen); err == nil {
					k.keyAreaKey[rev][family] = kak
				}
			}
		}

		if k.titleKek[rev] == nil {
			k.titleKek[rev] = k.rawIndexedKey("titlekek", rev)
		}
		for family := 0; family < 3; family++ {
			if k.keyAreaKey[rev][family] != nil {
				continue
			}
			k.keyAreaKey[rev][family] = k.rawIndexedKey("key_area_key_"+KeyAreaKeyIndex(family).String(), rev)
		}
	}

	return nil
}

// DecryptTitleKeyBlock decrypts a ticket's raw 16-byte common-crypto title
// key block with the title-KEK for the given master-key revision.
func (k *KeySet) DecryptTitleKeyBlock(encrypted []byte, revision uint8) ([]byte, error) {
	kek, err := k.TitleKek(revision)
	if err != nil {
		return nil, err
	}
	return crypto.ECBDecrypt(encrypted, kek)
}

// DecryptKeyAreaCTR decrypts the NCA key area's encrypted CTR-mode content
// key with the key-area-key for (revision, family).
func (k *KeySet) DecryptKeyAreaCTR(encrypted []byte, revision uint8, family KeyAreaKeyIndex) ([]byte, error) {
	kak, err := k.KeyAreaKey(revision, family)
	if err != nil {
		return nil, err
	}
	return crypto.ECBDecrypt(encrypted, kak)
}

// DecryptKeyAreaXTS decrypts the NCA key area's encrypted 32-byte XTS
// content key (two concatenated ECB blocks) with the key-area-key for
// (revision, family).
func (k *KeySet) DecryptKeyAreaXTS(encrypted []byte, revision uint8, family KeyAreaKeyIndex) ([]byte, error) {
	kak, err := k.KeyAreaKey(revision, family)
	if err != nil {
		return nil, err
	}
	return crypto.ECBDecrypt(encrypted, kak)
}
