// Package keys loads the Nintendo Switch key material (in Hactool's
// "prod.keys" / "title.keys" text format) into a KeySet and derives the
// per-master-key-revision keys NCA parsing needs from it.
package keys

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nxfs/hac-go/pkg/crypto"
	"github.com/nxfs/hac-go/pkg/ids"
)

const numMasterKeys = 32

// KeyAreaKeyIndex selects which of the three key-area-key families an NCA's
// key area was wrapped with.
type KeyAreaKeyIndex uint8

const (
	KeyAreaKeyApplication KeyAreaKeyIndex = 0
	KeyAreaKeyOcean       KeyAreaKeyIndex = 1
	KeyAreaKeySystem      KeyAreaKeyIndex = 2
)

func (k KeyAreaKeyIndex) String() string {
	switch k {
	case KeyAreaKeyApplication:
		return "application"
	case KeyAreaKeyOcean:
		return "ocean"
	case KeyAreaKeySystem:
		return "system"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// KeySet holds every key hac-go needs: raw generation sources loaded from
// disk, keys derived from them per master-key revision, and title keys
// imported from tickets.
type KeySet struct {
	raw map[string][]byte

	headerKey []byte // 0x20 bytes, AES-128-XTS key pair

	titleKek     [numMasterKeys][]byte    // 0x10 bytes each
	keyAreaKey   [numMasterKeys][3][]byte // 0x10 bytes each, indexed by KeyAreaKeyIndex

	titleKeys map[ids.RightsID][]byte // decrypted 0x10-byte title keys
}

// New returns an empty KeySet. Load its raw sources with LoadKeysFile, then
// call DeriveKeys.
func New() *KeySet {
	return &KeySet{
		raw:       make(map[string][]byte),
		titleKeys: make(map[ids.RightsID][]byte),
	}
}

// MissingKeyError is returned when a key a caller needs was never loaded or
// derived (missing from prod.keys, or its generation source was absent).
type MissingKeyError struct {
	Name  string
	Index int // -1 when the key is not indexed by master-key revision
}

func (e *MissingKeyError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("keys: missing key %q", e.Name)
	}
	return fmt.Sprintf("keys: missing key %s_%02x", e.Name, e.Index)
}

// MissingTitleKeyError is returned when a RightsId has no imported ticket.
type MissingTitleKeyError struct {
	RightsID ids.RightsID
}

func (e *MissingTitleKeyError) Error() string {
	return fmt.Sprintf("keys: missing title key for rights id %s", e.RightsID)
}

// LoadKeysFile reads a Hactool-format keys file ("key_name = hexvalue" per
// line, '#' comments) and merges it into the raw source table. Unrecognized
// or malformed lines are skipped rather than treated as fatal: real prod.keys
// files on disk carry many keys hac-go has no use for.
func (k *KeySet) LoadKeysFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		name := strings.TrimSpace(parts[0])
		val, err := hex.DecodeString(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}

		k.raw[name] = val
	}
	return scanner.Err()
}

// LoadTitleKeysFile reads a Hactool-format "title.keys" file: lines of
// "rights_id = title_key_aes128_wrapped_with_common_titlekek", one ticket's
// worth of pre-decrypted or still-wrapped title key material per NCA release
// process. hac-go expects this file's values already be the raw, decrypted
// 16-byte title key (as produced by ImportTicket); this loader exists for
// tooling parity with Hactool's own title.keys convention.
func (k *KeySet) LoadTitleKeysFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		rightsID, err := ids.ParseRightsID(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		key, err := hex.DecodeString(strings.TrimSpace(parts[1]))
		if err != nil || len(key) != 16 {
			continue
		}
		k.titleKeys[rightsID] = key
	}
	return scanner.Err()
}

// LoadSystem searches the conventional locations for prod.keys (and,
// optionally, title.keys) and loads whichever it finds: first
// $XDG_CONFIG_HOME/switch/prod.keys (or ~/.config/switch/prod.keys), then
// ~/.switch/prod.keys. A missing title.keys is not an error — not every NCA
// needs rights-id crypto.
func (k *KeySet) LoadSystem() error {
	home, _ := os.UserHomeDir()
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" && home != "" {
		configHome = filepath.Join(home, ".config")
	}

	var tried []string
	candidates := []string{}
	if configHome != "" {
		candidates = append(candidates, filepath.Join(configHome, "switch", "prod.keys"))
	}
	if home != "" {
		candidates = append(candidates, filepath.Join(home, ".switch", "prod.keys"))
	}

	loaded := false
	for _, p := range candidates {
		tried = append(tried, p)
		if err := k.LoadKeysFile(p); err == nil {
			loaded = true
			break
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	if !loaded {
		return fmt.Errorf("keys: no prod.keys found (tried %s)", strings.Join(tried, ", "))
	}

	titleKeyCandidates := []string{}
	if configHome != "" {
		titleKeyCandidates = append(titleKeyCandidates, filepath.Join(configHome, "switch", "title.keys"))
	}
	if home != "" {
		titleKeyCandidates = append(titleKeyCandidates, filepath.Join(home, ".switch", "title.keys"))
	}
	for _, p := range titleKeyCandidates {
		if err := k.LoadTitleKeysFile(p); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return err
		}
	}

	return k.DeriveKeys()
}

// HeaderKey returns the 32-byte AES-128-XTS header key.
func (k *KeySet) HeaderKey() ([]byte, error) {
	if k.headerKey == nil {
		return nil, &MissingKeyError{Name: "header_key", Index: -1}
	}
	return k.headerKey, nil
}

// TitleKek returns the 16-byte title-KEK for a master-key revision.
func (k *KeySet) TitleKek(revision uint8) ([]byte, error) {
	if int(revision) >= numMasterKeys || k.titleKek[revision] == nil {
		return nil, &MissingKeyError{Name: "titlekek", Index: int(revision)}
	}
	return k.titleKek[revision], nil
}

// KeyAreaKey returns the 16-byte key-area-key for a (revision, family) pair.
func (k *KeySet) KeyAreaKey(revision uint8, family KeyAreaKeyIndex) ([]byte, error) {
	if int(revision) >= numMasterKeys || family > KeyAreaKeySystem || k.keyAreaKey[revision][family] == nil {
		return nil, &MissingKeyError{Name: "key_area_key_" + family.String(), Index: int(revision)}
	}
	return k.keyAreaKey[revision][family], nil
}

// TitleKey returns the decrypted 16-byte title key for a rights id, as
// imported by ImportTicket or LoadTitleKeysFile.
func (k *KeySet) TitleKey(rightsID ids.RightsID) ([]byte, error) {
	key, ok := k.titleKeys[rightsID]
	if !ok {
		return nil, &MissingTitleKeyError{RightsID: rightsID}
	}
	return key, nil
}

// ImportTicket records the decrypted title key from a parsed common ticket.
// The ticket's common-crypto title key block is assumed already decrypted
// (the caller did so via TitleKek, as in pkg/ticket.Ticket.TitleKey).
func (k *KeySet) ImportTicket(rightsID ids.RightsID, titleKey []byte) error {
	if len(titleKey) != 16 {
		return fmt.Errorf("keys: title key must be 16 bytes, got %d", len(titleKey))
	}
	cp := make([]byte, 16)
	copy(cp, titleKey)
	k.titleKeys[rightsID] = cp
	return nil
}

func (k *KeySet) rawKey(name string) []byte { return k.raw[name] }

func (k *KeySet) rawIndexedKey(name string, index int) []byte {
	return k.raw[fmt.Sprintf("%s_%02x", name, index)]
}
