package nca

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nxfs/hac-go/pkg/blocktransform"
	"github.com/nxfs/hac-go/pkg/storage"
)

func TestNewAesCtrSectionStorageDecryptsBackToPlaintext(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i + 1)
	}
	upperCounter := uint64(7)
	sectionStart := uint64(0x4000)

	plain := make([]byte, ctrBlockSize*4)
	for i := range plain {
		plain[i] = byte(i)
	}

	nonce := blocktransform.BaseNonce(upperCounter, sectionStart)
	transform, err := blocktransform.NewAesCtr(key, nonce)
	require.NoError(t, err)

	cipherStorage := storage.NewLinearAdapter(blocktransform.New(storage.NewBlockAdapter(storage.NewVec(append([]byte{}, plain...)), ctrBlockSize), transform))
	ciphertext := make([]byte, len(plain))
	require.NoError(t, cipherStorage.ReadAt(0, ciphertext))

	decrypted, err := newAesCtrSectionStorage(storage.NewVec(ciphertext), key, upperCounter, sectionStart)
	require.NoError(t, err)

	got := make([]byte, len(plain))
	require.NoError(t, decrypted.ReadAt(0, got))
	require.Equal(t, plain, got)
}
