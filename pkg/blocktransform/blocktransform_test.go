package blocktransform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxfs/hac-go/pkg/storage"
)

func key16(b byte) []byte {
	k := make([]byte, 16)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestAesCtrTransformReadIsInvolution(t *testing.T) {
	key := key16(0x42)
	nonce := BaseNonce(0x0123456789ABCDEF, 0x200)

	transform, err := NewAesCtr(key, nonce)
	require.NoError(t, err)

	plain := make([]byte, 64)
	for i := range plain {
		plain[i] = byte(i * 7)
	}

	blockIndex := uint64(3)
	cipherBlock := append([]byte(nil), plain[:16]...)
	require.NoError(t, transform.TransformWrite(cipherBlock, blockIndex))
	assert.NotEqual(t, plain[:16], cipherBlock)

	decrypted := append([]byte(nil), cipherBlock...)
	require.NoError(t, transform.TransformRead(decrypted, blockIndex))
	assert.Equal(t, plain[:16], decrypted)
}

func TestAesCtrRejectsUnalignedBuffer(t *testing.T) {
	transform, err := NewAesCtr(key16(0x01), BaseNonce(0, 0))
	require.NoError(t, err)

	err = transform.TransformRead(make([]byte, 17), 0)
	assert.ErrorIs(t, err, storage.ErrUnalignedAccess)
}

func TestBaseNonceLayout(t *testing.T) {
	nonce := BaseNonce(0x0123456789ABCDEF, 0x200)
	assert.Equal(t, []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}, nonce[0:8])
	// sectionStartOffset/16 == 0x200/16 == 0x20
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0x20}, nonce[8:16])
}

func TestStorageAppliesTransformPerBlock(t *testing.T) {
	plain := make([]byte, 32)
	for i := range plain {
		plain[i] = byte(i)
	}

	key := key16(0x99)
	nonce := BaseNonce(0, 0)
	encryptT, err := NewAesCtr(key, nonce)
	require.NoError(t, err)

	cipherBuf := append([]byte(nil), plain...)
	for i := 0; i < len(cipherBuf); i += 16 {
		require.NoError(t, encryptT.TransformWrite(cipherBuf[i:i+16], uint64(i/16)))
	}

	decryptT, err := NewAesCtr(key, nonce)
	require.NoError(t, err)

	s := New(storage.NewBlockAdapter(storage.NewVec(cipherBuf), 16), decryptT)

	buf := make([]byte, 16)
	require.NoError(t, s.ReadBlock(1, buf))
	assert.Equal(t, plain[16:32], buf)
}
