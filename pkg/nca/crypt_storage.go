package nca

import (
	"fmt"

	"github.com/nxfs/hac-go/pkg/blocktransform"
	"github.com/nxfs/hac-go/pkg/storage"
)

// UnimplementedEncryptionError is returned for a section encryption scheme
// this package does not implement (XTS/CTR-EX section bodies, and the
// legacy "Auto" tag).
type UnimplementedEncryptionError struct{ Type NcaEncryptionType }

func (e *UnimplementedEncryptionError) Error() string {
	return fmt.Sprintf("nca: encryption type %d is not implemented for section bodies", e.Type)
}

const ctrBlockSize = 0x10

// newAesCtrSectionStorage wraps a raw section slice with the AES-CTR block
// transform, keying the base nonce from the FS header's upper counter and
// the section's start offset, per the convention shared with the NCZ body.
func newAesCtrSectionStorage(raw storage.ReadableStorage, key []byte, upperCounter, sectionStart uint64) (storage.ReadableStorage, error) {
	blockAdapter := storage.NewBlockAdapter(raw, ctrBlockSize)
	nonce := blocktransform.BaseNonce(upperCounter, sectionStart)
	transform, err := blocktransform.NewAesCtr(key, nonce)
	if err != nil {
		return nil, err
	}
	ctrStorage := blocktransform.New(blockAdapter, transform)
	return storage.NewLinearAdapter(ctrStorage), nil
}
