package offline

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// KDFParams configures Argon2id hardness values.
type KDFParams struct {
	MemoryMB uint32
	Time     uint32
	Threads  uint8
	KeyLen   uint32
}

// DefaultKDFParams returns defaults reasonable for phones and laptops.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		MemoryMB: 64,
		Time:     2,
		Threads:  1,
		KeyLen:   32,
	}
}

// DeriveStoreKey expands a recovery seed + optional passphrase into the key
// used to seal the local store.
func DeriveStoreKey(seed []byte, passphrase string, params KDFParams) ([32]byte, error) {
	var out [32]byte
	if len(seed) == 0 {
		return out, errors.New("seed required")
	}
	input := append([]byte{}, seed...)
	input = append(input, []byte(passphrase)...)

	mk := argon2.IDKey(
		input,
		[]byte("tasksync:v1:argon2id"),
		params.Time,
		params.MemoryMB*1024,
		params.Threads,
		params.KeyLen,
	)
	defer func() {
		for i := range mk {
			mk[i] = 0
		}
	}()

	r := hkdf.New(sha256.New, mk, nil, []byte("tasksync:v1:store"))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return [32]byte{}, err
	}
	return out, nil
}
