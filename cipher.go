// At-rest encryption for the header body and row payloads.
//
// A user passphrase is lowered to a 256-bit key with Blake2b. Sealing uses
// XChaCha20-Poly1305 with a random 24-byte nonce prepended to the
// ciphertext, so every sealed region is self-contained:
//
//	sealed := nonce[24] | ciphertext | tag[16]
//
// The masking transform in the file layer is obfuscation only; this cipher
// is the actual confidentiality boundary.
package tabfile

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// sealOverhead is the size delta between plaintext and sealed bytes.
const sealOverhead = chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

type cipherKey [32]byte

// deriveKey lowers a passphrase to a fixed-size cipher key.
func deriveKey(passphrase string) *cipherKey {
	sum := blake2b.Sum256([]byte(passphrase))
	key := cipherKey(sum)
	return &key
}

// seal encrypts plain under key, prepending the nonce.
func seal(plain []byte, key *cipherKey) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: cipher init: %w", ErrUnknown, err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plain)+chacha20poly1305.Overhead)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce: %w", ErrUnknown, err)
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

// unseal decrypts bytes produced by seal. Authentication failure (wrong key
// or tampered bytes) surfaces as ErrUnknown with the cipher cause attached.
func unseal(sealed []byte, key *cipherKey) ([]byte, error) {
	if len(sealed) < sealOverhead {
		return nil, fmt.Errorf("%w: sealed region too short (%d bytes)", ErrUnknown, len(sealed))
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: cipher init: %w", ErrUnknown, err)
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt: %w", ErrUnknown, err)
	}
	return plain, nil
}
