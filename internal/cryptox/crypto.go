// Package cryptox implements the at-rest encryption of uploaded files.
//
// Each stored object is a random 16 byte IV followed by the AES-256-CTR
// keystream XOR of the plaintext. The AES key is derived from the per-file
// private key with HKDF-SHA256, so the private key can be any string the
// client picked and is never stored by the server.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/ompldr/server/internal/common"
	"golang.org/x/crypto/hkdf"
)

const (
	// IVSize is the length of the header prepended to every object.
	IVSize = aes.BlockSize

	keySize        = 32
	privateKeySize = 18
	kdfInfo        = "ompldr file encryption"
)

// GeneratePrivateKey returns a fresh private key suitable for a URL path.
func GeneratePrivateKey() (string, error) {
	return common.MakeRandURLString(privateKeySize)
}

// DeriveFileKey stretches privateKey into an AES-256 key.
func DeriveFileKey(privateKey string) ([]byte, error) {
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(privateKey), nil, []byte(kdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive file key: %w", err)
	}
	return key, nil
}

func newStream(privateKey string, iv []byte) (cipher.Stream, error) {
	key, err := DeriveFileKey(privateKey)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}

// EncryptReader returns a reader producing IV || ciphertext of r. Nothing is
// buffered beyond what the caller reads.
func EncryptReader(privateKey string, r io.Reader) (io.Reader, error) {
	iv := common.GenerateRandByteArray(IVSize)
	stream, err := newStream(privateKey, iv)
	if err != nil {
		return nil, err
	}
	return io.MultiReader(
		&ivReader{iv: iv},
		&cipher.StreamReader{S: stream, R: r},
	), nil
}

// DecryptReader consumes the IV header from r and returns a reader of the
// plaintext. A wrong private key is not detected; it yields garbage.
func DecryptReader(privateKey string, r io.Reader) (io.Reader, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(r, iv); err != nil {
		return nil, fmt.Errorf("read iv: %w", err)
	}
	stream, err := newStream(privateKey, iv)
	if err != nil {
		return nil, err
	}
	return &cipher.StreamReader{S: stream, R: r}, nil
}

type ivReader struct {
	iv  []byte
	off int
}

func (r *ivReader) Read(p []byte) (int, error) {
	if r.off >= len(r.iv) {
		return 0, io.EOF
	}
	n := copy(p, r.iv[r.off:])
	r.off += n
	return n, nil
}
