// Package identity turns internal numeric file ids into opaque URL-safe
// tokens and back.
//
// Tokens are AES-CBC encryptions of the id's decimal form under a fixed key
// and IV, so the same id always yields the same token and tokens stay valid
// across restarts as long as the key material is unchanged.
package identity

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/ompldr/server/internal/common"
)

type Codec struct {
	block cipher.Block
	iv    []byte
}

// NewCodec accepts an AES key of 16, 24 or 32 bytes and a 16 byte IV.
func NewCodec(key, iv []byte) (*Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("identity key: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("identity iv must be %d bytes, got %d", block.BlockSize(), len(iv))
	}
	return &Codec{block: block, iv: bytes.Clone(iv)}, nil
}

func (c *Codec) Encode(id uint64) string {
	plain := pad([]byte(strconv.FormatUint(id, 10)), c.block.BlockSize())
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, plain)
	return base64.RawURLEncoding.EncodeToString(out)
}

// Decode reverses Encode. Anything that did not come out of Encode with the
// same key material yields common.ErrInvalidToken.
func (c *Codec) Decode(token string) (uint64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return 0, common.ErrInvalidToken
	}
	bs := c.block.BlockSize()
	if len(raw) == 0 || len(raw)%bs != 0 {
		return 0, common.ErrInvalidToken
	}

	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(plain, raw)

	plain, ok := unpad(plain, bs)
	if !ok {
		return 0, common.ErrInvalidToken
	}
	id, err := strconv.ParseUint(string(plain), 10, 64)
	if err != nil {
		return 0, common.ErrInvalidToken
	}
	return id, nil
}

// pad applies PKCS#7 padding.
func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, false
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
