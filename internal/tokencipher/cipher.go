// Package tokencipher encrypts session tokens for cookie storage.
//
// Values have the form ivHex:cipherHex, produced by AES-256-CBC with PKCS#7 padding and a fresh
// random IV per encryption. The key is kept in a memguard enclave and is only unsealed for the
// duration of a single operation.
package tokencipher

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/awnumar/memguard"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

const separator = ":"

// ErrMalformedToken is returned by Decrypt for any value it cannot turn back into a token.
var ErrMalformedToken = errors.New("malformed session token")

// Cipher encrypts and decrypts session tokens. It is safe for concurrent use.
type Cipher struct {
	key *memguard.Enclave
}

// New creates a Cipher from an explicit 32-byte key. The caller's slice is left untouched.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher key must be %d bytes, got %d", KeySize, len(key))
	}
	sealed := make([]byte, KeySize)
	copy(sealed, key)
	// NewEnclave wipes sealed after encrypting it into the enclave.
	return &Cipher{key: memguard.NewEnclave(sealed)}, nil
}

// NewRandom creates a Cipher with a key that lives only as long as the process.
// Cookies issued by it cannot be read after a restart.
func NewRandom() *Cipher {
	return &Cipher{key: memguard.NewEnclaveRandom(KeySize)}
}

// ParseKey decodes a hex encoded 32-byte key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode cipher key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// GenerateKeyHex returns a new random key, hex encoded.
func GenerateKeyHex() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate cipher key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt returns ivHex:cipherHex for plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	err := c.withBlock(func(block cipher.Block) {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	})
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(iv) + separator + hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Every failure to parse or unpad matches ErrMalformedToken.
func (c *Cipher) Decrypt(value string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(value, separator)
	if !ok {
		return "", fmt.Errorf("%w: missing separator", ErrMalformedToken)
	}
	if len(ivHex) != hex.EncodedLen(aes.BlockSize) {
		return "", fmt.Errorf("%w: iv must be %d hex characters", ErrMalformedToken, hex.EncodedLen(aes.BlockSize))
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("%w: iv is not hex", ErrMalformedToken)
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not hex", ErrMalformedToken)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d", ErrMalformedToken, len(ct))
	}

	out := make([]byte, len(ct))
	err = c.withBlock(func(block cipher.Block) {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	})
	if err != nil {
		return "", err
	}

	plain, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	// A wrong key occasionally yields valid padding; tokens are always UTF-8 text.
	if !utf8.Valid(plain) {
		return "", fmt.Errorf("%w: plaintext is not utf-8", ErrMalformedToken)
	}
	return string(plain), nil
}

func (c *Cipher) withBlock(fn func(cipher.Block)) error {
	buf, err := c.key.Open()
	if err != nil {
		return fmt.Errorf("open cipher key: %w", err)
	}
	defer buf.Destroy()

	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		return fmt.Errorf("create block cipher: %w", err)
	}
	fn(block)
	return nil
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrMalformedToken)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrMalformedToken)
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrMalformedToken)
		}
	}
	return b[:len(b)-n], nil
}
