// Package crypto encodes card fields into fixed size blocks and seals the
// secret field with a PIN keyed block cipher.
package crypto

import (
	"bytes"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"paykiosk/pkg/errors"
	"paykiosk/pkg/models"
)

// DecodeMode controls how block bytes are turned back into text
type DecodeMode int

const (
	// DecodeStrict fails on invalid UTF-8
	DecodeStrict DecodeMode = iota
	// DecodePermissive drops invalid and non-printable runes
	DecodePermissive
)

// ParseDecodeMode maps the configuration value to a DecodeMode
func ParseDecodeMode(s string) (DecodeMode, error) {
	switch s {
	case "", "strict":
		return DecodeStrict, nil
	case "permissive":
		return DecodePermissive, nil
	}
	return DecodeStrict, errors.New(errors.ErrTypeConfig, "DECODE_MODE_INVALID", "unknown decode mode").
		WithContext("mode", s)
}

// EncodeField stores s as UTF-8, zero padded to a full block. Values longer
// than a block are truncated to BlockSize bytes, possibly mid-rune.
func EncodeField(s string) models.Block {
	var b models.Block
	copy(b[:], s)
	return b
}

// DecodeField strips the zero padding and decodes the text
func DecodeField(b models.Block, mode DecodeMode) (string, error) {
	raw := bytes.TrimRight(b[:], "\x00")

	if mode == DecodePermissive {
		return strings.Map(func(r rune) rune {
			if r == utf8.RuneError || !unicode.IsPrint(r) {
				return -1
			}
			return r
		}, string(raw)), nil
	}

	if !utf8.Valid(raw) {
		return "", errors.ErrInvalidFieldEncoding.Clone().
			WithContext("bytes", len(raw))
	}
	return string(raw), nil
}

// CipherFactory builds the block cipher for a PIN
type CipherFactory func(pin string) (BlockCipher, error)

// AESFactory derives an AES-128 key from the PIN with the given settings
func AESFactory(kdf KeyDerivationConfig) CipherFactory {
	deriver := NewSecureKeyDeriver()
	return func(pin string) (BlockCipher, error) {
		key, err := deriver.DeriveKeyWithConfig(pin, &kdf)
		if err != nil {
			return nil, err
		}
		return NewAESBlock(key)
	}
}

// XORFactory uses the PIN bytes directly
func XORFactory() CipherFactory {
	return func(pin string) (BlockCipher, error) {
		return NewXORBlock(pin)
	}
}

// Codec bundles field encoding with the secret cipher. Ciphers are cached
// per PIN because PBKDF2 is slow by construction.
type Codec struct {
	mode      DecodeMode
	newCipher CipherFactory

	mu      sync.Mutex
	ciphers map[string]BlockCipher
}

// NewCodec creates a codec with the given decode leniency and cipher
func NewCodec(mode DecodeMode, factory CipherFactory) *Codec {
	return &Codec{
		mode:      mode,
		newCipher: factory,
		ciphers:   make(map[string]BlockCipher),
	}
}

// NewCodecFromConfig maps the configuration strings onto a Codec
func NewCodecFromConfig(cipherName, decodeMode, salt string, iterations int) (*Codec, error) {
	mode, err := ParseDecodeMode(decodeMode)
	if err != nil {
		return nil, err
	}

	switch cipherName {
	case "", "aes":
		return NewCodec(mode, AESFactory(KeyDerivationConfig{
			Method:     MethodPBKDF2,
			Salt:       salt,
			Iterations: iterations,
			KeyLength:  DefaultKeyLength,
		})), nil
	case "xor":
		return NewCodec(mode, XORFactory()), nil
	}
	return nil, errors.New(errors.ErrTypeConfig, "CIPHER_INVALID", "unknown cipher").
		WithContext("cipher", cipherName)
}

// EncodeField encodes a plain text field
func (c *Codec) EncodeField(s string) models.Block {
	return EncodeField(s)
}

// DecodeField decodes a plain text field with the codec's mode
func (c *Codec) DecodeField(b models.Block) (string, error) {
	return DecodeField(b, c.mode)
}

// SealSecret pads the secret to a block and encrypts it with the PIN
func (c *Codec) SealSecret(secret, pin string) (models.Block, error) {
	bc, err := c.cipherFor(pin)
	if err != nil {
		return models.Block{}, err
	}
	return bc.Encrypt(EncodeField(secret)), nil
}

// OpenSecret decrypts a sealed block with the PIN and decodes the secret
func (c *Codec) OpenSecret(b models.Block, pin string) (string, error) {
	bc, err := c.cipherFor(pin)
	if err != nil {
		return "", err
	}
	secret, err := DecodeField(bc.Decrypt(b), c.mode)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTypeCodec, "SECRET_DECRYPT_FAILED",
			"secret block did not decrypt to text").
			WithUserMessage("The card data is unreadable")
	}
	return secret, nil
}

func (c *Codec) cipherFor(pin string) (BlockCipher, error) {
	if pin == "" {
		return nil, errors.ErrEmptyPIN.Clone()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if bc, ok := c.ciphers[pin]; ok {
		return bc, nil
	}
	bc, err := c.newCipher(pin)
	if err != nil {
		return nil, err
	}
	c.ciphers[pin] = bc
	return bc, nil
}
