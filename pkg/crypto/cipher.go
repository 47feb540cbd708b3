package crypto

import (
	"crypto/aes"
	"crypto/cipher"

	"paykiosk/pkg/errors"
	"paykiosk/pkg/models"
)

// BlockCipher is a deterministic, length preserving transform of exactly
// one card block. Decrypt(Encrypt(b)) == b.
type BlockCipher interface {
	Encrypt(plain models.Block) models.Block
	Decrypt(sealed models.Block) models.Block
}

// AESBlock encrypts the padded block as a single AES-128 block with a key
// derived from the PIN. No IV is stored on the card, so equal secrets
// produce equal blocks.
type AESBlock struct {
	block cipher.Block
}

// NewAESBlock builds the cipher from already derived key material
func NewAESBlock(key []byte) (*AESBlock, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeCodec, "CIPHER_INIT_FAILED",
			"failed to initialise AES").
			WithContext("key_length", len(key))
	}
	return &AESBlock{block: block}, nil
}

// Encrypt implements BlockCipher
func (c *AESBlock) Encrypt(plain models.Block) models.Block {
	var out models.Block
	c.block.Encrypt(out[:], plain[:])
	return out
}

// Decrypt implements BlockCipher
func (c *AESBlock) Decrypt(sealed models.Block) models.Block {
	var out models.Block
	c.block.Decrypt(out[:], sealed[:])
	return out
}

// XORBlock is the repeating-key XOR over the PIN bytes. It obfuscates,
// it does not protect.
type XORBlock struct {
	key []byte
}

// NewXORBlock builds the cipher for a PIN
func NewXORBlock(pin string) (*XORBlock, error) {
	if pin == "" {
		return nil, errors.ErrEmptyPIN.Clone()
	}
	return &XORBlock{key: []byte(pin)}, nil
}

// Encrypt implements BlockCipher
func (c *XORBlock) Encrypt(plain models.Block) models.Block {
	var out models.Block
	for i := range plain {
		out[i] = plain[i] ^ c.key[i%len(c.key)]
	}
	return out
}

// Decrypt implements BlockCipher
func (c *XORBlock) Decrypt(sealed models.Block) models.Block {
	// XOR is its own inverse
	return c.Encrypt(sealed)
}
