// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// cipherKey is one of the two AES key/IV pairs a publisher issues with
// UpdateCipherKeys. Data packets select a pair with the cipher index
// flag and are AES-CBC encrypted with PKCS#7 padding.
type cipherKey struct {
	block cipher.Block
	iv    []byte
}

func newCipherKey(key, iv []byte) (*cipherKey, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher key: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("cipher IV is %d bytes, want %d", len(iv), aes.BlockSize)
	}
	return &cipherKey{block: block, iv: bytes.Clone(iv)}, nil
}

var errCipherPadding = errors.New("invalid cipher padding")

// decrypt returns the plaintext of an encrypted data packet body.
func (k *cipherKey) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the %d-byte block size", len(ciphertext), aes.BlockSize)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(k.block, k.iv).CryptBlocks(plaintext, ciphertext)

	padding := int(plaintext[len(plaintext)-1])
	if padding == 0 || padding > aes.BlockSize {
		return nil, errCipherPadding
	}
	for _, b := range plaintext[len(plaintext)-padding:] {
		if int(b) != padding {
			return nil, errCipherPadding
		}
	}
	return plaintext[:len(plaintext)-padding], nil
}

// encrypt is the inverse of decrypt. The subscriber never encrypts;
// this exists for publisher-side test fixtures.
func (k *cipherKey) encrypt(plaintext []byte) []byte {
	padding := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(bytes.Clone(plaintext), bytes.Repeat([]byte{byte(padding)}, padding)...)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(k.block, k.iv).CryptBlocks(ciphertext, padded)
	return ciphertext
}
