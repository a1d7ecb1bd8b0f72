// Package crypto provides signing-key storage, instruction signing for the
// on-chain venue and HMAC request authentication for the exchange venue.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	// keyFileVersion is the encrypted key file schema version.
	keyFileVersion = 1
)

// keyFile is the on-disk format of an encrypted signing key. Binary fields
// are base64 standard encoded.
type keyFile struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the wallet key comes from. RawPrivateKey wins over
// EncryptedKeyPath.
type KeySource struct {
	// RawPrivateKey is hex, with or without 0x.
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// ErrNoKeySource is returned by LoadKey when neither source is set.
var ErrNoKeySource = errors.New("crypto: no signing key configured")

// EncryptKey seals a hex private key with password (PBKDF2-HMAC-SHA256,
// AES-256-GCM) and returns the JSON key file.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	keyBytes, err := parseKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := keyCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the key as
// hex without 0x.
func DecryptKey(data []byte, password string) (string, error) {
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}

	var salt, nonce, ciphertext []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{{"salt", kf.Salt, &salt}, {"nonce", kf.Nonce, &nonce}, {"ciphertext", kf.Ciphertext, &ciphertext}} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decoding %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := keyCipher(password, salt)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

// LoadKey resolves the wallet key from src.
func LoadKey(src KeySource) (string, error) {
	if src.RawPrivateKey != "" {
		b, err := parseKeyHex(src.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(b), nil
	}
	if src.EncryptedKeyPath != "" {
		data, err := os.ReadFile(src.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading key file: %w", err)
		}
		return DecryptKey(data, src.KeyPassword)
	}
	return "", ErrNoKeySource
}

func parseKeyHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key is not valid hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(b))
	}
	return b, nil
}

func keyCipher(password string, salt []byte) (cipher.AEAD, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
