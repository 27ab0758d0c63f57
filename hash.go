package accounts

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/md4"
	"golang.org/x/text/encoding/unicode"
)

// PasswordHasher derives a directory password attribute value from a
// plaintext password.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// SSHAHasher produces salted SHA-1 values for userPassword, in the
// {SSHA}base64(digest+salt) form OpenLDAP expects.
type SSHAHasher struct {
	// saltLength defaults to 8 bytes when zero.
	SaltLength int
}

func (h SSHAHasher) Hash(password string) (string, error) {
	saltLen := h.SaltLength
	if saltLen <= 0 {
		saltLen = 8
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("reading salt: %w", err)
	}
	digest := sha1.New()
	digest.Write([]byte(password))
	digest.Write(salt)
	return "{SSHA}" + base64.StdEncoding.EncodeToString(append(digest.Sum(nil), salt...)), nil
}

// NTHasher produces the NT hash for sambaNTPassword: MD4 over the UTF-16LE
// encoded password, rendered as uppercase hex.
type NTHasher struct{}

func (NTHasher) Hash(password string) (string, error) {
	encoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().String(password)
	if err != nil {
		return "", fmt.Errorf("encoding password: %w", err)
	}
	digest := md4.New()
	digest.Write([]byte(encoded))
	return strings.ToUpper(hex.EncodeToString(digest.Sum(nil))), nil
}

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// randomPassword draws length characters from the alphanumeric alphabet.
func randomPassword(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("reading randomness: %w", err)
	}
	var b strings.Builder
	b.Grow(length)
	for _, c := range raw {
		b.WriteByte(passwordAlphabet[int(c)%len(passwordAlphabet)])
	}
	return b.String(), nil
}
