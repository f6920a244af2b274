// Package security implements the one-way password hashing primitive used for
// credential verification.
//
// The canonical stored form is
//
//	pbkdf2$<iterations>$<saltBase64>$<digestBase64>
//
// produced with PBKDF2-HMAC-SHA-256, a 16-byte random salt, and a 256-bit
// derived key. Verification additionally accepts the legacy
// "<iterations>:<saltBase64>:<digestBase64>" form, which predates the tagged
// format and was derived with HMAC-SHA-1; the key length is inferred from the
// stored digest. Digest comparison is constant-time in both paths.
package security

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	prefix = "pbkdf2"

	defaultIterations = 120_000
	saltBytes         = 16
	keyBytes          = 32 // 256-bit derived key
)

// ErrBlankPassword is returned by Hash when the input is empty after trimming.
var ErrBlankPassword = errors.New("password must not be blank")

// Hasher derives and verifies salted password hashes.
// The zero value is not usable; construct with NewHasher.
type Hasher struct {
	iterations int
}

// NewHasher returns a Hasher with the default iteration count.
func NewHasher() *Hasher {
	return &Hasher{iterations: defaultIterations}
}

// NewHasherWithIterations returns a Hasher with a custom iteration count,
// useful to keep tests fast. Values < 1 fall back to the default.
func NewHasherWithIterations(iterations int) *Hasher {
	if iterations < 1 {
		iterations = defaultIterations
	}
	return &Hasher{iterations: iterations}
}

// Hash derives a salted hash of plain and returns it in the canonical
// self-describing form. It fails only when plain is blank.
func (h *Hasher) Hash(plain string) (string, error) {
	if strings.TrimSpace(plain) == "" {
		return "", ErrBlankPassword
	}

	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	dk := pbkdf2.Key([]byte(plain), salt, h.iterations, keyBytes, sha256.New)

	return prefix + "$" +
		strconv.Itoa(h.iterations) + "$" +
		base64.StdEncoding.EncodeToString(salt) + "$" +
		base64.StdEncoding.EncodeToString(dk), nil
}

// Verify reports whether plain matches the stored hash. It recognizes both
// the canonical "pbkdf2$..." form and the legacy "iter:salt:digest" form.
// Malformed input of any kind means "no match"; Verify never panics.
func (h *Hasher) Verify(plain, stored string) bool {
	if plain == "" || strings.TrimSpace(stored) == "" {
		return false
	}
	if strings.HasPrefix(stored, prefix+"$") {
		return verifyCanonical(plain, stored)
	}
	return verifyLegacy(plain, stored)
}

func verifyCanonical(plain, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 4 || parts[0] != prefix {
		return false
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(expected) == 0 {
		return false
	}

	actual := pbkdf2.Key([]byte(plain), salt, iterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

// verifyLegacy handles the pre-tagged "iter:salt:digest" format (HMAC-SHA-1).
func verifyLegacy(plain, stored string) bool {
	parts := strings.Split(stored, ":")
	if len(parts) != 3 {
		return false
	}

	iterations, err := strconv.Atoi(parts[0])
	if err != nil || iterations <= 0 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(expected) == 0 {
		return false
	}

	actual := pbkdf2.Key([]byte(plain), salt, iterations, len(expected), sha1.New)
	return subtle.ConstantTimeCompare(actual, expected) == 1
}
