// Package crypto implements the signing and hashing primitives used across
// the platform: salted HMAC session tokens, pbkdf2 passcode digests and
// random identifiers.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Signing salts namespace tokens so a value signed for one purpose cannot be
// replayed for another.
const (
	SessionSalt = "session"
	FlashSalt   = "flash"
)

const (
	hashIterations = 600000
	hashAlgorithm  = "pbkdf2_sha256"
	separator      = "--"
)

var ErrBadSignature = errors.New("value signature mismatch")

const alnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomString returns n cryptographically random alphanumeric characters.
func RandomString(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alnum)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("random string: %w", err)
		}
		out[i] = alnum[idx.Int64()]
	}
	return string(out), nil
}

// saltedHMAC derives the signing key as SHA256(salt+secret) and returns
// HMAC-SHA256(key, value).
func saltedHMAC(salt, value, secret string) []byte {
	keySrc := sha256.Sum256([]byte(salt + secret))
	mac := hmac.New(sha256.New, keySrc[:])
	mac.Write([]byte(value))
	return mac.Sum(nil)
}

// SignValue appends a url-safe base64 signature to value:
// "value--base64url(HMAC-SHA256(SHA256(salt+secret), value))".
func SignValue(value, salt, secret string) string {
	sig := base64.RawURLEncoding.EncodeToString(saltedHMAC(salt, value, secret))
	return value + separator + sig
}

// ValidateSignedValue checks a signed token and returns the embedded value.
// Comparison is constant time.
func ValidateSignedValue(signed, salt, secret string) (string, error) {
	idx := strings.LastIndex(signed, separator)
	if idx < 0 {
		return "", ErrBadSignature
	}
	value, sig := signed[:idx], signed[idx+len(separator):]
	expected := base64.RawURLEncoding.EncodeToString(saltedHMAC(salt, value, secret))
	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return "", ErrBadSignature
	}
	return value, nil
}

// HashPasscode derives a pbkdf2 digest in the storable format
// "pbkdf2_sha256$iterations$salt$base64(hash)".
func HashPasscode(passcode string) (string, error) {
	salt, err := RandomString(16)
	if err != nil {
		return "", err
	}
	return hashPasscodeWithSalt(passcode, salt, hashIterations), nil
}

func hashPasscodeWithSalt(passcode, salt string, iterations int) string {
	digest := pbkdf2.Key([]byte(passcode), []byte(salt), iterations, sha256.Size, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s", hashAlgorithm, iterations, salt, base64.StdEncoding.EncodeToString(digest))
}

// VerifyPasscode reports whether passcode matches a stored digest.
func VerifyPasscode(passcode, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 4 || parts[0] != hashAlgorithm {
		return false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations < 1 {
		return false
	}
	expected := hashPasscodeWithSalt(passcode, parts[2], iterations)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(stored)) == 1
}
