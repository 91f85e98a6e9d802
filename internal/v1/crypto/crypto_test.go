package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret-key-of-decent-length"

func TestRandomString(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		s, err := RandomString(22)
		require.NoError(t, err)
		assert.Len(t, s, 22)
		for _, r := range s {
			assert.Contains(t, alnum, string(r))
		}
		assert.False(t, seen[s], "random strings should not repeat")
		seen[s] = true
	}
}

func TestSignValueRoundTrip(t *testing.T) {
	signed := SignValue("abc123", SessionSalt, testSecret)
	assert.True(t, strings.HasPrefix(signed, "abc123--"))

	value, err := ValidateSignedValue(signed, SessionSalt, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "abc123", value)
}

func TestSignValueSignatureLength(t *testing.T) {
	// 32-byte HMAC encodes to 43 unpadded url-safe base64 characters.
	signed := SignValue("v", SessionSalt, testSecret)
	parts := strings.SplitN(signed, "--", 2)
	require.Len(t, parts, 2)
	assert.Len(t, parts[1], 43)
	assert.NotContains(t, parts[1], "=")
	assert.NotContains(t, parts[1], "+")
	assert.NotContains(t, parts[1], "/")
}

func TestValidateSignedValue_Tampered(t *testing.T) {
	signed := SignValue("abc123", SessionSalt, testSecret)

	_, err := ValidateSignedValue("xyz"+signed[3:], SessionSalt, testSecret)
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = ValidateSignedValue(signed[:len(signed)-1]+"A", SessionSalt, testSecret)
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = ValidateSignedValue("no-separator-here", SessionSalt, testSecret)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestValidateSignedValue_SaltMismatch(t *testing.T) {
	signed := SignValue("abc123", SessionSalt, testSecret)
	_, err := ValidateSignedValue(signed, FlashSalt, testSecret)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestValidateSignedValue_ValueContainsSeparator(t *testing.T) {
	signed := SignValue("a--b--c", SessionSalt, testSecret)
	value, err := ValidateSignedValue(signed, SessionSalt, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "a--b--c", value)
}

func TestHashPasscode(t *testing.T) {
	stored, err := HashPasscode("#secret1")
	require.NoError(t, err)

	parts := strings.Split(stored, "$")
	require.Len(t, parts, 4)
	assert.Equal(t, "pbkdf2_sha256", parts[0])
	assert.Equal(t, "600000", parts[1])

	assert.True(t, VerifyPasscode("#secret1", stored))
	assert.False(t, VerifyPasscode("#secret2", stored))
	assert.False(t, VerifyPasscode("#secret1", "garbage"))
	assert.False(t, VerifyPasscode("#secret1", "md5$1$salt$hash"))
}
