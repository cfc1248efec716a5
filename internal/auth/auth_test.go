// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"), "hash should use encoded argon2id format")

	ok, err := VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPasswordUniqueSalts(t *testing.T) {
	h1, err := HashPassword("same password")
	require.NoError(t, err)
	h2, err := HashPassword("same password")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2, "same password must produce different hashes")
}

func TestHashPasswordTooShort(t *testing.T) {
	_, err := HashPassword("short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	for _, bad := range []string{
		"",
		"plaintext",
		"$bcrypt$whatever",
		"$argon2id$v=19$m=65536,t=3,p=4$notbase64!!$alsonot",
	} {
		_, err := VerifyPassword("anything", bad)
		assert.ErrorIs(t, err, ErrInvalidHash, "hash %q", bad)
	}
}

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, ValidAPIKeyFormat(key), "generated key %q should be valid", key)

	other, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestValidAPIKeyFormat(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"", false},
		{"pk_", false},
		{"sk-or-abc123", false},
		{"pk_" + strings.Repeat("z", 64), false}, // not hex
		{"pk_" + strings.Repeat("ab", 32), true},
		{"pk_" + strings.Repeat("ab", 16), false}, // too short
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidAPIKeyFormat(tt.key), "key %q", tt.key)
	}
}

func TestEqualKeys(t *testing.T) {
	assert.True(t, EqualKeys("pk_abc", "pk_abc"))
	assert.False(t, EqualKeys("pk_abc", "pk_abd"))
	assert.False(t, EqualKeys("pk_abc", "pk_abcd"))
}

func TestKeyFingerprintNeverExposesKey(t *testing.T) {
	key := "pk_" + strings.Repeat("ab", 32)
	fp := KeyFingerprint(key)
	assert.Len(t, fp, 8)
	assert.NotContains(t, key, fp+fp) // fingerprint is a hash, not a substring scheme
	assert.Equal(t, "none", KeyFingerprint(""))
}
