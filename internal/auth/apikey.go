// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// APIKeyPrefix marks promptlab API keys.
const APIKeyPrefix = "pk_"

// apiKeyBytes is the key entropy (256 bits).
const apiKeyBytes = 32

// GenerateAPIKey creates a new random API key "pk_<64 hex chars>".
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cryptographic random generation failed: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(buf), nil
}

// ValidAPIKeyFormat reports whether a key has the expected shape. This is a
// cheap pre-check before the store lookup, not an authenticity check.
func ValidAPIKeyFormat(key string) bool {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return false
	}
	body := key[len(APIKeyPrefix):]
	if len(body) != apiKeyBytes*2 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}

// EqualKeys compares two keys in constant time.
func EqualKeys(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// KeyFingerprint returns a short SHA-256 fingerprint safe for logs.
// SECURITY: never log key material itself.
func KeyFingerprint(key string) string {
	if key == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:4])
}
