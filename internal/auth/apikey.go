package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const apiKeyPrefix = "osc_"

// GenerateAPIKey creates a new API key
// Format: osc_<uuid>_<random_secret>
func GenerateAPIKey() (string, error) {
	id := uuid.New()

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	return fmt.Sprintf("%s%s_%s", apiKeyPrefix, id.String(), secret), nil
}

// ValidateKeyFormat checks if key has correct format
func ValidateKeyFormat(key string) bool {
	if len(key) != len(apiKeyPrefix)+36+1+64 {
		return false
	}
	if !strings.HasPrefix(key, apiKeyPrefix) {
		return false
	}
	_, err := uuid.Parse(key[len(apiKeyPrefix) : len(apiKeyPrefix)+36])
	return err == nil && key[len(apiKeyPrefix)+36] == '_'
}

// cacheKey identifies an already verified key without keeping it in memory
func cacheKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
