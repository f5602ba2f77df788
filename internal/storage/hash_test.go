package storage

import (
	"strings"
	"testing"
)

func TestHashAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		apiKey  string
		wantErr bool
	}{
		{
			name:    "standard ciwatch API key",
			apiKey:  apiKeyPrefix + testHexBody,
			wantErr: false,
		},
		{
			name:    "short development key",
			apiKey:  "test-key-123",
			wantErr: false,
		},
		{
			name:    "empty key fails",
			apiKey:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashAPIKey(tt.apiKey)

			if tt.wantErr {
				if err == nil {
					t.Errorf("HashAPIKey(%q) expected error, got nil", tt.apiKey)
				}

				return
			}

			if err != nil {
				t.Errorf("HashAPIKey(%q) unexpected error: %v", tt.apiKey, err)

				return
			}

			if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") {
				t.Errorf("HashAPIKey(%q) = %q, want bcrypt hash", tt.apiKey, hash)
			}

			if hash == tt.apiKey {
				t.Errorf("HashAPIKey(%q) returned the plaintext key", tt.apiKey)
			}
		})
	}
}

func TestHashAPIKeyUniqueness(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	apiKey := apiKeyPrefix + testHexBody

	hash1, err := HashAPIKey(apiKey)
	if err != nil {
		t.Fatalf("HashAPIKey() error: %v", err)
	}

	hash2, err := HashAPIKey(apiKey)
	if err != nil {
		t.Fatalf("HashAPIKey() error: %v", err)
	}

	// bcrypt salts every hash, so hashing the same key twice must differ.
	if hash1 == hash2 {
		t.Errorf("HashAPIKey() produced identical hashes for the same key")
	}
}

func TestCompareAPIKeyHash(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	apiKey := apiKeyPrefix + testHexBody

	hash, err := HashAPIKey(apiKey)
	if err != nil {
		t.Fatalf("HashAPIKey() error: %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		apiKey   string
		expected bool
	}{
		{
			name:     "correct key matches hash",
			hash:     hash,
			apiKey:   apiKey,
			expected: true,
		},
		{
			name:     "wrong key does not match",
			hash:     hash,
			apiKey:   apiKeyPrefix + strings.Repeat("f", 64),
			expected: false,
		},
		{
			name:     "empty key does not match",
			hash:     hash,
			apiKey:   "",
			expected: false,
		},
		{
			name:     "empty hash does not match",
			hash:     "",
			apiKey:   apiKey,
			expected: false,
		},
		{
			name:     "garbage hash does not match",
			hash:     "not-a-bcrypt-hash",
			apiKey:   apiKey,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CompareAPIKeyHash(tt.hash, tt.apiKey)
			if result != tt.expected {
				t.Errorf("CompareAPIKeyHash() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestCompareAPIKeyHashLongKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Keys beyond bcrypt's 72-byte input limit are pre-hashed with SHA-256;
	// the round trip must still verify.
	longKey := apiKeyPrefix + strings.Repeat("ab", 64)

	hash, err := HashAPIKey(longKey)
	if err != nil {
		t.Fatalf("HashAPIKey() error: %v", err)
	}

	if !CompareAPIKeyHash(hash, longKey) {
		t.Errorf("CompareAPIKeyHash() = false for matching long key")
	}

	if CompareAPIKeyHash(hash, longKey+"x") {
		t.Errorf("CompareAPIKeyHash() = true for non-matching long key")
	}
}
