package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenRecordExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name    string
		record  *TokenRecord
		expired bool
	}{
		{"nil record", nil, true},
		{"zero expiry", &TokenRecord{AccessToken: "tok"}, true},
		{"future expiry", &TokenRecord{AccessToken: "tok", ExpiresAt: now.Unix() + 1}, false},
		{"past expiry", &TokenRecord{AccessToken: "tok", ExpiresAt: now.Unix() - 1}, true},
		{"exact boundary", &TokenRecord{AccessToken: "tok", ExpiresAt: now.Unix()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, tt.record.Expired(now))
		})
	}
}

func TestTokenRecordUsable(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	live := &TokenRecord{AccessToken: "tok", ExpiresAt: now.Unix() + 60}
	assert.True(t, live.Usable(now))

	noToken := &TokenRecord{ExpiresAt: now.Unix() + 60}
	assert.False(t, noToken.Usable(now))

	stale := &TokenRecord{AccessToken: "tok", ExpiresAt: now.Unix() - 60}
	assert.False(t, stale.Usable(now))

	var nilRec *TokenRecord
	assert.False(t, nilRec.Usable(now))
}

func TestTokenRecordRefreshable(t *testing.T) {
	assert.True(t, (&TokenRecord{RefreshToken: "rt"}).Refreshable())
	assert.False(t, (&TokenRecord{AccessToken: "tok"}).Refreshable())

	var nilRec *TokenRecord
	assert.False(t, nilRec.Refreshable())
}

func TestTokenRecordTypeDefaultsToBearer(t *testing.T) {
	assert.Equal(t, "Bearer", (&TokenRecord{}).Type())
	assert.Equal(t, "mac", (&TokenRecord{TokenType: "mac"}).Type())

	var nilRec *TokenRecord
	assert.Equal(t, "Bearer", nilRec.Type())
}

func TestExpiresAtSubtractsSkew(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	got := expiresAt(now, 3600, 300*time.Second)
	assert.Equal(t, now.Unix()+3600-300, got)
}
