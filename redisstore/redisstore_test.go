package redisstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexwatch/models"
)

// Set DEXWATCH_TEST_REDIS=redis://localhost:6379/15 to run against a server
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DEXWATCH_TEST_REDIS")
	if url == "" {
		t.Skip("DEXWATCH_TEST_REDIS not set")
	}

	prefix := fmt.Sprintf("dexwatch-test:%d", time.Now().UnixNano())
	s, err := New(context.Background(), url, prefix)
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, kind := range models.AllFeedKinds {
			s.client.Del(context.Background(), s.key(kind))
		}
		s.Close()
	})
	return s
}

func TestSaveAndLoadSeen(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSeen(ctx, models.TokenBoost, "solana|A|10"))
	require.NoError(t, s.SaveSeen(ctx, models.TokenBoost, "solana|A|10"))
	require.NoError(t, s.SaveSeen(ctx, models.BannerAd, "solana|B|tokenAd|2025-01-01"))

	seen, err := s.LoadSeen(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"solana|A|10"}, seen[models.TokenBoost])
	assert.Equal(t, []string{"solana|B|tokenAd|2025-01-01"}, seen[models.BannerAd])
	assert.NotContains(t, seen, models.PaidOrder)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), "not a url", "")
	assert.Error(t, err)
}

func TestKeysArePerKind(t *testing.T) {
	s := &Store{prefix: DefaultPrefix}
	assert.Equal(t, "dexwatch:seen:boosts", s.key(models.TokenBoost))
	assert.Equal(t, "dexwatch:seen:orders", s.key(models.PaidOrder))
}
