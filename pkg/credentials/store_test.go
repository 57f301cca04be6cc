package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "credentials.db"), zerolog.New(os.Stdout).Level(zerolog.Disabled))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestLatestWithTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when nothing is stored", func(t *testing.T) {
		store := openTestStore(t)

		layer, err := store.LatestWithTokens(ctx, "calendar")
		require.NoError(t, err)
		assert.Nil(t, layer)
	})

	t.Run("most recent record with tokens wins", func(t *testing.T) {
		store := openTestStore(t)
		base := time.Now()

		require.NoError(t, store.Put(ctx, Record{
			ToolName:    "calendar",
			AccessToken: "old",
			UpdatedAt:   base.Add(-time.Hour),
		}))
		require.NoError(t, store.Put(ctx, Record{
			ToolName:     "calendar",
			AccessToken:  "new",
			RefreshToken: "refresh",
			UpdatedAt:    base,
		}))
		// A newer record without tokens must not shadow usable ones
		require.NoError(t, store.Put(ctx, Record{
			ToolName:  "calendar",
			UpdatedAt: base.Add(time.Hour),
		}))

		layer, err := store.LatestWithTokens(ctx, "calendar")
		require.NoError(t, err)
		assert.Equal(t, "new", layer["access_token"])
		assert.Equal(t, "refresh", layer["refresh_token"])
	})

	t.Run("extra fields ride along as configuration", func(t *testing.T) {
		store := openTestStore(t)

		require.NoError(t, store.Put(ctx, Record{
			ToolName:    "payments",
			AccessToken: "tok",
			Extra:       map[string]interface{}{"account_id": "acct_1"},
		}))

		layer, err := store.LatestWithTokens(ctx, "payments")
		require.NoError(t, err)
		assert.Equal(t, "acct_1", layer["account_id"])
		assert.Equal(t, "tok", layer["access_token"])
	})

	t.Run("tools are isolated by name", func(t *testing.T) {
		store := openTestStore(t)

		require.NoError(t, store.Put(ctx, Record{ToolName: "calendar", AccessToken: "tok"}))

		layer, err := store.LatestWithTokens(ctx, "payments")
		require.NoError(t, err)
		assert.Nil(t, layer)
	})
}
