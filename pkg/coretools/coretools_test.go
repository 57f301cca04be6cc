package coretools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	catalog := Catalog{}
	ctx := context.Background()

	t.Run("every factory has a catalog definition", func(t *testing.T) {
		for name := range Factories() {
			def, err := catalog.CatalogTool(ctx, name)
			require.NoError(t, err)
			require.NotNil(t, def, "missing definition for %s", name)
			assert.Equal(t, name, def.Name)
			assert.NotEmpty(t, def.Description)
		}
	})

	t.Run("unknown id resolves to nil", func(t *testing.T) {
		def, err := catalog.CatalogTool(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, def)
	})
}

func TestClockTool(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to UTC", func(t *testing.T) {
		tool, err := Factories()["clock"](nil)
		require.NoError(t, err)

		out, err := tool.Execute(ctx, "", map[string]interface{}{})
		require.NoError(t, err)

		data := out.(map[string]interface{})
		assert.Equal(t, "UTC", data["timezone"])

		_, err = time.Parse(time.RFC3339, data["iso"].(string))
		assert.NoError(t, err)
	})

	t.Run("honors timezone param over config", func(t *testing.T) {
		tool, err := Factories()["clock"](map[string]interface{}{"timezone": "UTC"})
		require.NoError(t, err)

		out, err := tool.Execute(ctx, "", map[string]interface{}{"timezone": "Europe/Paris"})
		require.NoError(t, err)
		assert.Equal(t, "Europe/Paris", out.(map[string]interface{})["timezone"])
	})

	t.Run("rejects bad timezone", func(t *testing.T) {
		tool, _ := Factories()["clock"](nil)
		_, err := tool.Execute(ctx, "", map[string]interface{}{"timezone": "Mars/Olympus"})
		assert.Error(t, err)
	})
}

func TestIdentTool(t *testing.T) {
	ctx := context.Background()
	tool, err := Factories()["ident"](nil)
	require.NoError(t, err)

	t.Run("generates requested count and size", func(t *testing.T) {
		out, err := tool.Execute(ctx, "", map[string]interface{}{"count": float64(3), "size": float64(10)})
		require.NoError(t, err)

		ids := out.(map[string]interface{})["ids"].([]string)
		require.Len(t, ids, 3)
		for _, id := range ids {
			assert.Len(t, id, 10)
		}
		assert.NotEqual(t, ids[0], ids[1])
	})

	t.Run("rejects out-of-range count", func(t *testing.T) {
		_, err := tool.Execute(ctx, "", map[string]interface{}{"count": float64(1000)})
		assert.Error(t, err)
	})
}

func TestFetchTool(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches and reports status and body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("hello"))
		}))
		defer server.Close()

		tool, err := newFetchTool(map[string]interface{}{"access_token": "tok-123"})
		require.NoError(t, err)

		out, err := tool.Execute(ctx, "", map[string]interface{}{"url": server.URL})
		require.NoError(t, err)

		data := out.(map[string]interface{})
		assert.Equal(t, http.StatusOK, data["status"])
		assert.Equal(t, "hello", data["body"])
		assert.Equal(t, false, data["truncated"])
	})

	t.Run("truncates at max_bytes", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write(make([]byte, 1000))
		}))
		defer server.Close()

		tool, err := newFetchTool(map[string]interface{}{"max_bytes": float64(100)})
		require.NoError(t, err)

		out, err := tool.Execute(ctx, "", map[string]interface{}{"url": server.URL})
		require.NoError(t, err)

		data := out.(map[string]interface{})
		assert.Len(t, data["body"], 100)
		assert.Equal(t, true, data["truncated"])
	})

	t.Run("rejects non-http urls", func(t *testing.T) {
		tool, err := newFetchTool(nil)
		require.NoError(t, err)

		_, err = tool.Execute(ctx, "", map[string]interface{}{"url": "file:///etc/passwd"})
		assert.Error(t, err)

		_, err = tool.Execute(ctx, "", map[string]interface{}{})
		assert.Error(t, err)
	})
}
