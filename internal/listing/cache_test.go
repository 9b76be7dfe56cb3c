package listing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingFetcher(hits *atomic.Int32) FetchFunc[int] {
	return func(ctx context.Context, key string) (int, error) {
		return int(hits.Add(1)), nil
	}
}

func TestCache_ReadThrough(t *testing.T) {
	var hits atomic.Int32
	c := New[int](time.Minute, countingFetcher(&hits))
	defer c.Close()

	v, err := c.Get(context.Background(), "sessions")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = c.Get(context.Background(), "sessions")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCache_Invalidate(t *testing.T) {
	var hits atomic.Int32
	c := New[int](time.Minute, countingFetcher(&hits))
	defer c.Close()

	_, _ = c.Get(context.Background(), "a")
	_, _ = c.Get(context.Background(), "b")
	c.Invalidate()
	assert.Equal(t, 0, c.Len())

	v, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestCache_ErrorsNotCached(t *testing.T) {
	calls := 0
	c := New[int](time.Minute, FetchFunc[int](func(context.Context, string) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("unavailable")
		}
		return 7, nil
	}))
	defer c.Close()

	_, err := c.Get(context.Background(), "k")
	require.Error(t, err)

	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCache_InvalidateDuringFetchDiscardsResult(t *testing.T) {
	var c *Cache[int]
	c = New[int](time.Minute, FetchFunc[int](func(context.Context, string) (int, error) {
		c.Invalidate()
		return 1, nil
	}))
	defer c.Close()

	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 0, c.Len(), "stale fetch must not be stored")
}

func TestCache_Expiry(t *testing.T) {
	var hits atomic.Int32
	c := New[int](20*time.Millisecond, countingFetcher(&hits))
	defer c.Close()

	_, _ = c.Get(context.Background(), "k")
	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/event/recent":
			assert.Equal(t, "secret", r.Header.Get("X-Token"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"type":"foo"},{"type":"bar"}]`))
		default:
			http.Error(w, "missing", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	type item struct {
		Type string `json:"type"`
	}
	f := HTTPFetcher[[]item]{BaseURL: srv.URL + "/", Header: http.Header{"X-Token": {"secret"}}}

	items, err := f.Fetch(context.Background(), "/event/recent")
	require.NoError(t, err)
	assert.Equal(t, []item{{"foo"}, {"bar"}}, items)

	_, err = f.Fetch(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
