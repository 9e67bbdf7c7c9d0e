package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsStableRegardlessOfParamOrder(t *testing.T) {
	a := Key("kubectl_get_pods", map[string]any{"namespace": "default", "label": "app=web"})
	b := Key("kubectl_get_pods", map[string]any{"label": "app=web", "namespace": "default"})
	assert.Equal(t, a, b)
}

func TestKeyDiffersByToolName(t *testing.T) {
	params := map[string]any{"namespace": "default"}
	assert.NotEqual(t, Key("kubectl_get_pods", params), Key("kubectl_get_events", params))
}

func TestSetThenGetRoundTrips(t *testing.T) {
	c, err := New(8, time.Minute)
	require.NoError(t, err)
	key := Key("kubectl_get_pods", map[string]any{})
	c.Set(key, []byte(`[{"name":"pod-a"}]`))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, `[{"name":"pod-a"}]`, string(got))
}

func TestGetExpiresAfterTTL(t *testing.T) {
	c, err := New(8, time.Millisecond)
	require.NoError(t, err)
	key := Key("kubectl_get_pods", map[string]any{})
	c.Set(key, []byte(`[]`))

	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c, err := New(8, time.Minute)
	require.NoError(t, err)
	key := Key("kubectl_get_pods", map[string]any{})
	c.Set(key, []byte(`[]`))
	c.Invalidate(key)

	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestClearEmptiesCache(t *testing.T) {
	c, err := New(8, time.Minute)
	require.NoError(t, err)
	c.Set(Key("a", nil), []byte(`1`))
	c.Set(Key("b", nil), []byte(`2`))
	c.Clear()

	_, ok := c.Get(Key("a", nil))
	assert.False(t, ok)
}
