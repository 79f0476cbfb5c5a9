package cachemanager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type ExampleStruct struct {
	ID   int
	Name string
}

func TestNewInMemoryCacheManager(t *testing.T) {
	require.NotPanics(t, func() {
		NewInMemoryCacheManager[string, string]("test", NoExpiration, 0)
	})
}

func TestInMemoryCacheManager_GetExistingValue_StructType(t *testing.T) {
	cache := NewInMemoryCacheManager[string, ExampleStruct]("example-cache", NoExpiration, 0)
	example := ExampleStruct{Name: "apple"}
	cache.Set("ex:1", example, DefaultExpiration)

	got, ok := cache.Get("ex:1")
	require.True(t, ok)
	require.Equal(t, example, got)
}

func TestInMemoryCacheManager_GetWithNoExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("example-cache", NoExpiration, 0)

	got, ok := cache.Get("food")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_GetWithExistingInvalidValueType(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("example-cache", NoExpiration, 0)
	cache.cache.Set("food", 123, DefaultExpiration)

	got, ok := cache.Get("food")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestInMemoryCacheManager_GetMultiple(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("example-cache", NoExpiration, 0)

	got, ok := cache.GetMultiple(nil)
	require.False(t, ok)
	require.Nil(t, got)

	cache.Set("food", "apple", DefaultExpiration)
	cache.Set("drink", "juice", DefaultExpiration)

	got, ok = cache.GetMultiple([]string{"food", "drink", "missing"})
	require.True(t, ok)
	require.Equal(t, map[string]string{"food": "apple", "drink": "juice"}, got)

	got, ok = cache.GetMultiple([]string{"missing"})
	require.False(t, ok)
	require.Nil(t, got)
}

func TestInMemoryCacheManager_DeleteFlushLen(t *testing.T) {
	cache := NewInMemoryCacheManager[string, int]("example-cache", NoExpiration, 0)
	cache.Set("a", 1, DefaultExpiration)
	cache.Set("b", 2, DefaultExpiration)
	cache.Set("c", 3, DefaultExpiration)
	require.Equal(t, 3, cache.Len())

	cache.Delete("a", "b")
	require.Equal(t, 1, cache.Len())
	_, ok := cache.Get("a")
	require.False(t, ok)

	cache.Flush()
	require.Equal(t, 0, cache.Len())
}
