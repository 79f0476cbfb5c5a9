// Package cachemanager provides a small generic cache abstraction backed by go-cache.
package cachemanager

import "time"

// CacheManager is a keyed cache of typed values.
type CacheManager[K ~string, V any] interface {
	Get(key K) (V, bool)
	GetMultiple(keys []K) (map[K]V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(keys ...K)
	Flush()
	Len() int
}
