package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

const keyPrefix = "newsledger:v1:"

// Key builds a namespaced cache key from a kind ("digest", "search", ...)
// and the request parameters that determine the response
func Key(kind string, parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return keyPrefix + kind + ":" + hex.EncodeToString(hash[:16])
}

// GetJSON reads and decodes a cached JSON value. A miss or a value that no
// longer decodes reports false.
func GetJSON[T any](c Cache, key string) (T, bool) {
	var value T
	if c == nil {
		return value, false
	}
	data, ok := c.Get(key)
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false
	}
	return value, true
}

// SetJSON encodes and stores value
func SetJSON(c Cache, key string, value any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(key, data, ttl)
}
