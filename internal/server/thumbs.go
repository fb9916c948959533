package server

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"
)

const thumbCacheLimit = 256

// thumbKey separates the obscured preview of a developing photo from its
// real thumbnail.
type thumbKey struct {
	id       uuid.UUID
	obscured bool
}

// thumbCache keeps encoded thumbnails. Stored images never change, so
// entries only leave through LRU eviction.
type thumbCache struct {
	entries *lru.Cache[thumbKey, []byte]
}

func newThumbCache(limit int) (*thumbCache, error) {
	entries, err := lru.New[thumbKey, []byte](limit)
	if err != nil {
		return nil, err
	}
	return &thumbCache{entries: entries}, nil
}

// get returns the cached thumbnail or builds and stores it. Two concurrent
// misses may both build; the second result wins.
func (c *thumbCache) get(key thumbKey, build func() ([]byte, error)) ([]byte, error) {
	if data, ok := c.entries.Get(key); ok {
		return data, nil
	}
	data, err := build()
	if err != nil {
		return nil, err
	}
	c.entries.Add(key, data)
	return data, nil
}

func (c *thumbCache) len() int {
	return c.entries.Len()
}
