package tokenizer

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// loaderCacheSize is the size of the LRU cache for loaded tokenizers.
const loaderCacheSize = 8

// Loader caches constructed tokenizers keyed by name-or-path so repeated
// lookups share one instance.
type Loader struct {
	cache *lru.Cache[string, Tokenizer]
	group singleflight.Group
}

// NewLoader creates a Loader with an empty cache.
func NewLoader() (*Loader, error) {
	cache, err := lru.New[string, Tokenizer](loaderCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer cache: %w", err)
	}
	return &Loader{cache: cache}, nil
}

// Get returns the cached tokenizer for nameOrPath, loading it at most once
// even under concurrent lookups.
func (l *Loader) Get(nameOrPath string) (Tokenizer, error) {
	tok, ok := l.cache.Get(nameOrPath)
	if !ok {
		result, err, shared := l.group.Do(nameOrPath, func() (any, error) {
			return NewWordPiece(nameOrPath)
		})
		if err != nil {
			return nil, err
		}

		tok, ok = result.(Tokenizer)
		if !ok {
			return nil, fmt.Errorf("unexpected tokenizer type from singleflight result")
		}

		if !shared {
			// Only add to cache if this goroutine actually loaded the tokenizer
			l.cache.Add(nameOrPath, tok)
		}
	}
	return tok, nil
}
