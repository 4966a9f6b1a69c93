package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
)

const presignedURLExpiration = 15 * time.Minute

// slightly less than the presign expiration so we never serve a dead URL
const cacheCleanupInterval = 12 * time.Minute

type URLCacheServiceProvider interface {
	GetReadURL(ctx context.Context, objectKey string) (string, error)
}

// URLCacheService caches presigned read URLs for stored objects (reference
// images, samples, videos) behind a loadable ristretto cache.
type URLCacheService struct {
	cache      *cache.LoadableCache[string]
	bucketName string
}

func NewURLCacheService(awsService AWSServiceProvider, bucketName string) (*URLCacheService, error) {
	ristrettoCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e7,
		MaxCost:     1 << 27,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	ristrettoStore := ristretto_store.NewRistretto(ristrettoCache)

	loadFunction := func(ctx context.Context, key any) (string, []store.Option, error) {
		objectKey, ok := key.(string)
		if !ok {
			return "", nil, fmt.Errorf("invalid key type provided to URL cache: expected string, got %T", key)
		}

		log.Printf("CACHE MISS for key: %s. Generating new presigned URL.", objectKey)
		url, err := awsService.GetPresignedR2FileReadURL(ctx, bucketName, objectKey)
		return url, []store.Option{store.WithExpiration(cacheCleanupInterval)}, err
	}

	loadableCache := cache.NewLoadable[string](
		loadFunction,
		cache.New[string](ristrettoStore),
	)
	return &URLCacheService{
		cache:      loadableCache,
		bucketName: bucketName,
	}, nil
}

func (s *URLCacheService) GetReadURL(ctx context.Context, objectKey string) (string, error) {
	if objectKey == "" {
		return "", nil
	}
	return s.cache.Get(ctx, objectKey)
}
