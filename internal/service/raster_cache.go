package service

import (
	"image"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RasterCache keeps the most recently rendered page rasters of one viewer.
// Evicted pages keep their handle and text layer and re-render on revisit.
type RasterCache struct {
	cache *lru.Cache[int, *image.RGBA]
}

// NewRasterCache creates a cache holding up to size rasters.
func NewRasterCache(size int) (*RasterCache, error) {
	if size < 1 {
		size = 1
	}
	c, err := lru.New[int, *image.RGBA](size)
	if err != nil {
		return nil, err
	}
	return &RasterCache{cache: c}, nil
}

// Put stores the raster for page.
func (c *RasterCache) Put(page int, img *image.RGBA) {
	c.cache.Add(page, img)
}

// Get returns the raster for page and marks it recently used.
func (c *RasterCache) Get(page int) (*image.RGBA, bool) {
	return c.cache.Get(page)
}

// Contains reports presence without touching recency.
func (c *RasterCache) Contains(page int) bool {
	return c.cache.Contains(page)
}

// Release drops the raster for page.
func (c *RasterCache) Release(page int) {
	c.cache.Remove(page)
}

// Purge drops every raster.
func (c *RasterCache) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached rasters.
func (c *RasterCache) Len() int {
	return c.cache.Len()
}
