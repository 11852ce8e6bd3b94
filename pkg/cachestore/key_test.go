package cachestore_test

import (
	"strings"
	"testing"

	"github.com/rainmanjam/social-flood-sub000/pkg/cachestore"
	"github.com/stretchr/testify/assert"
)

func TestBuildKey(t *testing.T) {
	t.Run("insertion order does not change the key", func(t *testing.T) {
		a := cachestore.BuildKey("keyword_ideas", map[string]any{"geo": "US", "lang": "en", "limit": 50})
		b := cachestore.BuildKey("keyword_ideas", map[string]any{"limit": 50, "lang": "en", "geo": "US"})
		assert.Equal(t, a, b)
	})

	t.Run("different params produce different keys", func(t *testing.T) {
		a := cachestore.BuildKey("keyword_ideas", map[string]any{"geo": "US"})
		b := cachestore.BuildKey("keyword_ideas", map[string]any{"geo": "GB"})
		assert.NotEqual(t, a, b)
	})

	t.Run("composite values are canonicalized", func(t *testing.T) {
		a := cachestore.BuildKey("autocomplete", map[string]any{"seeds": []string{"coffee", "tea"}})
		b := cachestore.BuildKey("autocomplete", map[string]any{"seeds": []string{"coffee", "tea"}})
		assert.Equal(t, a, b)
		assert.Contains(t, a, `["coffee","tea"]`)
	})

	t.Run("over-long keys collapse to a fixed-length hash", func(t *testing.T) {
		key := cachestore.BuildKey("transcripts", map[string]any{"ids": strings.Repeat("v", 500)})
		assert.Len(t, key, 64)
	})
}
